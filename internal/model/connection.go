package model

import "time"

// Platform identifies an inbound/outbound channel type.
type Platform string

const (
	PlatformSlack    Platform = "slack"
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
	PlatformSMS      Platform = "sms"
	PlatformMeta     Platform = "meta"
	PlatformEmail    Platform = "email"
	PlatformWidget   Platform = "widget"
)

// ChannelConnection binds one organization to one platform account.
// Credentials are stored encrypted; SyncCursor is the watermark for
// polling-based channels (email history id, telegram update offset).
type ChannelConnection struct {
	ID                   int64             `json:"id"`
	OrganizationID       int64             `json:"organization_id"`
	Platform             Platform          `json:"platform"`
	EncryptedCredentials []byte            `json:"-"` // never expose secrets in API
	IsActive             bool              `json:"is_active"`
	SyncCursor           *string           `json:"sync_cursor,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"` // team/guild/bot identifiers
	LastSyncedAt         *time.Time        `json:"last_synced_at,omitempty"`
	FlaggedAt            *time.Time        `json:"flagged_at,omitempty"` // set on permanent credential failure
	FlagReason           *string           `json:"flag_reason,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// Credentials is the decrypted secret blob for a connection. Field use
// varies per platform; unused fields stay empty.
type Credentials struct {
	AccessToken   string     `json:"access_token,omitempty"`
	RefreshToken  string     `json:"refresh_token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	SigningSecret string     `json:"signing_secret,omitempty"` // slack request signing
	PublicKey     string     `json:"public_key,omitempty"`     // discord ed25519 verify key
	BotToken      string     `json:"bot_token,omitempty"`      // telegram
	AuthToken     string     `json:"auth_token,omitempty"`     // twilio
	AppSecret     string     `json:"app_secret,omitempty"`     // meta
	VerifyToken   string     `json:"verify_token,omitempty"`   // meta subscription handshake
}
