package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"omnidesk.app/core/common/logger"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/store"
)

// refreshSkew triggers an opportunistic refresh this long before the
// access token actually expires.
const refreshSkew = 5 * time.Minute

// Refresher exchanges a refresh token for fresh credentials. Token
// acquisition itself is an external collaborator; the core only calls
// through this interface.
type Refresher interface {
	Refresh(ctx context.Context, platform model.Platform, creds model.Credentials) (model.Credentials, error)
}

// CredentialService encrypts credential blobs at rest and resolves the
// decrypted credentials for a connection, refreshing opportunistically
// when a refresh flow exists.
type CredentialService struct {
	aead        cipher.AEAD
	connections store.ConnectionStore
	refresher   Refresher
	now         func() time.Time
}

func NewCredentialService(hexKey string, connections store.ConnectionStore, refresher Refresher) (*CredentialService, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding credentials encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credentials encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}

	return &CredentialService{
		aead:        aead,
		connections: connections,
		refresher:   refresher,
		now:         time.Now,
	}, nil
}

// Encrypt seals a credential blob with AES-GCM. The nonce is prepended
// to the ciphertext.
func (s *CredentialService) Encrypt(creds model.Credentials) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("marshaling credentials: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *CredentialService) Decrypt(blob []byte) (model.Credentials, error) {
	if len(blob) < s.aead.NonceSize() {
		return model.Credentials{}, fmt.Errorf("credential blob too short")
	}

	nonce, ciphertext := blob[:s.aead.NonceSize()], blob[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("opening credential blob: %w", err)
	}

	var creds model.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return model.Credentials{}, fmt.Errorf("unmarshaling credentials: %w", err)
	}
	return creds, nil
}

// Resolve decrypts a connection's credentials and refreshes them when
// the access token is near expiry and a refresh flow exists. Refresh
// failure degrades to the existing token rather than aborting: the
// pending send still gets its chance.
func (s *CredentialService) Resolve(ctx context.Context, conn *model.ChannelConnection) (model.Credentials, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConnectionID: &conn.ID,
		Component:    "core.service.credentials",
	})

	creds, err := s.Decrypt(conn.EncryptedCredentials)
	if err != nil {
		return model.Credentials{}, err
	}

	if !s.needsRefresh(creds) || s.refresher == nil {
		return creds, nil
	}

	refreshed, err := s.refresher.Refresh(ctx, conn.Platform, creds)
	if err != nil {
		slog.WarnContext(ctx, "credential refresh failed, using existing token",
			"error", err,
			"platform", conn.Platform)
		return creds, nil
	}

	blob, err := s.Encrypt(refreshed)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("re-encrypting refreshed credentials: %w", err)
	}
	if err := s.connections.UpdateCredentials(ctx, conn.ID, blob); err != nil {
		slog.WarnContext(ctx, "failed to persist refreshed credentials", "error", err)
	}
	conn.EncryptedCredentials = blob

	slog.InfoContext(ctx, "credentials refreshed", "platform", conn.Platform)
	return refreshed, nil
}

func (s *CredentialService) needsRefresh(creds model.Credentials) bool {
	if creds.RefreshToken == "" || creds.ExpiresAt == nil {
		return false
	}
	return s.now().Add(refreshSkew).After(*creds.ExpiresAt)
}

// FlagConnection records a permanent credential failure. The connection
// stays readable so admins can see what broke, but polling and delivery
// skip flagged connections.
func (s *CredentialService) FlagConnection(ctx context.Context, connID int64, reason string) {
	if err := s.connections.Flag(ctx, connID, reason); err != nil {
		slog.ErrorContext(ctx, "failed to flag connection",
			"error", err,
			"connection_id", connID,
			"reason", reason)
	}
}
