package channel

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"omnidesk.app/core/internal/model"
)

type DiscordAdapter struct{}

func NewDiscordAdapter() *DiscordAdapter { return &DiscordAdapter{} }

func (a *DiscordAdapter) Platform() model.Platform { return model.PlatformDiscord }

// VerifySignature checks Discord's Ed25519 request signing: the
// signature covers timestamp concatenated with the raw body, against
// the application's public key.
func (a *DiscordAdapter) VerifySignature(creds model.Credentials, body []byte, headers http.Header) bool {
	if creds.PublicKey == "" {
		return false
	}
	sigHex := headers.Get("X-Signature-Ed25519")
	ts := headers.Get("X-Signature-Timestamp")
	if sigHex == "" || ts == "" {
		return false
	}

	pub, err := hex.DecodeString(creds.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	signed := make([]byte, 0, len(ts)+len(body))
	signed = append(signed, ts...)
	signed = append(signed, body...)
	return ed25519.Verify(ed25519.PublicKey(pub), signed, sig)
}

type discordMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
}

func (a *DiscordAdapter) Normalize(conn *model.ChannelConnection, body []byte) (*InboundMessage, error) {
	var msg discordMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode discord message: %w", err)
	}
	if msg.ID == "" || msg.ChannelID == "" || msg.Author.ID == "" {
		return nil, nil
	}
	if msg.Author.Bot {
		return nil, nil
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil, nil
	}

	return &InboundMessage{
		Platform:          model.PlatformDiscord,
		ExternalMessageID: msg.ID,
		ExternalThreadKey: msg.ChannelID + ":" + msg.Author.ID,
		SenderExternalID:  msg.Author.ID,
		SenderDisplayName: msg.Author.Username,
		SenderEmail:       SyntheticEmail(msg.Author.ID, model.PlatformDiscord),
		Body:              content,
		ReplyTarget: map[string]string{
			"channel_id": msg.ChannelID,
			"message_id": msg.ID,
		},
	}, nil
}
