package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"omnidesk.app/core/internal/model"
)

type MetaAdapter struct{}

func NewMetaAdapter() *MetaAdapter { return &MetaAdapter{} }

func (a *MetaAdapter) Platform() model.Platform { return model.PlatformMeta }

// VerifySignature checks Meta's X-Hub-Signature-256 header: hex
// HMAC-SHA256 of the raw body keyed with the app secret, prefixed
// "sha256=".
func (a *MetaAdapter) VerifySignature(creds model.Credentials, body []byte, headers http.Header) bool {
	if creds.AppSecret == "" {
		return false
	}
	sig := headers.Get("X-Hub-Signature-256")
	if !strings.HasPrefix(sig, "sha256=") {
		return false
	}

	mac := hmac.New(sha256.New, []byte(creds.AppSecret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// VerifyChallenge handles the subscription handshake: when the verify
// token matches, the caller must echo the challenge back verbatim.
func (a *MetaAdapter) VerifyChallenge(creds model.Credentials, mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || creds.VerifyToken == "" {
		return "", false
	}
	if hmac.Equal([]byte(token), []byte(creds.VerifyToken)) {
		return challenge, true
	}
	return "", false
}

type metaEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Message *struct {
				MID    string `json:"mid"`
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

func (a *MetaAdapter) Normalize(conn *model.ChannelConnection, body []byte) (*InboundMessage, error) {
	var env metaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode meta event: %w", err)
	}
	for _, entry := range env.Entry {
		for _, m := range entry.Messaging {
			if m.Message == nil || m.Message.IsEcho {
				continue
			}
			text := strings.TrimSpace(m.Message.Text)
			if text == "" || m.Sender.ID == "" {
				continue
			}
			return &InboundMessage{
				Platform:          model.PlatformMeta,
				ExternalMessageID: m.Message.MID,
				ExternalThreadKey: m.Sender.ID,
				SenderExternalID:  m.Sender.ID,
				SenderDisplayName: m.Sender.ID,
				SenderEmail:       SyntheticEmail(m.Sender.ID, model.PlatformMeta),
				Body:              text,
				ReplyTarget: map[string]string{
					"recipient_id": m.Sender.ID,
				},
				RawMetadata: map[string]string{
					"meta_object": env.Object,
				},
			}, nil
		}
	}
	return nil, nil
}
