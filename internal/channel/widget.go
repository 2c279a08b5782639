package channel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"omnidesk.app/core/internal/model"
)

// WidgetAdapter handles the first-party web chat widget. Requests are
// authenticated by a session token minted at widget boot, which the
// HTTP layer validates against the session cache before the adapter
// ever sees the payload.
type WidgetAdapter struct{}

func NewWidgetAdapter() *WidgetAdapter { return &WidgetAdapter{} }

func (a *WidgetAdapter) Platform() model.Platform { return model.PlatformWidget }

// VerifySignature checks structural shape only; session authentication
// happens upstream where the cache is available.
func (a *WidgetAdapter) VerifySignature(creds model.Credentials, body []byte, headers http.Header) bool {
	var probe struct {
		VisitorID string `json:"visitor_id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.VisitorID != ""
}

type widgetPayload struct {
	MessageID string `json:"message_id"`
	VisitorID string `json:"visitor_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Body      string `json:"body"`
	PageURL   string `json:"page_url"`
}

func (a *WidgetAdapter) Normalize(conn *model.ChannelConnection, body []byte) (*InboundMessage, error) {
	var p widgetPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode widget payload: %w", err)
	}
	text := strings.TrimSpace(p.Body)
	if p.VisitorID == "" || text == "" {
		return nil, nil
	}

	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		email = SyntheticEmail(p.VisitorID, model.PlatformWidget)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "Visitor " + p.VisitorID
	}

	return &InboundMessage{
		Platform:          model.PlatformWidget,
		ExternalMessageID: p.MessageID,
		ExternalThreadKey: p.VisitorID,
		SenderExternalID:  p.VisitorID,
		SenderDisplayName: name,
		SenderEmail:       email,
		Body:              text,
		ReplyTarget: map[string]string{
			"visitor_id": p.VisitorID,
		},
		RawMetadata: map[string]string{
			"widget_page_url": p.PageURL,
		},
	}, nil
}
