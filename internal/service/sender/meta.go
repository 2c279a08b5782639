package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"omnidesk.app/core/internal/model"
)

const metaAPIBase = "https://graph.facebook.com/v19.0"

type MetaSender struct {
	httpClient *http.Client
	baseURL    string
}

func NewMetaSender(httpClient *http.Client) *MetaSender {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &MetaSender{httpClient: httpClient, baseURL: metaAPIBase}
}

func (s *MetaSender) Platform() model.Platform { return model.PlatformMeta }

func (s *MetaSender) Send(ctx context.Context, creds model.Credentials, req Request) error {
	if creds.AccessToken == "" {
		return fmt.Errorf("missing meta access token")
	}
	if err := requireTarget(req, "recipient_id"); err != nil {
		return err
	}

	message := map[string]any{"text": req.Text}
	if len(req.QuickReplies) > 0 {
		var qrs []map[string]string
		for _, qr := range req.QuickReplies {
			qrs = append(qrs, map[string]string{
				"content_type": "text",
				"title":        qr,
				"payload":      qr,
			})
		}
		message["quick_replies"] = qrs
	}

	payload := map[string]any{
		"recipient":      map[string]string{"id": req.Target["recipient_id"]},
		"message":        message,
		"messaging_type": "RESPONSE",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling meta payload: %w", err)
	}

	url := fmt.Sprintf("%s/me/messages?access_token=%s", s.baseURL, creds.AccessToken)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("meta send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("meta send failed: status %d: %s", resp.StatusCode, b)
	}
	return nil
}
