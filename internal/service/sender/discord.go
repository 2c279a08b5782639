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

const discordAPIBase = "https://discord.com/api/v10"

type DiscordSender struct {
	httpClient *http.Client
	baseURL    string
}

func NewDiscordSender(httpClient *http.Client) *DiscordSender {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &DiscordSender{httpClient: httpClient, baseURL: discordAPIBase}
}

func (s *DiscordSender) Platform() model.Platform { return model.PlatformDiscord }

func (s *DiscordSender) Send(ctx context.Context, creds model.Credentials, req Request) error {
	if creds.BotToken == "" {
		return fmt.Errorf("missing discord bot token")
	}
	if err := requireTarget(req, "channel_id"); err != nil {
		return err
	}

	payload := map[string]any{"content": req.Text}
	if msgID := req.Target["message_id"]; msgID != "" {
		payload["message_reference"] = map[string]any{
			"message_id":        msgID,
			"fail_if_not_exists": false,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling discord payload: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", s.baseURL, req.Target["channel_id"])
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bot "+creds.BotToken)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord send failed: status %d: %s", resp.StatusCode, b)
	}
	return nil
}
