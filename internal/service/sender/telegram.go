package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"omnidesk.app/core/internal/model"
)

const telegramAPIBase = "https://api.telegram.org"

type TelegramSender struct {
	httpClient *http.Client
	baseURL    string
}

func NewTelegramSender(httpClient *http.Client) *TelegramSender {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &TelegramSender{httpClient: httpClient, baseURL: telegramAPIBase}
}

func (s *TelegramSender) Platform() model.Platform { return model.PlatformTelegram }

func (s *TelegramSender) Send(ctx context.Context, creds model.Credentials, req Request) error {
	if creds.BotToken == "" {
		return fmt.Errorf("missing telegram bot token")
	}
	if err := requireTarget(req, "chat_id"); err != nil {
		return err
	}

	payload := map[string]any{
		"chat_id": req.Target["chat_id"],
		"text":    req.Text,
	}
	if len(req.QuickReplies) > 0 {
		var row []map[string]string
		for _, qr := range req.QuickReplies {
			row = append(row, map[string]string{"text": qr})
		}
		payload["reply_markup"] = map[string]any{
			"keyboard":          []any{row},
			"one_time_keyboard": true,
			"resize_keyboard":   true,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, creds.BotToken)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding telegram response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram send failed: %s", result.Description)
	}
	return nil
}
