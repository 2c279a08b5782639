package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"omnidesk.app/core/internal/model"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

type SlackSender struct {
	httpClient *http.Client
	baseURL    string
}

func NewSlackSender(httpClient *http.Client) *SlackSender {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &SlackSender{httpClient: httpClient, baseURL: slackPostMessageURL}
}

func (s *SlackSender) Platform() model.Platform { return model.PlatformSlack }

func (s *SlackSender) Send(ctx context.Context, creds model.Credentials, req Request) error {
	if err := requireTarget(req, "channel"); err != nil {
		return err
	}

	payload := map[string]any{
		"channel": req.Target["channel"],
		"text":    req.Text,
	}
	if ts := req.Target["thread_ts"]; ts != "" {
		payload["thread_ts"] = ts
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling slack payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	// Slack returns 200 with ok=false on API-level errors.
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding slack response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slack post failed: %s", result.Error)
	}
	return nil
}
