package sender

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"omnidesk.app/core/internal/model"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

type TwilioSender struct {
	httpClient *http.Client
	baseURL    string
}

func NewTwilioSender(httpClient *http.Client) *TwilioSender {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &TwilioSender{httpClient: httpClient, baseURL: twilioAPIBase}
}

func (s *TwilioSender) Platform() model.Platform { return model.PlatformSMS }

// Send posts to the Twilio Messages API. The account SID rides in the
// connection metadata (merged into Target by the relay); the auth token
// comes from the credential blob.
func (s *TwilioSender) Send(ctx context.Context, creds model.Credentials, req Request) error {
	if creds.AuthToken == "" {
		return fmt.Errorf("missing twilio auth token")
	}
	if err := requireTarget(req, "to", "from", "account_sid"); err != nil {
		return err
	}
	accountSID := req.Target["account_sid"]

	form := url.Values{
		"To":   {req.Target["to"]},
		"From": {req.Target["from"]},
		"Body": {req.Text},
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(accountSID, creds.AuthToken)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twilio send failed: status %d: %s", resp.StatusCode, b)
	}
	return nil
}
