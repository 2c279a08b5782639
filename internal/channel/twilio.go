package channel

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"omnidesk.app/core/internal/model"
)

// RequestURLHeader carries the externally visible request URL into
// signature verification for schemes that sign over it. The webhook
// handler reconstructs it from the inbound request before dispatching.
const RequestURLHeader = "X-Omnidesk-Request-Url"

type TwilioAdapter struct{}

func NewTwilioAdapter() *TwilioAdapter { return &TwilioAdapter{} }

func (a *TwilioAdapter) Platform() model.Platform { return model.PlatformSMS }

// VerifySignature implements Twilio's scheme: base64 HMAC-SHA1 over the
// full request URL followed by every POST parameter's key and value in
// sorted key order, keyed with the account auth token.
func (a *TwilioAdapter) VerifySignature(creds model.Credentials, body []byte, headers http.Header) bool {
	if creds.AuthToken == "" {
		return false
	}
	sig := headers.Get("X-Twilio-Signature")
	reqURL := headers.Get(RequestURLHeader)
	if sig == "" || reqURL == "" {
		return false
	}

	params, err := url.ParseQuery(string(body))
	if err != nil {
		return false
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(reqURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(creds.AuthToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (a *TwilioAdapter) Normalize(conn *model.ChannelConnection, body []byte) (*InboundMessage, error) {
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode twilio form: %w", err)
	}
	from := params.Get("From")
	to := params.Get("To")
	sid := params.Get("MessageSid")
	text := strings.TrimSpace(params.Get("Body"))
	if from == "" || sid == "" {
		return nil, nil
	}
	if text == "" {
		return nil, nil
	}

	return &InboundMessage{
		Platform:          model.PlatformSMS,
		ExternalMessageID: sid,
		ExternalThreadKey: from,
		SenderExternalID:  from,
		SenderDisplayName: from,
		SenderEmail:       SyntheticEmail(strings.TrimPrefix(from, "+"), model.PlatformSMS),
		Body:              text,
		ReplyTarget: map[string]string{
			"to":   from,
			"from": to,
		},
	}, nil
}
