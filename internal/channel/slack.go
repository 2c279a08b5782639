package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"omnidesk.app/core/internal/model"
)

const slackSignatureMaxSkew = 5 * time.Minute

type SlackAdapter struct {
	now func() time.Time
}

func NewSlackAdapter() *SlackAdapter {
	return &SlackAdapter{now: time.Now}
}

func (a *SlackAdapter) Platform() model.Platform { return model.PlatformSlack }

// VerifySignature implements Slack's v0 signing scheme: the signature is
// the hex HMAC-SHA256 of "v0:<timestamp>:<body>" keyed with the signing
// secret. Requests older than five minutes are rejected to bound replay.
func (a *SlackAdapter) VerifySignature(creds model.Credentials, body []byte, headers http.Header) bool {
	if creds.SigningSecret == "" {
		return false
	}
	ts := headers.Get("X-Slack-Request-Timestamp")
	sig := headers.Get("X-Slack-Signature")
	if ts == "" || sig == "" {
		return false
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if math.Abs(a.now().Sub(time.Unix(unix, 0)).Seconds()) > slackSignatureMaxSkew.Seconds() {
		return false
	}

	mac := hmac.New(sha256.New, []byte(creds.SigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

type slackEnvelope struct {
	Type  string `json:"type"`
	Event struct {
		Type     string `json:"type"`
		Subtype  string `json:"subtype"`
		BotID    string `json:"bot_id"`
		User     string `json:"user"`
		Text     string `json:"text"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
		Channel  string `json:"channel"`
	} `json:"event"`
}

func (a *SlackAdapter) Normalize(conn *model.ChannelConnection, body []byte) (*InboundMessage, error) {
	var env slackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode slack event: %w", err)
	}
	if env.Type != "event_callback" || env.Event.Type != "message" {
		return nil, nil
	}
	// Subtypes cover edits, deletes, joins and bot posts. Only plain
	// user messages create or extend tickets.
	if env.Event.Subtype != "" || env.Event.BotID != "" || env.Event.User == "" {
		return nil, nil
	}
	text := strings.TrimSpace(env.Event.Text)
	if text == "" {
		return nil, nil
	}

	// Replies in a Slack thread share the root thread_ts; top-level
	// messages thread on channel plus user so one customer's ongoing
	// chatter lands in one ticket.
	threadKey := env.Event.Channel + ":" + env.Event.User
	replyTS := env.Event.TS
	if env.Event.ThreadTS != "" {
		threadKey = env.Event.Channel + ":" + env.Event.ThreadTS
		replyTS = env.Event.ThreadTS
	}

	return &InboundMessage{
		Platform:          model.PlatformSlack,
		ExternalMessageID: env.Event.TS,
		ExternalThreadKey: threadKey,
		SenderExternalID:  env.Event.User,
		SenderDisplayName: env.Event.User,
		SenderEmail:       SyntheticEmail(env.Event.User, model.PlatformSlack),
		Body:              text,
		ReplyTarget: map[string]string{
			"channel":   env.Event.Channel,
			"thread_ts": replyTS,
		},
		RawMetadata: map[string]string{
			"slack_channel": env.Event.Channel,
		},
	}, nil
}
