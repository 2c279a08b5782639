// Package sender holds the outbound per-platform send clients. Each
// sender delivers one plain-text message (optionally with a lightweight
// quick-reply structure where the platform supports it) to a
// platform-specific target resolved by the channel relay.
package sender

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"omnidesk.app/core/internal/model"
)

// Request is one outbound delivery. Target carries the platform reply
// identifiers (channel id, chat id, reply-to message id) merged by the
// relay from ticket metadata and connection metadata.
type Request struct {
	Target       map[string]string
	Text         string
	QuickReplies []string
}

type Sender interface {
	Platform() model.Platform
	Send(ctx context.Context, creds model.Credentials, req Request) error
}

// Registry maps a platform to its sender. Read-only after construction.
type Registry struct {
	senders map[model.Platform]Sender
}

func NewRegistry(senders ...Sender) *Registry {
	m := make(map[model.Platform]Sender, len(senders))
	for _, s := range senders {
		m[s.Platform()] = s
	}
	return &Registry{senders: m}
}

func (r *Registry) Get(platform model.Platform) (Sender, error) {
	s, ok := r.senders[platform]
	if !ok {
		return nil, fmt.Errorf("no sender registered for platform %q", platform)
	}
	return s, nil
}

// defaultHTTPClient bounds every outbound send call.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func requireTarget(req Request, keys ...string) error {
	for _, k := range keys {
		if req.Target[k] == "" {
			return fmt.Errorf("missing reply target %q", k)
		}
	}
	return nil
}
