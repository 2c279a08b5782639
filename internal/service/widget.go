package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// widgetSessionTTL bounds how long a widget session token stays valid
// without a new boot.
const widgetSessionTTL = 12 * time.Hour

// WidgetSessions mints and validates the session tokens the web widget
// presents on every inbound message. Tokens live in the KV cache so a
// multi-instance deployment shares them.
type WidgetSessions struct {
	cache KVCache
}

func NewWidgetSessions(cache KVCache) *WidgetSessions {
	return &WidgetSessions{cache: cache}
}

// Mint issues a fresh session token bound to a visitor id. The visitor
// id is generated here too when the widget boots for the first time.
func (w *WidgetSessions) Mint(ctx context.Context, visitorID string) (token, visitor string, err error) {
	if visitorID == "" {
		visitorID = uuid.NewString()
	}
	token = uuid.NewString()

	if err := w.cache.Set(ctx, w.key(token), visitorID, widgetSessionTTL); err != nil {
		return "", "", fmt.Errorf("storing widget session: %w", err)
	}
	return token, visitorID, nil
}

// Validate returns true when the token is live and bound to the given
// visitor id.
func (w *WidgetSessions) Validate(ctx context.Context, token, visitorID string) (bool, error) {
	if token == "" || visitorID == "" {
		return false, nil
	}
	bound, err := w.cache.Get(ctx, w.key(token))
	if err != nil {
		return false, fmt.Errorf("loading widget session: %w", err)
	}
	return bound != "" && bound == visitorID, nil
}

func (w *WidgetSessions) Revoke(ctx context.Context, token string) error {
	return w.cache.Delete(ctx, w.key(token))
}

func (w *WidgetSessions) key(token string) string {
	return "widget:session:" + token
}
