package sender

import (
	"context"

	"omnidesk.app/core/internal/model"
)

// WidgetSender is a no-op: widget conversations are first-party, the
// reply is already persisted as a ticket message and the widget client
// pulls it on its next poll. Delivery cannot fail.
type WidgetSender struct{}

func NewWidgetSender() *WidgetSender { return &WidgetSender{} }

func (s *WidgetSender) Platform() model.Platform { return model.PlatformWidget }

func (s *WidgetSender) Send(context.Context, model.Credentials, Request) error {
	return nil
}
