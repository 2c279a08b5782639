package worker

import (
	"context"
	"time"

	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/service"
	"omnidesk.app/core/internal/service/sender"
)

// Narrow views of the service layer, so handler tests can mock exactly
// what each handler touches.

type TriageEngine interface {
	Triage(ctx context.Context, ticket *model.Ticket, messages []model.TicketMessage, settings *model.AISettings) (*service.TriageResult, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, ticket *model.Ticket, msg *model.TicketMessage, authorUserID *int64) bool
}

type EmailSender interface {
	Send(ctx context.Context, creds model.Credentials, req sender.Request) error
}

type RecurringDetector interface {
	Detect(ctx context.Context, orgID int64, windowDays int) ([]model.RecurringIssue, error)
}

type AnalyticsRoller interface {
	RollupDay(ctx context.Context, orgID int64, day time.Time) error
}
