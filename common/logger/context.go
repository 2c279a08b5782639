package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so business context (ticket_id,
// connection_id, etc.) shows up on every log line without being threaded by hand.
type LogFields struct {
	OrganizationID *int64  // Owning organization
	TicketID       *int64  // Ticket being processed
	ConnectionID   *int64  // Channel connection the event arrived on
	Platform       *string // Origin platform (slack, telegram, ...)
	MessageID      *string // Redis stream message ID
	Queue          *string // Queue name for worker logs
	Component      string  // Component name (e.g. "core.service.threader")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, updated LogFields) LogFields {
	result := existing

	if updated.OrganizationID != nil {
		result.OrganizationID = updated.OrganizationID
	}
	if updated.TicketID != nil {
		result.TicketID = updated.TicketID
	}
	if updated.ConnectionID != nil {
		result.ConnectionID = updated.ConnectionID
	}
	if updated.Platform != nil {
		result.Platform = updated.Platform
	}
	if updated.MessageID != nil {
		result.MessageID = updated.MessageID
	}
	if updated.Queue != nil {
		result.Queue = updated.Queue
	}
	if updated.Component != "" {
		result.Component = updated.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{TicketID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like message bodies.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
