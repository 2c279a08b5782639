package queue

type TaskType string

const (
	// TaskTypeTicketProcess runs triage and relay for one inbound
	// customer message.
	TaskTypeTicketProcess TaskType = "ticket_process"
	// TaskTypeOutboundEmail delivers one agent reply over SMTP.
	TaskTypeOutboundEmail TaskType = "outbound_email"
	// TaskTypeRecurringScan clusters an organization's recent tickets
	// into recurring issues.
	TaskTypeRecurringScan TaskType = "recurring_scan"
	// TaskTypeAnalyticsRollup recomputes an organization's daily stats.
	TaskTypeAnalyticsRollup TaskType = "analytics_rollup"
)

type Task struct {
	TaskType       TaskType
	OrganizationID int64
	TicketID       *int64
	MessageID      *int64
	ConnectionID   *int64
	// Day is the UTC date (2006-01-02) an analytics rollup covers.
	Day string
	// DedupeKey suppresses duplicate scheduled jobs: an enqueue with a
	// key already seen inside the dedupe window is dropped.
	DedupeKey string
	TraceID   *string
	Attempt   int
}
