package model

// IssueSeverity is derived from occurrence count: >=10 urgent, >=5 high,
// >=3 medium.
type IssueSeverity string

const (
	SeverityMedium IssueSeverity = "medium"
	SeverityHigh   IssueSeverity = "high"
	SeverityUrgent IssueSeverity = "urgent"
)

// SeverityForCount maps an occurrence count onto the severity ladder.
func SeverityForCount(n int) IssueSeverity {
	switch {
	case n >= 10:
		return SeverityUrgent
	case n >= 5:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// RecurringIssue is a transient analysis result: a cluster of tickets the
// model judged to describe the same underlying problem. Not persisted.
type RecurringIssue struct {
	Description       string        `json:"description"`
	OccurrenceCount   int           `json:"occurrence_count"`
	AffectedCustomers int           `json:"affected_customers"`
	TicketIDs         []int64       `json:"ticket_ids"`
	Severity          IssueSeverity `json:"severity"`
	SuggestedFix      string        `json:"suggested_fix"`
	TrackerTaskURL    *string       `json:"tracker_task_url,omitempty"`
}
