package model

import "time"

// DailyStats is the per-organization, per-day aggregate written by the
// analytics worker.
type DailyStats struct {
	OrganizationID int64     `json:"organization_id"`
	Day            time.Time `json:"day"` // date truncated to UTC midnight
	TicketsOpened  int       `json:"tickets_opened"`
	TicketsClosed  int       `json:"tickets_closed"`
	MessagesIn     int       `json:"messages_in"`
	MessagesOut    int       `json:"messages_out"`
	AutoResolved   int       `json:"auto_resolved"`
}
