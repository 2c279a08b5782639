package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusClosed     TicketStatus = "closed"
)

type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// Ticket is the unit of one customer conversation thread within an
// organization. Metadata carries the per-platform thread keys (channel
// id, chat id, email thread id, newest reply-target id, ...).
//
// Invariant: at most one ticket per (organization, connection, customer
// email, thread key) may be open or in progress at any time.
type Ticket struct {
	ID             int64             `json:"id"`
	OrganizationID int64             `json:"organization_id"`
	ConnectionID   *int64            `json:"connection_id,omitempty"` // nil for internally created tickets
	CustomerName   string            `json:"customer_name"`
	CustomerEmail  string            `json:"customer_email"`
	Subject        string            `json:"subject"`
	Status         TicketStatus      `json:"status"`
	Priority       TicketPriority    `json:"priority"`
	AssigneeID     *int64            `json:"assignee_id,omitempty"`
	ThreadKey      string            `json:"thread_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	LastViewedAt   *time.Time        `json:"last_viewed_at,omitempty"`
	ClosedAt       *time.Time        `json:"closed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// IsOpen reports whether the ticket still accepts inbound messages into
// its thread.
func (t *Ticket) IsOpen() bool {
	return t.Status == TicketStatusOpen || t.Status == TicketStatusInProgress
}

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

// TicketMessage is an ordered, append-only child of a Ticket. Messages
// are never mutated or deleted individually; ticket deletion cascades.
type TicketMessage struct {
	ID           int64             `json:"id"`
	TicketID     int64             `json:"ticket_id"`
	SenderType   SenderType        `json:"sender_type"`
	Body         string            `json:"body"`
	IsInternal   bool              `json:"is_internal"`
	AuthorUserID *int64            `json:"author_user_id,omitempty"` // for agent/system senders
	Metadata     map[string]string `json:"metadata,omitempty"`       // per-message reply-target identifiers
	CreatedAt    time.Time         `json:"created_at"`
}
