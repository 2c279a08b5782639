package dto

import "time"

type WidgetBootRequest struct {
	VisitorID string `json:"visitor_id"`
}

type WidgetBootResponse struct {
	SessionToken string `json:"session_token"`
	VisitorID    string `json:"visitor_id"`
}

type WidgetTranscriptMessage struct {
	ID         int64     `json:"id"`
	SenderType string    `json:"sender_type"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type WidgetTranscriptResponse struct {
	TicketID int64                     `json:"ticket_id"`
	Status   string                    `json:"status"`
	Messages []WidgetTranscriptMessage `json:"messages"`
}
