package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"omnidesk.app/core/common/id"
	"omnidesk.app/core/common/logger"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/queue"
	"omnidesk.app/core/internal/service"
	"omnidesk.app/core/internal/service/sender"
	"omnidesk.app/core/internal/store"
)

// Processor routes queue messages to their handlers. Exactly one
// handler consumes each task type; all handlers are idempotent against
// redelivery.
type Processor struct {
	tickets    store.TicketStore
	settings   store.SettingsStore
	triage     TriageEngine
	relay      Deliverer
	email      EmailSender
	recurring  RecurringDetector
	analytics  AnalyticsRoller
	windowDays int
}

func NewProcessor(
	tickets store.TicketStore,
	settings store.SettingsStore,
	triage TriageEngine,
	relay Deliverer,
	email EmailSender,
	recurring RecurringDetector,
	analytics AnalyticsRoller,
	windowDays int,
) *Processor {
	return &Processor{
		tickets:    tickets,
		settings:   settings,
		triage:     triage,
		relay:      relay,
		email:      email,
		recurring:  recurring,
		analytics:  analytics,
		windowDays: windowDays,
	}
}

func (p *Processor) Process(ctx context.Context, msg queue.Message) error {
	switch msg.TaskType {
	case queue.TaskTypeTicketProcess:
		return p.processTicket(ctx, msg)
	case queue.TaskTypeOutboundEmail:
		return p.processOutboundEmail(ctx, msg)
	case queue.TaskTypeRecurringScan:
		_, err := p.recurring.Detect(ctx, msg.OrganizationID, p.windowDays)
		return err
	case queue.TaskTypeAnalyticsRollup:
		day, err := time.Parse("2006-01-02", msg.Day)
		if err != nil {
			return fmt.Errorf("parsing rollup day %q: %w", msg.Day, err)
		}
		return p.analytics.RollupDay(ctx, msg.OrganizationID, day)
	default:
		return fmt.Errorf("no handler for task type %q", msg.TaskType)
	}
}

// processTicket runs triage for one inbound message and applies its
// side effects: the auto-reply is persisted before delivery is ever
// attempted, so a failed delivery cannot lose the answer.
func (p *Processor) processTicket(ctx context.Context, msg queue.Message) error {
	ticket, err := p.tickets.GetByID(ctx, *msg.TicketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "ticket gone, dropping task", "ticket_id", *msg.TicketID)
			return nil
		}
		return fmt.Errorf("loading ticket: %w", err)
	}
	if !ticket.IsOpen() {
		slog.InfoContext(ctx, "ticket no longer open, skipping triage")
		return nil
	}
	// Redelivery guard: an auto-resolved ticket was already answered.
	if ticket.Metadata["resolved_by"] == "auto" {
		return nil
	}

	messages, err := p.tickets.ListMessages(ctx, ticket.ID)
	if err != nil {
		return fmt.Errorf("listing ticket messages: %w", err)
	}

	settings, err := p.settings.Get(ctx, ticket.OrganizationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("loading ai settings: %w", err)
		}
		// No settings row yet: autonomous processing defaults off.
		settings = &model.AISettings{OrganizationID: ticket.OrganizationID}
	}

	result, err := p.triage.Triage(ctx, ticket, messages, settings)
	if err != nil {
		return fmt.Errorf("triage: %w", err)
	}

	if result.ShouldRespond {
		return p.autoRespond(ctx, ticket, result)
	}
	return p.assignToHuman(ctx, ticket, result)
}

func (p *Processor) autoRespond(ctx context.Context, ticket *model.Ticket, result *service.TriageResult) error {
	reply := &model.TicketMessage{
		ID:         id.New(),
		TicketID:   ticket.ID,
		SenderType: model.SenderSystem,
		Body:       result.Response,
		Metadata: map[string]string{
			"resolved_by": "auto",
			"confidence":  strconv.FormatFloat(result.Confidence, 'f', 2, 64),
		},
	}
	if err := p.tickets.AppendMessage(ctx, reply); err != nil {
		return fmt.Errorf("persisting auto reply: %w", err)
	}

	delivered := p.relay.Deliver(ctx, ticket, reply, nil)
	if !delivered {
		// The reply is recorded; a human follows up on the undelivered
		// conversation rather than the customer seeing an error.
		slog.WarnContext(ctx, "auto reply not delivered, leaving ticket open")
		return nil
	}

	if err := p.tickets.MergeMetadata(ctx, ticket.ID, map[string]string{"resolved_by": "auto"}); err != nil {
		return fmt.Errorf("marking ticket auto-resolved: %w", err)
	}
	if err := p.tickets.UpdateStatus(ctx, ticket.ID, model.TicketStatusClosed); err != nil {
		return fmt.Errorf("closing auto-resolved ticket: %w", err)
	}

	slog.InfoContext(ctx, "ticket auto-resolved", "confidence", result.Confidence)
	return nil
}

func (p *Processor) assignToHuman(ctx context.Context, ticket *model.Ticket, result *service.TriageResult) error {
	if result.AssigneeID != nil {
		if err := p.tickets.Assign(ctx, ticket.ID, *result.AssigneeID); err != nil {
			return fmt.Errorf("assigning ticket: %w", err)
		}
	}
	if ticket.Status == model.TicketStatusOpen {
		if err := p.tickets.UpdateStatus(ctx, ticket.ID, model.TicketStatusInProgress); err != nil {
			return fmt.Errorf("moving ticket to in_progress: %w", err)
		}
	}

	slog.InfoContext(ctx, "ticket handed to human",
		"assignee_id", result.AssigneeID,
		"confidence", result.Confidence)
	return nil
}

// processOutboundEmail delivers one persisted agent reply over SMTP.
// Transient mail failures surface as errors so this queue's higher
// retry ceiling applies.
func (p *Processor) processOutboundEmail(ctx context.Context, msg queue.Message) error {
	ticket, err := p.tickets.GetByID(ctx, *msg.TicketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "ticket gone, dropping email task", "ticket_id", *msg.TicketID)
			return nil
		}
		return fmt.Errorf("loading ticket: %w", err)
	}

	messages, err := p.tickets.ListMessages(ctx, ticket.ID)
	if err != nil {
		return fmt.Errorf("listing ticket messages: %w", err)
	}
	var reply *model.TicketMessage
	for i := range messages {
		if messages[i].ID == *msg.MessageID {
			reply = &messages[i]
			break
		}
	}
	if reply == nil {
		slog.WarnContext(ctx, "reply message gone, dropping email task", "message_id", *msg.MessageID)
		return nil
	}

	target := map[string]string{
		"to":         newestReplyTarget(ticket, messages, "to"),
		"subject":    newestReplyTarget(ticket, messages, "subject"),
		"message_id": newestReplyTarget(ticket, messages, "message_id"),
	}
	if target["to"] == "" {
		target["to"] = ticket.CustomerEmail
	}
	if target["subject"] == "" {
		target["subject"] = ticket.Subject
	}

	if err := p.email.Send(ctx, model.Credentials{}, sender.Request{
		Target: target,
		Text:   reply.Body,
	}); err != nil {
		return fmt.Errorf("sending email reply: %w", err)
	}

	slog.InfoContext(ctx, "email reply delivered",
		"ticket_id", ticket.ID,
		"to", logger.Truncate(ticket.CustomerEmail, 64))
	return nil
}

// newestReplyTarget finds the most recent inbound value for one reply
// target key, falling back to the ticket's thread-open metadata.
func newestReplyTarget(ticket *model.Ticket, messages []model.TicketMessage, key string) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].SenderType != model.SenderCustomer {
			continue
		}
		if v := messages[i].Metadata["reply_"+key]; v != "" {
			return v
		}
	}
	return ticket.Metadata["reply_"+key]
}
