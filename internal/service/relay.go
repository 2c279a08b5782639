package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"omnidesk.app/core/common/logger"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/queue"
	"omnidesk.app/core/internal/service/sender"
	"omnidesk.app/core/internal/store"
)

// Relay delivers an outbound reply back to the ticket's origin
// platform. Delivery is strictly best-effort: the reply is always
// persisted as a ticket message before Deliver is called, so a delivery
// failure loses nothing and must never propagate as an error.
type Relay struct {
	tickets       store.TicketStore
	connections   store.ConnectionStore
	organizations store.OrganizationStore
	members       store.MemberStore
	credentials   *CredentialService
	senders       *sender.Registry
	producer      queue.Producer
}

func NewRelay(
	tickets store.TicketStore,
	connections store.ConnectionStore,
	organizations store.OrganizationStore,
	members store.MemberStore,
	credentials *CredentialService,
	senders *sender.Registry,
	producer queue.Producer,
) *Relay {
	return &Relay{
		tickets:       tickets,
		connections:   connections,
		organizations: organizations,
		members:       members,
		credentials:   credentials,
		senders:       senders,
		producer:      producer,
	}
}

// Deliver sends the already-persisted message to the origin platform.
// Returns false (and logs) on any failure. Email replies are enqueued on
// the outbound-email queue instead of being sent inline, so they get
// that queue's higher retry ceiling.
func (r *Relay) Deliver(ctx context.Context, ticket *model.Ticket, msg *model.TicketMessage, authorUserID *int64) bool {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		OrganizationID: &ticket.OrganizationID,
		TicketID:       &ticket.ID,
		Component:      "core.service.relay",
	})

	if ticket.ConnectionID == nil {
		slog.InfoContext(ctx, "ticket has no origin connection, skipping delivery")
		return false
	}

	conn, err := r.connections.GetByID(ctx, *ticket.ConnectionID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load origin connection", "error", err)
		return false
	}
	if !conn.IsActive || conn.FlaggedAt != nil {
		slog.WarnContext(ctx, "origin connection inactive or flagged, skipping delivery",
			"platform", conn.Platform)
		return false
	}

	text, err := r.brand(ctx, ticket.OrganizationID, authorUserID, msg.Body)
	if err != nil {
		slog.ErrorContext(ctx, "failed to brand outbound text", "error", err)
		text = msg.Body
	}

	if conn.Platform == model.PlatformEmail {
		return r.enqueueEmail(ctx, ticket, msg, conn)
	}

	s, err := r.senders.Get(conn.Platform)
	if err != nil {
		slog.ErrorContext(ctx, "no sender for platform", "error", err, "platform", conn.Platform)
		return false
	}

	creds, err := r.credentials.Resolve(ctx, conn)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve credentials", "error", err)
		return false
	}

	if err := s.Send(ctx, creds, sender.Request{
		Target: r.deliveryTarget(ticket, conn),
		Text:   text,
	}); err != nil {
		slog.ErrorContext(ctx, "delivery failed",
			"error", err,
			"platform", conn.Platform)
		return false
	}

	slog.InfoContext(ctx, "reply delivered", "platform", conn.Platform)
	return true
}

func (r *Relay) enqueueEmail(ctx context.Context, ticket *model.Ticket, msg *model.TicketMessage, conn *model.ChannelConnection) bool {
	if err := r.producer.Enqueue(ctx, queue.Task{
		TaskType:       queue.TaskTypeOutboundEmail,
		OrganizationID: ticket.OrganizationID,
		TicketID:       &ticket.ID,
		MessageID:      &msg.ID,
		ConnectionID:   &conn.ID,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue outbound email", "error", err)
		return false
	}
	return true
}

// deliveryTarget merges the connection metadata (account/bot
// identifiers) with the ticket's newest reply-target keys. The reply_*
// keys are written by the threader per inbound message, so they always
// point at the most recent customer message; the bare seeded keys remain
// as the thread-open fallback.
func (r *Relay) deliveryTarget(ticket *model.Ticket, conn *model.ChannelConnection) map[string]string {
	target := make(map[string]string, len(conn.Metadata)+len(ticket.Metadata))
	for k, v := range conn.Metadata {
		target[k] = v
	}
	for k, v := range ticket.Metadata {
		if rest, ok := strings.CutPrefix(k, replyTargetPrefix); ok {
			target[rest] = v
		} else if _, exists := target[k]; !exists {
			target[k] = v
		}
	}
	return target
}

// brand prefixes human agent replies with "Org (via Agent)". Automated
// replies go out unbranded.
func (r *Relay) brand(ctx context.Context, orgID int64, authorUserID *int64, text string) (string, error) {
	if authorUserID == nil {
		return text, nil
	}

	org, err := r.organizations.GetByID(ctx, orgID)
	if err != nil {
		return "", fmt.Errorf("loading organization: %w", err)
	}
	member, err := r.members.GetByID(ctx, *authorUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("%s\n\n%s", org.Name, text), nil
		}
		return "", fmt.Errorf("loading member: %w", err)
	}

	return fmt.Sprintf("%s (via %s)\n\n%s", org.Name, member.Name, text), nil
}
