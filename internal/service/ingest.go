package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"omnidesk.app/core/common/logger"
	"omnidesk.app/core/internal/channel"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/queue"
	"omnidesk.app/core/internal/store"
)

// ErrVerificationFailed maps to HTTP 401: the request failed the
// platform's signature or structural check. No side effects occur.
var ErrVerificationFailed = errors.New("webhook verification failed")

// ErrConnectionUnavailable covers missing, inactive, and
// platform-mismatched connections.
var ErrConnectionUnavailable = errors.New("connection unavailable")

// IngestService is the synchronous inbound path: verify, normalize,
// identity gate, thread, persist, enqueue. Everything slow (model calls,
// external delivery) happens later on a queue worker, so webhook
// handlers can acknowledge before the platform's timeout.
type IngestService struct {
	connections store.ConnectionStore
	adapters    *channel.Registry
	identity    *IdentityResolver
	threader    *Threader
	credentials *CredentialService
	producer    queue.Producer
	tickets     store.TicketStore
}

func NewIngestService(
	connections store.ConnectionStore,
	adapters *channel.Registry,
	identity *IdentityResolver,
	threader *Threader,
	credentials *CredentialService,
	producer queue.Producer,
	tickets store.TicketStore,
) *IngestService {
	return &IngestService{
		connections: connections,
		adapters:    adapters,
		identity:    identity,
		threader:    threader,
		credentials: credentials,
		producer:    producer,
		tickets:     tickets,
	}
}

// HandleWebhook processes one inbound webhook for a connection. A nil
// return means the event was either routed or deliberately dropped.
func (s *IngestService) HandleWebhook(ctx context.Context, connectionID int64, platform model.Platform, body []byte, headers http.Header) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConnectionID: &connectionID,
		Platform:     (*string)(&platform),
		Component:    "core.service.ingest",
	})

	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConnectionUnavailable
		}
		return fmt.Errorf("loading connection: %w", err)
	}
	if !conn.IsActive || conn.Platform != platform {
		return ErrConnectionUnavailable
	}

	adapter, err := s.adapters.Get(platform)
	if err != nil {
		return ErrConnectionUnavailable
	}

	creds, err := s.credentials.Decrypt(conn.EncryptedCredentials)
	if err != nil {
		return fmt.Errorf("decrypting connection credentials: %w", err)
	}

	if !adapter.VerifySignature(creds, body, headers) {
		slog.WarnContext(ctx, "webhook verification failed")
		return ErrVerificationFailed
	}

	inbound, err := adapter.Normalize(conn, body)
	if err != nil {
		return fmt.Errorf("normalizing payload: %w", err)
	}
	if inbound == nil {
		slog.DebugContext(ctx, "payload dropped by adapter")
		return nil
	}

	return s.HandleInbound(ctx, conn, inbound)
}

// HandleInbound runs the shared post-normalization path for webhook and
// polled messages.
func (s *IngestService) HandleInbound(ctx context.Context, conn *model.ChannelConnection, inbound *channel.InboundMessage) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		OrganizationID: &conn.OrganizationID,
		ConnectionID:   &conn.ID,
		Component:      "core.service.ingest",
	})

	// Redelivered webhooks and overlapping poll windows must not
	// duplicate messages.
	if inbound.ExternalMessageID != "" {
		seen, err := s.tickets.SeenExternalMessage(ctx, conn.ID, inbound.ExternalMessageID)
		if err != nil {
			return fmt.Errorf("checking message dedupe: %w", err)
		}
		if seen {
			slog.DebugContext(ctx, "duplicate external message dropped",
				"external_message_id", inbound.ExternalMessageID)
			return nil
		}
	}

	internal, err := s.identity.IsInternal(ctx, conn.OrganizationID, inbound.SenderEmail, inbound.Platform, inbound.SenderExternalID)
	if err != nil {
		return fmt.Errorf("resolving sender identity: %w", err)
	}
	if internal {
		slog.DebugContext(ctx, "internal sender, suppressing ticket creation",
			"sender", inbound.SenderExternalID)
		return nil
	}

	result, err := s.threader.Route(ctx, conn, inbound)
	if err != nil {
		return fmt.Errorf("threading message: %w", err)
	}

	task := queue.Task{
		TaskType:       queue.TaskTypeTicketProcess,
		OrganizationID: conn.OrganizationID,
		TicketID:       &result.Ticket.ID,
		MessageID:      &result.Message.ID,
		ConnectionID:   &conn.ID,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID := sc.TraceID().String()
		task.TraceID = &traceID
	}
	if err := s.producer.Enqueue(ctx, task); err != nil {
		// The message is already persisted; triage will be picked up by
		// the next message or a manual requeue, so log rather than fail
		// the webhook.
		slog.ErrorContext(ctx, "failed to enqueue triage task",
			"error", err,
			"ticket_id", result.Ticket.ID)
	}

	return nil
}

// PollOnce fetches new messages for every active connection of every
// polling platform and advances their cursors.
func (s *IngestService) PollOnce(ctx context.Context) {
	for _, poller := range s.adapters.Pollers() {
		conns, err := s.connections.ListActiveByPlatform(ctx, poller.Platform())
		if err != nil {
			slog.ErrorContext(ctx, "failed to list connections for polling",
				"error", err,
				"platform", poller.Platform())
			continue
		}
		for i := range conns {
			s.pollConnection(ctx, poller, &conns[i])
		}
	}
}

func (s *IngestService) pollConnection(ctx context.Context, poller channel.Poller, conn *model.ChannelConnection) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		OrganizationID: &conn.OrganizationID,
		ConnectionID:   &conn.ID,
		Component:      "core.service.ingest.poll",
	})

	if conn.FlaggedAt != nil {
		return
	}

	creds, err := s.credentials.Resolve(ctx, conn)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve credentials for poll", "error", err)
		return
	}

	var cursor string
	if conn.SyncCursor != nil {
		cursor = *conn.SyncCursor
	}

	start := time.Now()
	messages, newCursor, err := poller.FetchNewSince(ctx, conn, creds, cursor)
	if err != nil {
		if errors.Is(err, channel.ErrUnauthorized) {
			slog.ErrorContext(ctx, "poll unauthorized, flagging connection")
			s.credentials.FlagConnection(ctx, conn.ID, "poll unauthorized: credentials invalid or revoked")
			return
		}
		slog.ErrorContext(ctx, "poll failed", "error", err)
		return
	}

	for i := range messages {
		if err := s.HandleInbound(ctx, conn, &messages[i]); err != nil {
			slog.ErrorContext(ctx, "failed to ingest polled message",
				"error", err,
				"external_message_id", messages[i].ExternalMessageID)
			// Do not advance past a failed message; the next poll
			// retries from the old cursor and dedupe drops successes.
			return
		}
	}

	if newCursor != "" && newCursor != cursor {
		if err := s.connections.UpdateCursor(ctx, conn.ID, newCursor); err != nil {
			slog.ErrorContext(ctx, "failed to update poll cursor", "error", err)
			return
		}
	}

	if len(messages) > 0 {
		slog.InfoContext(ctx, "poll cycle complete",
			"messages", len(messages),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
