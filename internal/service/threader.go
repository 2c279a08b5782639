package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"omnidesk.app/core/common/id"
	"omnidesk.app/core/common/logger"
	"omnidesk.app/core/internal/channel"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/store"
)

const maxSubjectLen = 80

// replyTargetPrefix namespaces per-message reply-target identifiers
// inside ticket metadata. Each inbound message overwrites these keys so
// the next outbound reply targets the newest message, not the first.
const replyTargetPrefix = "reply_"

type ThreadResult struct {
	Ticket      *model.Ticket
	Message     *model.TicketMessage
	IsNewTicket bool
}

// Threader maps a normalized inbound message onto an existing open
// ticket or opens a new one. The find-or-create sequence is the one true
// race in the system: it runs under a per-thread-key mutex, and the
// store's partial unique index catches anything that slips past it
// (multi-process deployments), surfacing as ErrDuplicateThread which
// falls back to find.
type Threader struct {
	tickets store.TicketStore
	locks   keyedMutex
}

func NewThreader(tickets store.TicketStore) *Threader {
	return &Threader{tickets: tickets}
}

// Route appends the message to the matching open ticket, creating the
// ticket first when none exists.
func (t *Threader) Route(ctx context.Context, conn *model.ChannelConnection, inbound *channel.InboundMessage) (*ThreadResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		OrganizationID: &conn.OrganizationID,
		ConnectionID:   &conn.ID,
		Component:      "core.service.threader",
	})

	lockKey := fmt.Sprintf("%d:%d:%s:%s", conn.OrganizationID, conn.ID, inbound.SenderEmail, inbound.ExternalThreadKey)
	unlock := t.locks.lock(lockKey)
	defer unlock()

	ticket, err := t.tickets.FindOpenByThreadKey(ctx, conn.OrganizationID, conn.ID, inbound.SenderEmail, inbound.ExternalThreadKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("finding open ticket: %w", err)
	}

	isNew := false
	if ticket == nil {
		ticket, isNew, err = t.createTicket(ctx, conn, inbound)
		if err != nil {
			return nil, err
		}
	}

	msg := &model.TicketMessage{
		ID:         id.New(),
		TicketID:   ticket.ID,
		SenderType: model.SenderCustomer,
		Body:       inbound.Body,
		Metadata:   messageMetadata(inbound),
	}
	if err := t.tickets.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	if !isNew {
		// Point the ticket's reply target at this newest message.
		if merge := replyTargetMetadata(inbound); len(merge) > 0 {
			if err := t.tickets.MergeMetadata(ctx, ticket.ID, merge); err != nil {
				return nil, fmt.Errorf("merging reply target metadata: %w", err)
			}
		}
	}

	slog.InfoContext(ctx, "routed inbound message",
		"ticket_id", ticket.ID,
		"is_new_ticket", isNew,
		"platform", inbound.Platform)

	return &ThreadResult{Ticket: ticket, Message: msg, IsNewTicket: isNew}, nil
}

// createTicket opens a new ticket, falling back to find when a
// concurrent create from another process won the unique index race.
func (t *Threader) createTicket(ctx context.Context, conn *model.ChannelConnection, inbound *channel.InboundMessage) (*model.Ticket, bool, error) {
	connID := conn.ID
	ticket := &model.Ticket{
		ID:             id.New(),
		OrganizationID: conn.OrganizationID,
		ConnectionID:   &connID,
		CustomerName:   inbound.SenderDisplayName,
		CustomerEmail:  strings.ToLower(inbound.SenderEmail),
		Subject:        subjectFrom(inbound.Body),
		Status:         model.TicketStatusOpen,
		Priority:       model.TicketPriorityMedium,
		ThreadKey:      inbound.ExternalThreadKey,
		Metadata:       ticketMetadata(inbound),
	}

	err := t.tickets.Create(ctx, ticket)
	if err == nil {
		return ticket, true, nil
	}
	if !errors.Is(err, store.ErrDuplicateThread) {
		return nil, false, fmt.Errorf("creating ticket: %w", err)
	}

	slog.InfoContext(ctx, "lost ticket create race, using existing ticket",
		"thread_key", inbound.ExternalThreadKey)

	existing, findErr := t.tickets.FindOpenByThreadKey(ctx, conn.OrganizationID, conn.ID, inbound.SenderEmail, inbound.ExternalThreadKey)
	if findErr != nil {
		return nil, false, fmt.Errorf("finding ticket after create conflict: %w", findErr)
	}
	return existing, false, nil
}

// ticketMetadata seeds a new ticket with all platform thread keys plus
// the first reply target.
func ticketMetadata(inbound *channel.InboundMessage) map[string]string {
	md := make(map[string]string, len(inbound.RawMetadata)+len(inbound.ReplyTarget))
	for k, v := range inbound.RawMetadata {
		if v != "" {
			md[k] = v
		}
	}
	for k, v := range replyTargetMetadata(inbound) {
		md[k] = v
	}
	return md
}

func replyTargetMetadata(inbound *channel.InboundMessage) map[string]string {
	md := make(map[string]string, len(inbound.ReplyTarget))
	for k, v := range inbound.ReplyTarget {
		if v != "" {
			md[replyTargetPrefix+k] = v
		}
	}
	return md
}

func messageMetadata(inbound *channel.InboundMessage) map[string]string {
	md := map[string]string{
		"external_message_id": inbound.ExternalMessageID,
	}
	for k, v := range inbound.ReplyTarget {
		if v != "" {
			md[replyTargetPrefix+k] = v
		}
	}
	return md
}

func subjectFrom(body string) string {
	subject := strings.TrimSpace(body)
	if i := strings.IndexByte(subject, '\n'); i >= 0 {
		subject = strings.TrimSpace(subject[:i])
	}
	if len(subject) <= maxSubjectLen {
		return subject
	}
	cut := subject[:maxSubjectLen]
	if i := strings.LastIndexByte(cut, ' '); i > maxSubjectLen/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// keyedMutex provides short-lived per-key mutual exclusion. Entries are
// reference counted and removed when the last holder unlocks, so the map
// does not grow with the number of distinct thread keys ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
