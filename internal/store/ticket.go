package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"omnidesk.app/core/core/db"
	"omnidesk.app/core/internal/model"
)

type ticketStore struct {
	q db.DBTX
}

func newTicketStore(q db.DBTX) TicketStore {
	return &ticketStore{q: q}
}

const ticketColumns = `id, organization_id, connection_id, customer_name, customer_email,
	subject, status, priority, assignee_id, thread_key, metadata,
	last_viewed_at, closed_at, created_at, updated_at`

func (s *ticketStore) GetByID(ctx context.Context, id int64) (*model.Ticket, error) {
	row := s.q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	return scanTicket(row)
}

// FindOpenByThreadKey returns the most recently updated open or
// in-progress ticket matching the thread identity, or ErrNotFound.
func (s *ticketStore) FindOpenByThreadKey(ctx context.Context, orgID int64, connectionID int64, customerEmail, threadKey string) (*model.Ticket, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE organization_id = $1
		  AND connection_id = $2
		  AND lower(customer_email) = lower($3)
		  AND thread_key = $4
		  AND status IN ('open', 'in_progress')
		ORDER BY updated_at DESC
		LIMIT 1`,
		orgID, connectionID, customerEmail, threadKey)
	return scanTicket(row)
}

// Create inserts a new ticket. A partial unique index on
// (organization_id, connection_id, lower(customer_email), thread_key)
// WHERE status IN ('open','in_progress') backs the threading invariant;
// unique violations surface as ErrDuplicateThread.
func (s *ticketStore) Create(ctx context.Context, ticket *model.Ticket) error {
	metadata, err := json.Marshal(ticket.Metadata)
	if err != nil {
		return err
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO tickets (id, organization_id, connection_id, customer_name,
			customer_email, subject, status, priority, assignee_id, thread_key,
			metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING created_at, updated_at`,
		ticket.ID, ticket.OrganizationID, ticket.ConnectionID, ticket.CustomerName,
		ticket.CustomerEmail, ticket.Subject, ticket.Status, ticket.Priority,
		ticket.AssigneeID, ticket.ThreadKey, metadata)

	if err := row.Scan(&ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateThread
		}
		return err
	}
	return nil
}

func (s *ticketStore) AppendMessage(ctx context.Context, msg *model.TicketMessage) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO ticket_messages (id, ticket_id, sender_type, body, is_internal,
			author_user_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING created_at`,
		msg.ID, msg.TicketID, msg.SenderType, msg.Body, msg.IsInternal,
		msg.AuthorUserID, metadata)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return err
	}

	// Appends bump the parent so FindOpenByThreadKey's recency ordering
	// and the clustering window see activity.
	_, err = s.q.Exec(ctx, `UPDATE tickets SET updated_at = now() WHERE id = $1`, msg.TicketID)
	return err
}

func (s *ticketStore) ListMessages(ctx context.Context, ticketID int64) ([]model.TicketMessage, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, ticket_id, sender_type, body, is_internal, author_user_id, metadata, created_at
		FROM ticket_messages
		WHERE ticket_id = $1
		ORDER BY created_at ASC, id ASC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.TicketMessage
	for rows.Next() {
		var (
			m        model.TicketMessage
			metadata []byte
		)
		if err := rows.Scan(&m.ID, &m.TicketID, &m.SenderType, &m.Body, &m.IsInternal,
			&m.AuthorUserID, &metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				return nil, err
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MergeMetadata shallow-merges keys into the ticket's metadata map so
// the next outbound reply targets the newest inbound message.
func (s *ticketStore) MergeMetadata(ctx context.Context, ticketID int64, metadata map[string]string) error {
	patch, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE tickets
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb, updated_at = now()
		WHERE id = $1`, ticketID, patch)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ticketStore) UpdateStatus(ctx context.Context, ticketID int64, status model.TicketStatus) error {
	var closedAt any
	if status == model.TicketStatusClosed {
		closedAt = time.Now().UTC()
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE tickets
		SET status = $2, closed_at = $3, updated_at = now()
		WHERE id = $1`, ticketID, status, closedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ticketStore) Assign(ctx context.Context, ticketID int64, assigneeID int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE tickets
		SET assignee_id = $2, status = 'in_progress', updated_at = now()
		WHERE id = $1`, ticketID, assigneeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ticketStore) ListSince(ctx context.Context, orgID int64, since time.Time, limit int32) ([]model.Ticket, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE organization_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`, orgID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanTicketRow(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func (s *ticketStore) CountOpenByAssignee(ctx context.Context, orgID int64) (map[int64]int, error) {
	rows, err := s.q.Query(ctx, `
		SELECT assignee_id, count(*)
		FROM tickets
		WHERE organization_id = $1
		  AND status IN ('open', 'in_progress')
		  AND assignee_id IS NOT NULL
		GROUP BY assignee_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var (
			assignee int64
			n        int
		)
		if err := rows.Scan(&assignee, &n); err != nil {
			return nil, err
		}
		counts[assignee] = n
	}
	return counts, rows.Err()
}

// SeenExternalMessage reports whether a poll-delivered message was
// already ingested, keyed by the originating connection and the
// platform's message id recorded in message metadata.
func (s *ticketStore) SeenExternalMessage(ctx context.Context, connectionID int64, externalMessageID string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM ticket_messages m
			JOIN tickets t ON t.id = m.ticket_id
			WHERE t.connection_id = $1
			  AND m.metadata->>'external_message_id' = $2
		)`, connectionID, externalMessageID).Scan(&exists)
	return exists, err
}

func (s *ticketStore) CountDaily(ctx context.Context, orgID int64, day time.Time) (*model.DailyStats, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	stats := &model.DailyStats{OrganizationID: orgID, Day: dayStart}
	err := s.q.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM tickets WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3),
			(SELECT count(*) FROM tickets WHERE organization_id = $1 AND closed_at >= $2 AND closed_at < $3),
			(SELECT count(*) FROM ticket_messages m JOIN tickets t ON t.id = m.ticket_id
				WHERE t.organization_id = $1 AND m.sender_type = 'customer' AND m.created_at >= $2 AND m.created_at < $3),
			(SELECT count(*) FROM ticket_messages m JOIN tickets t ON t.id = m.ticket_id
				WHERE t.organization_id = $1 AND m.sender_type IN ('agent', 'system') AND m.created_at >= $2 AND m.created_at < $3),
			(SELECT count(*) FROM tickets WHERE organization_id = $1 AND closed_at >= $2 AND closed_at < $3
				AND metadata->>'resolved_by' = 'auto')`,
		orgID, dayStart, dayEnd).Scan(
		&stats.TicketsOpened, &stats.TicketsClosed, &stats.MessagesIn, &stats.MessagesOut, &stats.AutoResolved)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	t, err := scanTicketRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func scanTicketRow(row rowScanner) (*model.Ticket, error) {
	var (
		t        model.Ticket
		metadata []byte
	)
	if err := row.Scan(&t.ID, &t.OrganizationID, &t.ConnectionID, &t.CustomerName,
		&t.CustomerEmail, &t.Subject, &t.Status, &t.Priority, &t.AssigneeID,
		&t.ThreadKey, &metadata, &t.LastViewedAt, &t.ClosedAt,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}
