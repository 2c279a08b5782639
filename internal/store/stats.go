package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"omnidesk.app/core/core/db"
	"omnidesk.app/core/internal/model"
)

type statsStore struct {
	q db.DBTX
}

func newStatsStore(q db.DBTX) StatsStore {
	return &statsStore{q: q}
}

func (s *statsStore) UpsertDaily(ctx context.Context, stats *model.DailyStats) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO daily_stats (organization_id, day, tickets_opened, tickets_closed,
			messages_in, messages_out, auto_resolved, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (organization_id, day) DO UPDATE SET
			tickets_opened = EXCLUDED.tickets_opened,
			tickets_closed = EXCLUDED.tickets_closed,
			messages_in = EXCLUDED.messages_in,
			messages_out = EXCLUDED.messages_out,
			auto_resolved = EXCLUDED.auto_resolved,
			updated_at = now()`,
		stats.OrganizationID, stats.Day.UTC().Truncate(24*time.Hour),
		stats.TicketsOpened, stats.TicketsClosed, stats.MessagesIn,
		stats.MessagesOut, stats.AutoResolved)
	return err
}

func (s *statsStore) GetDaily(ctx context.Context, orgID int64, day time.Time) (*model.DailyStats, error) {
	var stats model.DailyStats
	err := s.q.QueryRow(ctx, `
		SELECT organization_id, day, tickets_opened, tickets_closed,
			messages_in, messages_out, auto_resolved
		FROM daily_stats
		WHERE organization_id = $1 AND day = $2`,
		orgID, day.UTC().Truncate(24*time.Hour)).Scan(
		&stats.OrganizationID, &stats.Day, &stats.TicketsOpened, &stats.TicketsClosed,
		&stats.MessagesIn, &stats.MessagesOut, &stats.AutoResolved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &stats, nil
}
