package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"omnidesk.app/core/common/logger"
	"omnidesk.app/core/internal/store"
)

// AnalyticsService recomputes the per-organization daily counters. The
// rollup is idempotent: recomputing the same day overwrites the previous
// aggregate, so re-runs and overlapping schedules are harmless.
type AnalyticsService struct {
	tickets store.TicketStore
	stats   store.StatsStore
}

func NewAnalyticsService(tickets store.TicketStore, stats store.StatsStore) *AnalyticsService {
	return &AnalyticsService{tickets: tickets, stats: stats}
}

func (s *AnalyticsService) RollupDay(ctx context.Context, orgID int64, day time.Time) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		OrganizationID: &orgID,
		Component:      "core.service.analytics",
	})

	day = day.UTC().Truncate(24 * time.Hour)

	stats, err := s.tickets.CountDaily(ctx, orgID, day)
	if err != nil {
		return fmt.Errorf("counting daily stats: %w", err)
	}

	if err := s.stats.UpsertDaily(ctx, stats); err != nil {
		return fmt.Errorf("persisting daily stats: %w", err)
	}

	slog.InfoContext(ctx, "daily stats rolled up",
		"day", day.Format("2006-01-02"),
		"tickets_opened", stats.TicketsOpened,
		"tickets_closed", stats.TicketsClosed,
		"auto_resolved", stats.AutoResolved)
	return nil
}
