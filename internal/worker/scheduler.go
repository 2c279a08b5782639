package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"omnidesk.app/core/common/logger"
	"omnidesk.app/core/core/config"
	"omnidesk.app/core/internal/queue"
	"omnidesk.app/core/internal/store"
)

// Poller drives one sweep over poll-based channel connections.
type Poller interface {
	PollOnce(ctx context.Context)
}

// Scheduler fans out the periodic work: recurring-issue scans and
// analytics rollups per organization, plus the email poll sweep.
// Producer-side dedupe keys keep overlapping worker replicas from
// double-enqueueing the same period.
type Scheduler struct {
	cfg           config.SchedulerConfig
	organizations store.OrganizationStore
	producer      queue.Producer
	poller        Poller
	now           func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewScheduler(cfg config.SchedulerConfig, organizations store.OrganizationStore, producer queue.Producer, poller Poller) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		organizations: organizations,
		producer:      producer,
		poller:        poller,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
}

// Run starts the scheduler tickers. Blocks until Stop() is called.
func (s *Scheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "core.worker.scheduler",
	})

	defer close(s.stoppedCh)

	recurring := time.NewTicker(s.cfg.RecurringInterval)
	defer recurring.Stop()
	analytics := time.NewTicker(s.cfg.AnalyticsInterval)
	defer analytics.Stop()
	emailPoll := time.NewTicker(s.cfg.EmailPollInterval)
	defer emailPoll.Stop()

	slog.InfoContext(ctx, "scheduler started",
		"recurring_interval", s.cfg.RecurringInterval,
		"analytics_interval", s.cfg.AnalyticsInterval,
		"email_poll_interval", s.cfg.EmailPollInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "scheduler stopping")
			return
		case <-recurring.C:
			s.enqueuePerOrganization(ctx, queue.TaskTypeRecurringScan)
		case <-analytics.C:
			s.enqueuePerOrganization(ctx, queue.TaskTypeAnalyticsRollup)
		case <-emailPoll.C:
			s.poller.PollOnce(ctx)
		}
	}
}

// Stop signals the scheduler to stop gracefully.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

func (s *Scheduler) enqueuePerOrganization(ctx context.Context, taskType queue.TaskType) {
	orgs, err := s.organizations.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "listing organizations for schedule tick",
			"error", err,
			"task_type", taskType)
		return
	}

	enqueued := 0
	for _, org := range orgs {
		task, err := s.taskFor(taskType, org.ID)
		if err != nil {
			slog.ErrorContext(ctx, "building scheduled task", "error", err)
			continue
		}
		ok, err := s.producer.EnqueueScheduled(ctx, task)
		if err != nil {
			slog.ErrorContext(ctx, "enqueueing scheduled task",
				"error", err,
				"task_type", taskType,
				"organization_id", org.ID)
			continue
		}
		if ok {
			enqueued++
		}
	}

	slog.InfoContext(ctx, "schedule tick complete",
		"task_type", taskType,
		"organizations", len(orgs),
		"enqueued", enqueued)
}

// taskFor builds the scheduled task with a dedupe key stable for the
// scheduling period, so replicas ticking at roughly the same time
// collapse to one job.
func (s *Scheduler) taskFor(taskType queue.TaskType, orgID int64) (queue.Task, error) {
	now := s.now().UTC()
	switch taskType {
	case queue.TaskTypeRecurringScan:
		return queue.Task{
			TaskType:       taskType,
			OrganizationID: orgID,
			DedupeKey:      fmt.Sprintf("recurring:%d:%s", orgID, now.Format("2006-01-02")),
		}, nil
	case queue.TaskTypeAnalyticsRollup:
		// Roll up the current day once per tick; the rollup upserts,
		// so each run refreshes the day's aggregates in place.
		day := now.Format("2006-01-02")
		return queue.Task{
			TaskType:       taskType,
			OrganizationID: orgID,
			Day:            day,
			DedupeKey:      fmt.Sprintf("analytics:%d:%s:%s", orgID, day, now.Format("2006-01-02T15")),
		}, nil
	default:
		return queue.Task{}, fmt.Errorf("task type %q is not schedulable", taskType)
	}
}
