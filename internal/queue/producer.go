package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"omnidesk.app/core/core/config"
)

// dedupeWindow bounds how long a scheduled job's dedupe key suppresses
// re-enqueues. Long enough to cover scheduler restarts within a period.
const dedupeWindow = 20 * time.Minute

type Producer interface {
	Enqueue(ctx context.Context, task Task) error
	// EnqueueScheduled enqueues only if task.DedupeKey has not been seen
	// inside the dedupe window. Returns true when the task was enqueued.
	EnqueueScheduled(ctx context.Context, task Task) (bool, error)
	Close() error
}

type redisProducer struct {
	client *redis.Client
	queues config.QueuesConfig
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, queues config.QueuesConfig, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		queues: queues,
		logger: logger,
	}
}

// streamFor routes a task type to its queue stream.
func (p *redisProducer) streamFor(t TaskType) (string, error) {
	switch t {
	case TaskTypeTicketProcess:
		return p.queues.TicketProcessing.Stream, nil
	case TaskTypeOutboundEmail:
		return p.queues.OutboundEmail.Stream, nil
	case TaskTypeRecurringScan:
		return p.queues.RecurringDetection.Stream, nil
	case TaskTypeAnalyticsRollup:
		return p.queues.AnalyticsAggregation.Stream, nil
	default:
		return "", fmt.Errorf("no stream for task type %q", t)
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task Task) error {
	stream, err := p.streamFor(task.TaskType)
	if err != nil {
		return err
	}

	attempt := task.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	values := taskValues(task, attempt)
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.TaskType, err)
	}

	p.logger.InfoContext(ctx, "enqueued task",
		"task_type", task.TaskType,
		"stream", stream,
		"organization_id", task.OrganizationID,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) EnqueueScheduled(ctx context.Context, task Task) (bool, error) {
	if task.DedupeKey == "" {
		return false, fmt.Errorf("scheduled task %s missing dedupe key", task.TaskType)
	}

	ok, err := p.client.SetNX(ctx, "omnidesk:job:"+task.DedupeKey, 1, dedupeWindow).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe check for %s: %w", task.DedupeKey, err)
	}
	if !ok {
		p.logger.DebugContext(ctx, "scheduled task suppressed by dedupe",
			"task_type", task.TaskType,
			"dedupe_key", task.DedupeKey)
		return false, nil
	}

	if err := p.Enqueue(ctx, task); err != nil {
		return false, err
	}
	return true, nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

func taskValues(task Task, attempt int) map[string]any {
	values := map[string]any{
		"task_type":       string(task.TaskType),
		"organization_id": task.OrganizationID,
		"attempt":         attempt,
	}
	if task.TicketID != nil {
		values["ticket_id"] = *task.TicketID
	}
	if task.MessageID != nil {
		values["message_id"] = *task.MessageID
	}
	if task.ConnectionID != nil {
		values["connection_id"] = *task.ConnectionID
	}
	if task.Day != "" {
		values["day"] = task.Day
	}
	if task.DedupeKey != "" {
		values["dedupe_key"] = task.DedupeKey
	}
	if task.TraceID != nil && *task.TraceID != "" {
		values["trace_id"] = *task.TraceID
	}
	return values
}
