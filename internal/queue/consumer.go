package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"omnidesk.app/core/common/logger"
)

type ConsumerConfig struct {
	Stream      string        // Redis stream name
	Group       string        // Redis consumer group name
	Consumer    string        // Redis consumer name
	DLQStream   string        // Dead letter stream for terminally failed messages
	BatchSize   int64         // Messages to read per batch
	Block       time.Duration // How long to block waiting for new messages
	MaxAttempts int           // Retry ceiling before a message moves to the DLQ
	BaseDelay   time.Duration // First retry delay, doubled per subsequent attempt
}

type Message struct {
	ID             string
	TaskType       TaskType
	OrganizationID int64
	TicketID       *int64
	MessageID      *int64
	ConnectionID   *int64
	Day            string
	DedupeKey      string
	Attempt        int
	TraceID        string
	Raw            redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) Config() ConsumerConfig { return c.cfg }

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Starting from "0" instead of "$" keeps messages that arrived while
	// no group existed, so restarts never skip work.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "core.queue.consumer",
		Queue:     &c.cfg.Stream,
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = new messages not yet delivered to anyone. Unacked messages
		// are picked up by the reclaimer on its own goroutine.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

// RetryDelay returns the backoff before the given attempt runs:
// BaseDelay doubled per attempt already made.
func (c *RedisConsumer) RetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return c.cfg.BaseDelay
	}
	return c.cfg.BaseDelay << (attempt - 1)
}

func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	nextAttempt := msg.Attempt + 1

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	values := messageValues(msg, nextAttempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if delay := c.RetryDelay(msg.Attempt); delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", nextAttempt,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	values := messageValues(msg, msg.Attempt)
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	orgID, err := parseOptionalInt64(msg.Values, "organization_id")
	if err != nil {
		return Message{}, err
	}
	ticketID, err := parseOptionalInt64(msg.Values, "ticket_id")
	if err != nil {
		return Message{}, err
	}
	messageID, err := parseOptionalInt64(msg.Values, "message_id")
	if err != nil {
		return Message{}, err
	}
	connectionID, err := parseOptionalInt64(msg.Values, "connection_id")
	if err != nil {
		return Message{}, err
	}

	day := parseOptionalString(msg.Values, "day")
	dedupeKey := parseOptionalString(msg.Values, "dedupe_key")
	traceID := parseOptionalString(msg.Values, "trace_id")

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	taskType := TaskType(parseOptionalString(msg.Values, "task_type"))
	if taskType == "" {
		return Message{}, fmt.Errorf("missing task_type")
	}
	if orgID == nil {
		return Message{}, fmt.Errorf("missing organization_id")
	}

	switch taskType {
	case TaskTypeTicketProcess:
		if ticketID == nil || messageID == nil {
			return Message{}, fmt.Errorf("missing ticket_id or message_id")
		}
	case TaskTypeOutboundEmail:
		if ticketID == nil || messageID == nil || connectionID == nil {
			return Message{}, fmt.Errorf("missing ticket_id, message_id or connection_id")
		}
	case TaskTypeRecurringScan:
		// Organization scoped only.
	case TaskTypeAnalyticsRollup:
		if day == "" {
			return Message{}, fmt.Errorf("missing day")
		}
	default:
		return Message{}, fmt.Errorf("unknown task_type %q", taskType)
	}

	return Message{
		ID:             msg.ID,
		TaskType:       taskType,
		OrganizationID: *orgID,
		TicketID:       ticketID,
		MessageID:      messageID,
		ConnectionID:   connectionID,
		Day:            day,
		DedupeKey:      dedupeKey,
		Attempt:        attempt,
		TraceID:        traceID,
		Raw:            msg,
	}, nil
}

func parseOptionalInt64(values map[string]any, key string) (*int64, error) {
	raw, ok := values[key]
	if !ok {
		return nil, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return &num, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func messageValues(msg Message, attempt int) map[string]any {
	values := map[string]any{
		"task_type":       string(msg.TaskType),
		"organization_id": msg.OrganizationID,
		"attempt":         attempt,
	}
	if msg.TicketID != nil {
		values["ticket_id"] = *msg.TicketID
	}
	if msg.MessageID != nil {
		values["message_id"] = *msg.MessageID
	}
	if msg.ConnectionID != nil {
		values["connection_id"] = *msg.ConnectionID
	}
	if msg.Day != "" {
		values["day"] = msg.Day
	}
	if msg.DedupeKey != "" {
		values["dedupe_key"] = msg.DedupeKey
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values
}
