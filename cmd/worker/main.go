package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"omnidesk.app/core/common/id"
	"omnidesk.app/core/common/logger"
	"omnidesk.app/core/common/otel"
	"omnidesk.app/core/core/config"
	"omnidesk.app/core/core/db"
	"omnidesk.app/core/internal/queue"
	"omnidesk.app/core/internal/service"
	"omnidesk.app/core/internal/store"
	"omnidesk.app/core/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "omnidesk worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Queues.Group,
		"consumer_name", cfg.Queues.Consumer)

	// Distinct node ID from the server so snowflake IDs never collide.
	if err := id.Init(id.NodeWorker); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Queues.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected")

	producer := queue.NewRedisProducer(redisClient, cfg.Queues, nil)
	defer producer.Close()

	stores := store.NewStores(database.Pool())
	cache := service.NewRedisCache(redisClient, "omnidesk")

	services, err := service.NewServices(stores, service.NewTxRunner(database), cfg, producer, cache)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build services", "error", err)
		os.Exit(1)
	}

	processor := worker.NewProcessor(
		stores.Tickets(),
		stores.Settings(),
		services.Triage(),
		services.Relay(),
		services.EmailSender(),
		services.Recurring(),
		services.Analytics(),
		cfg.Scheduler.RecurringWindowDays,
	)

	pools, err := buildPools(redisClient, cfg, processor)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build queue workers", "error", err)
		os.Exit(1)
	}

	scheduler := worker.NewScheduler(cfg.Scheduler, stores.Organizations(), producer, services.Ingest())

	for _, p := range pools {
		p := p
		go func() {
			if err := p.worker.Run(ctx); err != nil {
				slog.ErrorContext(ctx, "worker stopped with error", "error", err, "stream", p.stream)
			}
		}()
		go p.reclaimer.Run(ctx)
	}
	go scheduler.Run(ctx)

	slog.InfoContext(ctx, "worker initialized and running", "queues", len(pools))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	scheduler.Stop()
	for _, p := range pools {
		p.reclaimer.Stop()
		p.worker.Stop()
	}

	if telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

type queuePool struct {
	stream    string
	worker    *worker.Worker
	reclaimer *worker.Reclaimer
}

// buildPools wires one consumer, worker pool and reclaimer per queue.
// Each queue keeps its own retry ceiling and backoff base from config.
func buildPools(redisClient *redis.Client, cfg config.Config, processor *worker.Processor) ([]queuePool, error) {
	specs := []struct {
		queue       config.QueueConfig
		concurrency int
	}{
		{cfg.Queues.TicketProcessing, 4},
		{cfg.Queues.OutboundEmail, 2},
		{cfg.Queues.RecurringDetection, 1},
		{cfg.Queues.AnalyticsAggregation, 1},
	}

	pools := make([]queuePool, 0, len(specs))
	for _, spec := range specs {
		consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
			Stream:      spec.queue.Stream,
			Group:       cfg.Queues.Group,
			Consumer:    cfg.Queues.Consumer,
			DLQStream:   spec.queue.DLQStream,
			BatchSize:   1,
			Block:       5 * time.Second,
			MaxAttempts: spec.queue.MaxAttempts,
			BaseDelay:   spec.queue.BaseDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("creating consumer for %s: %w", spec.queue.Stream, err)
		}

		w := worker.New(consumer, processor.Process, worker.Config{
			MaxAttempts: spec.queue.MaxAttempts,
			Concurrency: spec.concurrency,
		})

		reclaimer := worker.NewReclaimer(redisClient, worker.ReclaimerConfig{
			Stream:    spec.queue.Stream,
			Group:     cfg.Queues.Group,
			Consumer:  cfg.Queues.Consumer + "-reclaimer",
			MinIdle:   5 * time.Minute,
			Interval:  time.Minute,
			BatchSize: 10,
		}, consumer, processor.Process)

		pools = append(pools, queuePool{stream: spec.queue.Stream, worker: w, reclaimer: reclaimer})
	}
	return pools, nil
}

const banner = `
 ██████╗ ███╗   ███╗███╗   ██╗██╗██████╗ ███████╗███████╗██╗  ██╗    ██╗    ██╗██████╗ ██╗  ██╗██████╗
██╔═══██╗████╗ ████║████╗  ██║██║██╔══██╗██╔════╝██╔════╝██║ ██╔╝    ██║    ██║██╔══██╗██║ ██╔╝██╔══██╗
██║   ██║██╔████╔██║██╔██╗ ██║██║██║  ██║█████╗  ███████╗█████╔╝     ██║ █╗ ██║██████╔╝█████╔╝ ██████╔╝
██║   ██║██║╚██╔╝██║██║╚██╗██║██║██║  ██║██╔══╝  ╚════██║██╔═██╗     ██║███╗██║██╔══██╗██╔═██╗ ██╔══██╗
╚██████╔╝██║ ╚═╝ ██║██║ ╚████║██║██████╔╝███████╗███████║██║  ██╗    ╚███╔███╔╝██║  ██║██║  ██╗██║  ██║
 ╚═════╝ ╚═╝     ╚═╝╚═╝  ╚═══╝╚═╝╚═════╝ ╚══════╝╚══════╝╚═╝  ╚═╝     ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝
`
