package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"storefront-payments/internal/adapters/storage/clickhouse"
	"storefront-payments/internal/adapters/storage/redis"
	"storefront-payments/internal/config"
	"storefront-payments/internal/observability"
	"storefront-payments/internal/recorder"
)

const (
	consumerGroup     = "payment-outcome-recorder"
	maxInsertAttempts = 3
)

func main() {
	// --- Configuration Setup ---
	cfg, err := config.Load(config.Path())
	if err != nil {
		observability.SetupLogger("").Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.App.Env)
	logger.Info("outcome recorder starting", "env", cfg.App.Env, "topic", cfg.Kafka.Topic)

	if cfg.Kafka.BootstrapServers == "" || cfg.ClickHouse.Addr == "" {
		logger.Error("kafka.bootstrap_servers and clickhouse.addr are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Component Initialization ---
	kafkaBrokers := strings.Split(cfg.Kafka.BootstrapServers, ",")

	dlqProducer, err := kgo.NewClient(
		kgo.SeedBrokers(kafkaBrokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		logger.Error("failed to create Kafka producer for DLQ", "error", err)
		os.Exit(1)
	}
	defer dlqProducer.Close()

	store, err := clickhouse.Open(ctx, cfg.ClickHouse)
	if err != nil {
		logger.Error("failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close ClickHouse connection", "error", err)
		}
	}()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure outcome schema", "error", err)
		os.Exit(1)
	}

	var dedupe recorder.Deduper
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(cfg.Redis.Addr)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("Failed to close redis connection", "error", err)
			}
		}()
		dedupe = recorder.NewRedisDeduper(rdb, 24*time.Hour)
	}

	rec := recorder.New(store, dedupe, logger)

	consumerClient, err := kgo.NewClient(
		kgo.SeedBrokers(kafkaBrokers...),
		kgo.ConsumerGroup(consumerGroup),
		kgo.ConsumeTopics(cfg.Kafka.Topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		logger.Error("failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	defer consumerClient.Close()

	logger.Info("outcome recorder ready")

	for {
		fetches := consumerClient.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachError(func(t string, p int32, err error) {
			logger.Error("error reading from kafka", "topic", t, "partition", p, "error", err)
		})

		fetches.EachRecord(func(record *kgo.Record) {
			err := handleWithRetry(ctx, rec, record)
			switch {
			case err == nil:
			case ctx.Err() != nil:
			case errors.Is(err, recorder.ErrPoisonRecord):
				logger.Error("undecodable outcome, sending to DLQ", "offset", record.Offset, "error", err)
				sendToDLQ(ctx, dlqProducer, cfg.Kafka.DLQTopic, record, "decode_error", err.Error(), logger)
			default:
				logger.Error("giving up on outcome, sending to DLQ", "offset", record.Offset, "error", err)
				sendToDLQ(ctx, dlqProducer, cfg.Kafka.DLQTopic, record, "insert_error", err.Error(), logger)
			}
		})
		if ctx.Err() != nil {
			break
		}

		if err := consumerClient.CommitUncommittedOffsets(ctx); err != nil {
			logger.Error("error committing offsets", "error", err)
		}
	}

	logger.Info("outcome recorder stopping")
}

// handleWithRetry retries storage failures with a linear backoff.
func handleWithRetry(ctx context.Context, rec *recorder.Recorder, record *kgo.Record) error {
	var err error
	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		err = rec.Handle(ctx, record.Value)
		if err == nil || errors.Is(err, recorder.ErrPoisonRecord) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return err
}

// sendToDLQ forwards the original record with failure metadata in headers.
func sendToDLQ(ctx context.Context, p *kgo.Client, topic string, original *kgo.Record, errorType, errorString string, logger *slog.Logger) {
	dlqRecord := &kgo.Record{
		Topic: topic,
		Value: original.Value,
		Key:   original.Key,
		Headers: []kgo.RecordHeader{
			{Key: "error_type", Value: []byte(errorType)},
			{Key: "error_string", Value: []byte(errorString)},
			{Key: "original_topic", Value: []byte(original.Topic)},
		},
	}
	if err := p.ProduceSync(context.WithoutCancel(ctx), dlqRecord).FirstErr(); err != nil {
		logger.Error("failed to send record to DLQ", "topic", topic, "error", err)
	}
}
