package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/romariotrain/media-forensics/internal/config"
	"github.com/romariotrain/media-forensics/internal/scan/kafka"
	"github.com/romariotrain/media-forensics/internal/scan/outbox"
	pg "github.com/romariotrain/media-forensics/internal/storage/postgres"
)

// run relays ScanStatusChanged events from the outbox table to Kafka.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	if err := pg.Migrate(ctx, db); err != nil {
		return err
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer producer.Close()

	if err := producer.HealthCheck(ctx); err != nil {
		logger.Warn().Err(err).Msg("kafka not reachable yet, events stay pending until it is")
	}

	pub, err := outbox.NewPublisher(outbox.PublisherConfig{
		Store:     pg.NewOutboxRepo(db),
		Producer:  producer,
		Interval:  cfg.OutboxInterval,
		BatchSize: cfg.OutboxBatchSize,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if err := pub.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
