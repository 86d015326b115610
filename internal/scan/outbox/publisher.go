// Package outbox relays scan status events recorded in the database to the
// message broker with at-least-once delivery.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-forensics/internal/metrics"
)

type Record struct {
	ID          int64
	EventID     uuid.UUID
	EventType   string
	AggregateID uuid.UUID
	Payload     []byte
	OccurredAt  time.Time
}

type Store interface {
	GetPending(ctx context.Context, limit int) ([]Record, error)
	MarkProcessed(ctx context.Context, id int64) error
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

type Publisher struct {
	store     Store
	producer  EventPublisher
	interval  time.Duration
	batchSize int
	logger    zerolog.Logger
}

type PublisherConfig struct {
	Store     Store
	Producer  EventPublisher
	Interval  time.Duration
	BatchSize int
	Logger    zerolog.Logger
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if cfg.Producer == nil {
		return nil, fmt.Errorf("event producer is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got: %v", cfg.Interval)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got: %d", cfg.BatchSize)
	}

	return &Publisher{
		store:     cfg.Store,
		producer:  cfg.Producer,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger.With().Str("component", "outbox_publisher").Logger(),
	}, nil
}

// Start polls the outbox until ctx is canceled. Failed events stay pending
// and are retried on the next tick; consumers must be idempotent on event_id.
func (p *Publisher) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().
		Dur("interval", p.interval).
		Int("batch_size", p.batchSize).
		Msg("outbox publisher started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Err(ctx.Err()).Msg("outbox publisher stopped")
			return ctx.Err()

		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				p.logger.Error().Err(err).Msg("failed to publish batch")
			}
		}
	}
}

// PublishBatch relays one batch and reports how many events were published.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	records, err := p.store.GetPending(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending records: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	var published, failed, marked int

	for _, record := range records {
		log := p.logger.With().
			Stringer("event_id", record.EventID).
			Str("event_type", record.EventType).
			Stringer("scan_id", record.AggregateID).
			Int64("outbox_id", record.ID).
			Logger()

		// Keyed by scan so a scan's transitions keep their order.
		if err := p.producer.Publish(ctx, record.AggregateID.String(), record.Payload); err != nil {
			log.Error().Err(err).Msg("failed to publish event")
			metrics.OutboxFailed.Inc()
			failed++
			continue
		}
		published++
		metrics.OutboxPublished.Inc()

		if err := p.store.MarkProcessed(ctx, record.ID); err != nil {
			// Will be published again; delivery is at-least-once.
			log.Warn().Err(err).Msg("failed to mark event as processed")
			continue
		}
		marked++
	}

	p.logger.Info().
		Int("total", len(records)).
		Int("published", published).
		Int("failed", failed).
		Int("marked", marked).
		Msg("batch processing completed")

	return published, nil
}
