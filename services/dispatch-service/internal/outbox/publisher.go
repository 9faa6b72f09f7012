package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/crewdispatch/libs/db"
	"github.com/md-rashed-zaman/crewdispatch/libs/kafkax"
	"github.com/md-rashed-zaman/crewdispatch/libs/metrics"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// txRunner and rowStore are what the publisher needs from *db.Pool and
// *Repository.
type txRunner interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type rowStore interface {
	Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error
	Prune(ctx context.Context, tx pgx.Tx, cutoff time.Time) (int64, error)
}

// Publisher relays committed outbox rows to Kafka, at least once.
// Consumers dedupe on the event_id header.
type Publisher struct {
	pool      txRunner
	repo      rowStore
	logger    *slog.Logger
	metrics   *metrics.Registry
	brokers   []string
	pollEvery time.Duration
	batchSize int
	retention time.Duration
}

type PublisherConfig struct {
	Brokers   []string
	PollEvery time.Duration
	BatchSize int
	// Retention is how long published rows stay for replay. Zero keeps
	// them forever.
	Retention time.Duration
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, m *metrics.Registry, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		metrics:   m,
		brokers:   cfg.Brokers,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		retention: cfg.Retention,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}
	writer := kafkax.NewWriter(p.brokers)
	defer writer.Close()
	p.run(ctx, writer)
}

func (p *Publisher) run(ctx context.Context, writer messageWriter) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()
	var pruned time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.drain(ctx, writer)
			if p.retention > 0 && now.Sub(pruned) >= time.Hour {
				p.prune(ctx, now.Add(-p.retention))
				pruned = now
			}
		}
	}
}

// drain keeps publishing while full batches come back, so a backlog
// clears faster than one batch per tick.
func (p *Publisher) drain(ctx context.Context, writer messageWriter) {
	for {
		n, err := p.publishBatch(ctx, writer)
		if err != nil {
			p.logger.Error("outbox publish failed", "err", err)
			return
		}
		if n < p.batchSize {
			return
		}
	}
}

func (p *Publisher) prune(ctx context.Context, cutoff time.Time) {
	var n int64
	err := p.pool.InTx(ctx, func(tx pgx.Tx) (err error) {
		n, err = p.repo.Prune(ctx, tx, cutoff)
		return err
	})
	if err != nil {
		p.logger.Warn("outbox prune failed", "err", err)
		return
	}
	if n > 0 {
		p.logger.Info("outbox pruned", "rows", n, "before", cutoff)
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer messageWriter) (int, error) {
	var published []Record
	err := p.pool.InTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.Claim(ctx, tx, p.batchSize)
		if err != nil || len(records) == 0 {
			return err
		}
		msgs := make([]kafka.Message, 0, len(records))
		ids := make([]int64, 0, len(records))
		for _, r := range records {
			msgs = append(msgs, Message(ctx, r))
			ids = append(ids, r.ID)
		}
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
			return err
		}
		published = records
		return nil
	})
	if err != nil {
		return 0, err
	}
	if p.metrics != nil {
		for _, r := range published {
			p.metrics.OutboxPublished.WithLabelValues(r.EventType).Inc()
		}
	}
	return len(published), nil
}

// Message builds the Kafka record for r under the trace that wrote it.
func Message(ctx context.Context, r Record) kafka.Message {
	return kafkax.NewMessage(r.trace().Restore(ctx), r.EventID, r.EventType, r.AggregateID, r.Payload)
}
