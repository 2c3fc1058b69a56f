package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/libs/kafkax"
	otelx "github.com/healthcenter/frontdesk/libs/otel"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	Metrics   *metrics.Metrics
}

// Publisher relays outbox rows to Kafka. Events for one appointment share a message key, so
// the hash balancer keeps them on one partition in insertion order.
type Publisher struct {
	pool    db.TxStarter
	repo    *Repository
	logger  *slog.Logger
	metrics *metrics.Metrics
	brokers []string
	every   time.Duration
	batch   int
}

func NewPublisher(pool db.TxStarter, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	p := &Publisher{
		pool:    pool,
		repo:    repo,
		logger:  logger,
		metrics: cfg.Metrics,
		brokers: kafkax.SplitBrokers(cfg.Brokers),
		every:   cfg.PollEvery,
		batch:   cfg.BatchSize,
	}
	if p.every <= 0 {
		p.every = 2 * time.Second
	}
	if p.batch <= 0 {
		p.batch = 50
	}
	return p
}

// Run relays until ctx ends. Without brokers it returns at once and events accumulate in the
// table until a relay with brokers starts.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox relay disabled, no kafka brokers configured")
		return
	}
	p.run(ctx, &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	})
}

func (p *Publisher) run(ctx context.Context, writer MessageWriter) {
	defer func() { _ = writer.Close() }()
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// A full batch means more rows are probably waiting; keep draining.
		for ctx.Err() == nil {
			n, err := p.PublishBatch(ctx, writer)
			if err != nil {
				p.logger.Error("outbox relay failed", "err", err)
				break
			}
			if n > 0 {
				p.logger.Debug("outbox batch relayed", "count", n)
			}
			if n < p.batch {
				break
			}
		}
		p.refreshBacklog(ctx)
	}
}

func (p *Publisher) refreshBacklog(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	n, err := p.repo.Backlog(ctx, p.pool)
	if err != nil {
		p.logger.Warn("outbox backlog query failed", "err", err)
		return
	}
	p.metrics.SetOutboxBacklog(n)
}

// PublishBatch writes one batch to Kafka and marks it published in the same transaction that
// locked the rows. A write failure rolls back and leaves the rows for the next attempt.
func (p *Publisher) PublishBatch(ctx context.Context, writer MessageWriter) (int, error) {
	var sent int
	err := db.InTx(ctx, p.pool, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.batch)
		if err != nil || len(records) == 0 {
			return err
		}
		msgs := make([]kafka.Message, len(records))
		ids := make([]int64, len(records))
		for i, rec := range records {
			traced := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
			meta := kafkax.EventMeta{EventID: rec.EventID, EventType: rec.EventType}
			msgs[i] = kafkax.NewMessage(traced, meta, rec.AggregateID, rec.Payload)
			ids[i] = rec.ID
		}
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
			return err
		}
		sent = len(records)
		return nil
	})
	if err == nil {
		p.metrics.ObserveOutboxPublished(sent)
	}
	return sent, err
}
