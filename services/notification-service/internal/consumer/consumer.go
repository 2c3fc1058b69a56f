package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/libs/kafkax"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/inbox"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"
)

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AfterCommit runs once the handler's transaction has committed.
type AfterCommit func()

// Handler applies msg through q, the transaction that also records the message in the inbox.
type Handler func(ctx context.Context, q db.Querier, msg kafka.Message) (AfterCommit, error)

type Consumer struct {
	reader  Reader
	pool    db.TxStarter
	inbox   *inbox.Repository
	logger  *slog.Logger
	handler Handler
	retry   time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, pool db.TxStarter, inboxRepo *inbox.Repository, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, logger, pool, inboxRepo, handler)
}

func newConsumer(reader Reader, logger *slog.Logger, pool db.TxStarter, inboxRepo *inbox.Repository, handler Handler) *Consumer {
	return &Consumer{
		reader:  reader,
		pool:    pool,
		inbox:   inboxRepo,
		logger:  logger,
		handler: handler,
		retry:   time.Second,
	}
}

// Run reads until ctx ends. A message's offset is committed only after it was applied or found
// to be a duplicate; a failing message is retried in place.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			if !sleep(ctx, c.retry) {
				return
			}
			continue
		}

		for {
			if err := c.Process(ctx, msg); err == nil {
				break
			}
			if !sleep(ctx, c.retry) {
				return
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "offset", msg.Offset)
		}
	}
}

// Process applies one message exactly once per event id.
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) error {
	ctx, span := kafkax.StartConsumerSpan(ctx, "notification-service/consumer", msg)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) == "" {
		meta.EventID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}

	var after AfterCommit
	duplicate := false
	err := db.InTx(ctx, c.pool, func(tx pgx.Tx) error {
		fresh, err := c.inbox.Record(ctx, tx, meta.EventID, meta.EventType)
		if err != nil {
			return fmt.Errorf("inbox record: %w", err)
		}
		if !fresh {
			duplicate = true
			return nil
		}
		after, err = c.handler(ctx, tx, msg)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler")
		c.logger.Error("event handling failed", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
		return err
	}
	if duplicate {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}
	if after != nil {
		after()
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
