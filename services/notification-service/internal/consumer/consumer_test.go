package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/libs/kafkax"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/inbox"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
)

type scriptedReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func message(eventID string, offset int64) kafka.Message {
	return kafka.Message{
		Topic:  "appointment.notification.requested.v1",
		Offset: offset,
		Value:  []byte(`{}`),
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(eventID)},
			{Key: kafkax.HeaderEventType, Value: []byte("appointment.notification.requested.v1")},
		},
	}
}

func setup(t *testing.T, handler Handler) (*Consumer, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := newConsumer(nil, logger, mock, inbox.NewRepository(), handler)
	c.retry = time.Millisecond
	return c, mock
}

func TestProcessAppliesFreshEventOnce(t *testing.T) {
	handled, after := 0, 0
	c, mock := setup(t, func(ctx context.Context, q db.Querier, msg kafka.Message) (AfterCommit, error) {
		handled++
		_, err := q.Exec(ctx, "INSERT INTO notifications (patient_id) VALUES ($1)", "p-1")
		return func() { after++ }, err
	})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("evt-1", "appointment.notification.requested.v1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO notifications").WithArgs("p-1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("evt-1", "appointment.notification.requested.v1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	ctx := context.Background()
	if err := c.Process(ctx, message("evt-1", 1)); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if err := c.Process(ctx, message("evt-1", 2)); err != nil {
		t.Fatalf("duplicate Process: %v", err)
	}
	if handled != 1 || after != 1 {
		t.Fatalf("expected one application, got handled=%d after=%d", handled, after)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessRollsBackOnHandlerError(t *testing.T) {
	after := 0
	c, mock := setup(t, func(context.Context, db.Querier, kafka.Message) (AfterCommit, error) {
		return func() { after++ }, errors.New("insert failed")
	})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("evt-2", "appointment.notification.requested.v1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()

	if err := c.Process(context.Background(), message("evt-2", 1)); err == nil {
		t.Fatalf("expected handler error")
	}
	if after != 0 {
		t.Fatalf("after-commit must not run on rollback")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessFallsBackToOffsetIdentity(t *testing.T) {
	c, mock := setup(t, func(context.Context, db.Querier, kafka.Message) (AfterCommit, error) {
		return nil, nil
	})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("notes/3/42", "notes").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	msg := kafka.Message{Topic: "notes", Partition: 3, Offset: 42, Key: []byte("p-1")}
	if err := c.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunRetriesThenCommits(t *testing.T) {
	attempts := 0
	c, mock := setup(t, func(context.Context, db.Querier, kafka.Message) (AfterCommit, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient")
		}
		return nil, nil
	})
	// Bounded so a message that never succeeds fails the test instead of hanging it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := &scriptedReader{msgs: []kafka.Message{message("evt-3", 7)}, cancel: cancel}
	c.reader = reader

	const eventType = "appointment.notification.requested.v1"
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("evt-3", eventType).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("evt-3", eventType).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	c.Run(ctx)

	if attempts != 2 {
		t.Fatalf("expected a retry, got %d attempts", attempts)
	}
	if len(reader.committed) != 1 || reader.committed[0] != 7 {
		t.Fatalf("expected offset 7 committed once, got %v", reader.committed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
