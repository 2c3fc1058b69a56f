package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/healthcenter/frontdesk/services/appointment-service/internal/adjudication"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/outbox"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var jobColumns = []string{"id", "appointment_id", "traceparent", "tracestate", "attempts", "max_attempts", "next_run_at"}

type stubReader map[string]model.Appointment

func (s stubReader) Get(_ context.Context, id string) (model.Appointment, error) {
	a, ok := s[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return a, nil
}

type stubAdjudicator struct {
	calls []string
	err   error
}

func (s *stubAdjudicator) Adjudicate(_ context.Context, id string) (adjudication.Decision, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return adjudication.Decision{}, s.err
	}
	return adjudication.Decision{Appointment: model.Appointment{ID: id, Status: model.StatusApproved}}, nil
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func newWorker(mock pgxmock.PgxPoolIface, reader stubReader, adj *stubAdjudicator) *Worker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(mock, NewRepository(), outbox.NewRepository(), reader, adj, logger, WorkerConfig{BatchSize: 5, Backoff: time.Minute})
	w.now = func() time.Time { return time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC) }
	return w
}

func TestEnqueueReportsDuplicates(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository()
	runAt := time.Date(2025, 6, 9, 12, 0, 30, 0, time.UTC)

	mock.ExpectExec("INSERT INTO adjudication_jobs").
		WithArgs("a-1", runAt, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO adjudication_jobs").
		WithArgs("a-1", runAt, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	if ok, err := repo.Enqueue(context.Background(), mock, "a-1", runAt); err != nil || !ok {
		t.Fatalf("first enqueue: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.Enqueue(context.Background(), mock, "a-1", runAt); err != nil || ok {
		t.Fatalf("second enqueue should be a no-op: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHookSchedulesAfterGrace(t *testing.T) {
	mock := newMock(t)
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO adjudication_jobs").
		WithArgs("a-1", now.Add(30*time.Second), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	hook := NewRepository().Hook(30*time.Second, func() time.Time { return now })
	if err := hook(context.Background(), mock, model.Appointment{ID: "a-1"}); err != nil {
		t.Fatalf("hook: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessBatchAdjudicatesOnlyPending(t *testing.T) {
	mock := newMock(t)
	reader := stubReader{
		"pending":  {ID: "pending", Status: model.StatusPending},
		"approved": {ID: "approved", Status: model.StatusApproved},
	}
	adj := &stubAdjudicator{}
	w := newWorker(mock, reader, adj)
	due := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM adjudication_jobs").WithArgs(5).WillReturnRows(pgxmock.NewRows(jobColumns).
		AddRow(int64(1), "pending", "", "", 0, 5, due).
		AddRow(int64(2), "approved", "", "", 0, 5, due).
		AddRow(int64(3), "deleted", "", "", 0, 5, due))
	mock.ExpectExec("SET status = 'processed'").WithArgs([]int64{1, 2, 3}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectCommit()

	n, err := w.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 jobs claimed, got %d", n)
	}
	if len(adj.calls) != 1 || adj.calls[0] != "pending" {
		t.Fatalf("only the pending appointment should be adjudicated, got %v", adj.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessBatchBacksOffThenDeadLetters(t *testing.T) {
	mock := newMock(t)
	reader := stubReader{
		"a-1": {ID: "a-1", Status: model.StatusPending},
		"a-2": {ID: "a-2", Status: model.StatusPending},
	}
	adj := &stubAdjudicator{err: errors.New("store unavailable")}
	w := newWorker(mock, reader, adj)
	next := w.now().Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM adjudication_jobs").WithArgs(5).WillReturnRows(pgxmock.NewRows(jobColumns).
		AddRow(int64(7), "a-1", "", "", 0, 3, time.Now()).
		AddRow(int64(8), "a-2", "", "", 2, 3, time.Now()))
	mock.ExpectExec("UPDATE adjudication_jobs").WithArgs(int64(7), 1, "pending", next, "store unavailable").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE adjudication_jobs").WithArgs(int64(8), 3, "failed", next, "store unavailable").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("appointment", "a-2", outbox.EventAdjudicationDLQ, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if _, err := w.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	mock := newMock(t)
	w := newWorker(mock, stubReader{}, &stubAdjudicator{})

	mock.ExpectBegin()
	mock.ExpectQuery("FROM adjudication_jobs").WithArgs(5).WillReturnRows(pgxmock.NewRows(jobColumns))
	mock.ExpectCommit()

	if n, err := w.ProcessBatch(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected empty batch, got n=%d err=%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
