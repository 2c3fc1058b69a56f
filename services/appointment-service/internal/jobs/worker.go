package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	otelx "github.com/healthcenter/frontdesk/libs/otel"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/adjudication"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/outbox"
)

type AppointmentReader interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
}

type Adjudicator interface {
	Adjudicate(ctx context.Context, appointmentID string) (adjudication.Decision, error)
}

type EventWriter interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) error
}

type Worker struct {
	pool        db.TxStarter
	repo        *Repository
	events      EventWriter
	appts       AppointmentReader
	adjudicator Adjudicator
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	backoff     time.Duration
	now         func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool db.TxStarter, repo *Repository, events EventWriter, appts AppointmentReader, adj Adjudicator, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	return &Worker{
		pool:        pool,
		repo:        repo,
		events:      events,
		appts:       appts,
		adjudicator: adj,
		logger:      logger,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		backoff:     cfg.Backoff,
		now:         time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("adjudication batch failed", "err", err)
			}
		}
	}
}

// ProcessBatch claims due jobs and adjudicates every appointment that is still PENDING. Jobs
// for decided or deleted appointments complete without touching the appointment. It returns
// the number of jobs claimed.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, tx.Commit(ctx)
	}

	var done []int64
	type failure struct {
		job Job
		err error
	}
	var failed []failure
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		if err := w.run(jobCtx, job); err != nil {
			failed = append(failed, failure{job, err})
			continue
		}
		done = append(done, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, done); err != nil {
		return 0, err
	}

	for _, f := range failed {
		attempts := f.job.Attempts + 1
		w.logger.Warn("adjudication job failed",
			"job_id", f.job.ID,
			"appointment_id", f.job.AppointmentID,
			"attempt", attempts,
			"err", f.err,
		)
		if err := w.repo.MarkFailed(ctx, tx, f.job.ID, attempts, f.job.MaxAttempts, w.now().Add(w.backoff), f.err.Error()); err != nil {
			return 0, err
		}
		if attempts >= f.job.MaxAttempts {
			jobCtx := otelx.ContextWithTraceContext(ctx, f.job.Traceparent, f.job.Tracestate)
			if err := w.enqueueDLQ(jobCtx, tx, f.job, f.err); err != nil {
				return 0, err
			}
		}
	}

	return len(jobs), tx.Commit(ctx)
}

func (w *Worker) run(ctx context.Context, job Job) error {
	appt, err := w.appts.Get(ctx, job.AppointmentID)
	if errors.Is(err, model.ErrNotFound) {
		w.logger.Info("adjudication job skipped", "appointment_id", job.AppointmentID, "reason", "deleted")
		return nil
	}
	if err != nil {
		return err
	}
	if appt.Status != model.StatusPending {
		w.logger.Debug("adjudication job skipped", "appointment_id", job.AppointmentID, "status", appt.Status)
		return nil
	}
	if _, err := w.adjudicator.Adjudicate(ctx, job.AppointmentID); err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	return nil
}

type dlqPayload struct {
	AppointmentID string `json:"appointment_id"`
	Attempts      int    `json:"attempts"`
	ErrorReason   string `json:"error_reason"`
	FailedAt      string `json:"failed_at"`
}

func (w *Worker) enqueueDLQ(ctx context.Context, q db.Querier, job Job, cause error) error {
	evt, err := outbox.NewAppointmentEvent(job.AppointmentID, outbox.EventAdjudicationDLQ, dlqPayload{
		AppointmentID: job.AppointmentID,
		Attempts:      job.Attempts + 1,
		ErrorReason:   cause.Error(),
		FailedAt:      w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.events.Insert(ctx, q, evt)
}
