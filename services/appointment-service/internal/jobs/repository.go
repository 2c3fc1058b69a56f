package jobs

import (
	"context"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	otelx "github.com/healthcenter/frontdesk/libs/otel"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/storage"
)

// Job is one pending request to (re)adjudicate an appointment.
type Job struct {
	ID            int64
	AppointmentID string
	Traceparent   string
	Tracestate    string
	Attempts      int
	MaxAttempts   int
	NextRunAt     time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Enqueue schedules an adjudication of appointmentID at runAt. An appointment has at most one
// pending job; enqueueing again while one is waiting is a no-op. It reports whether a row was
// written.
func (r *Repository) Enqueue(ctx context.Context, q db.Querier, appointmentID string, runAt time.Time) (bool, error) {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	tag, err := q.Exec(ctx, `
		INSERT INTO adjudication_jobs (appointment_id, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (appointment_id) WHERE status = 'pending' DO NOTHING
	`, appointmentID, runAt.UTC(), traceparent, tracestate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Hook returns a storage hook that enqueues a job for the created appointment, due after
// grace.
func (r *Repository) Hook(grace time.Duration, now func() time.Time) storage.Hook {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, q db.Querier, appt model.Appointment) error {
		_, err := r.Enqueue(ctx, q, appt.ID, now().Add(grace))
		return err
	}
}

func (r *Repository) FetchDue(ctx context.Context, q db.Querier, limit int) ([]Job, error) {
	rows, err := q.Query(ctx, `
		SELECT id, appointment_id, traceparent, tracestate, attempts, max_attempts, next_run_at
		FROM adjudication_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.AppointmentID, &j.Traceparent, &j.Tracestate, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *Repository) MarkProcessed(ctx context.Context, q db.Querier, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE adjudication_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// MarkFailed records a failed attempt. The job stays pending until attempts reaches
// maxAttempts.
func (r *Repository) MarkFailed(ctx context.Context, q db.Querier, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := q.Exec(ctx, `
		UPDATE adjudication_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt.UTC(), lastError)
	return err
}
