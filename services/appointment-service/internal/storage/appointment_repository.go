package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// Scope is the slice of the repository available inside a per-date lock. Everything done
// through it commits or rolls back together.
type Scope interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListByDate(ctx context.Context, day time.Time, statuses ...model.Status) ([]model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) error
	Querier() db.Querier
}

// Hook runs in the transaction that creates an appointment.
type Hook func(ctx context.Context, q db.Querier, appt model.Appointment) error

type AppointmentRepository struct {
	q       db.Querier
	starter db.TxStarter // nil once bound to a transaction
	loc     *time.Location
}

func NewAppointmentRepository(pool db.TxStarter, loc *time.Location) *AppointmentRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &AppointmentRepository{q: pool, starter: pool, loc: loc}
}

func (r *AppointmentRepository) Location() *time.Location { return r.loc }

func (r *AppointmentRepository) Querier() db.Querier { return r.q }

const appointmentColumns = `id, patient_id, COALESCE(staff_id, ''), scheduled_at, reason, status, created_at`

var allStatuses = []string{string(model.StatusPending), string(model.StatusApproved), string(model.StatusDisapproved)}

// CreatePending stores appt as PENDING and runs hooks in the same transaction.
func (r *AppointmentRepository) CreatePending(ctx context.Context, appt model.Appointment, hooks ...Hook) (model.Appointment, error) {
	appt.ID = uuid.NewString()
	appt.Status = model.StatusPending

	write := func(q db.Querier) error {
		err := q.QueryRow(ctx, `
			INSERT INTO appointments (id, patient_id, staff_id, scheduled_at, reason, status)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
			RETURNING created_at
		`, appt.ID, appt.PatientID, appt.StaffID, appt.ScheduledAt, appt.Reason, string(appt.Status)).Scan(&appt.CreatedAt)
		if err != nil {
			return err
		}
		for _, hook := range hooks {
			if err := hook(ctx, q, appt); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if r.starter == nil || len(hooks) == 0 {
		err = write(r.q)
	} else {
		err = db.InTx(ctx, r.starter, func(tx pgx.Tx) error { return write(tx) })
	}
	if err != nil {
		return model.Appointment{}, model.Unavailable("create appointment", err)
	}
	appt.CreatedAt = appt.CreatedAt.In(r.loc)
	return appt, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, model.ErrNotFound
	}
	row := r.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := r.scan(row)
	if err != nil {
		return model.Appointment{}, r.classify("get appointment", err)
	}
	return appt, nil
}

// ListByDate returns the appointments on day's calendar date in the clinic location, ordered by
// time. No statuses means all of them.
func (r *AppointmentRepository) ListByDate(ctx context.Context, day time.Time, statuses ...model.Status) ([]model.Appointment, error) {
	from := model.StartOfDay(day.In(r.loc))
	return r.ListBetween(ctx, from, from.AddDate(0, 0, 1), statuses...)
}

func (r *AppointmentRepository) ListBetween(ctx context.Context, from, to time.Time, statuses ...model.Status) ([]model.Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE scheduled_at >= $1 AND scheduled_at < $2 AND status = ANY($3)
		ORDER BY scheduled_at ASC, created_at ASC
	`, from, to, statusArgs(statuses))
	if err != nil {
		return nil, model.Unavailable("list appointments", err)
	}
	return r.collect(rows, "list appointments")
}

func (r *AppointmentRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, model.Unavailable("list patient appointments", err)
	}
	return r.collect(rows, "list patient appointments")
}

// LatestIDForPatient returns the most recently created appointment id for the patient.
func (r *AppointmentRepository) LatestIDForPatient(ctx context.Context, patientID string) (string, error) {
	var id string
	err := r.q.QueryRow(ctx, `
		SELECT id FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, patientID).Scan(&id)
	if err != nil {
		return "", r.classify("latest appointment", err)
	}
	return id, nil
}

// ListPendingIDs returns PENDING appointments scheduled at or after since, oldest first.
func (r *AppointmentRepository) ListPendingIDs(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id FROM appointments
		WHERE status = $1 AND scheduled_at >= $2
		ORDER BY created_at ASC
		LIMIT $3
	`, string(model.StatusPending), since, limit)
	if err != nil {
		return nil, model.Unavailable("list pending", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, model.Unavailable("list pending", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable("list pending", err)
	}
	return ids, nil
}

func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.ErrNotFound
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments SET status = $2, updated_at = now() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return model.Unavailable("update status", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteByID removes the appointment and returns it as it was. Hooks run in the same
// transaction. Other appointments are untouched.
func (r *AppointmentRepository) DeleteByID(ctx context.Context, id string, hooks ...Hook) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, model.ErrNotFound
	}

	var deleted model.Appointment
	remove := func(q db.Querier) error {
		appt, err := r.scan(q.QueryRow(ctx, `DELETE FROM appointments WHERE id = $1 RETURNING `+appointmentColumns, id))
		if err != nil {
			return err
		}
		for _, hook := range hooks {
			if err := hook(ctx, q, appt); err != nil {
				return err
			}
		}
		deleted = appt
		return nil
	}

	var err error
	if r.starter == nil || len(hooks) == 0 {
		err = remove(r.q)
	} else {
		err = db.InTx(ctx, r.starter, func(tx pgx.Tx) error { return remove(tx) })
	}
	if err != nil {
		return model.Appointment{}, r.classify("delete appointment", err)
	}
	return deleted, nil
}

type StatusCounts struct {
	Pending     int `json:"pending"`
	Approved    int `json:"approved"`
	Disapproved int `json:"disapproved"`
	Total       int `json:"total"`
}

func (r *AppointmentRepository) CountByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := r.q.Query(ctx, `SELECT status, count(*) FROM appointments GROUP BY status`)
	if err != nil {
		return StatusCounts{}, model.Unavailable("count appointments", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, model.Unavailable("count appointments", err)
		}
		switch model.Status(status) {
		case model.StatusPending:
			counts.Pending = n
		case model.StatusApproved:
			counts.Approved = n
		case model.StatusDisapproved:
			counts.Disapproved = n
		}
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return StatusCounts{}, model.Unavailable("count appointments", err)
	}
	return counts, nil
}

// LockDate runs fn in a transaction holding the clinic-wide write lock for day's date.
// Concurrent callers for the same date run one after another; each sees the previous commit.
func (r *AppointmentRepository) LockDate(ctx context.Context, day time.Time, fn func(Scope) error) error {
	if r.starter == nil {
		return errors.New("LockDate called inside a transaction")
	}
	key := "appointments:" + day.In(r.loc).Format(model.DateLayout)
	var fnErr error
	err := db.InTx(ctx, r.starter, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return model.Unavailable("lock date", err)
		}
		fnErr = fn(&AppointmentRepository{q: tx, loc: r.loc})
		return fnErr
	})
	if err != nil && fnErr == nil && !errors.Is(err, model.ErrStoreUnavailable) {
		return model.Unavailable("commit date lock", err)
	}
	return err
}

func (r *AppointmentRepository) collect(rows pgx.Rows, op string) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := r.scan(rows)
		if err != nil {
			return nil, model.Unavailable(op, err)
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable(op, err)
	}
	return appts, nil
}

func (r *AppointmentRepository) scan(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	if err := row.Scan(&appt.ID, &appt.PatientID, &appt.StaffID, &appt.ScheduledAt, &appt.Reason, &status, &appt.CreatedAt); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.ScheduledAt = appt.ScheduledAt.In(r.loc)
	appt.CreatedAt = appt.CreatedAt.In(r.loc)
	return appt, nil
}

func (r *AppointmentRepository) classify(op string, err error) error {
	if db.IsNoRows(err) || errors.Is(err, model.ErrNotFound) {
		return model.ErrNotFound
	}
	return model.Unavailable(op, err)
}

func statusArgs(statuses []model.Status) []string {
	if len(statuses) == 0 {
		return allStatuses
	}
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
