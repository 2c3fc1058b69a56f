// Package adjudication turns PENDING appointments into APPROVED or DISAPPROVED ones.
package adjudication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/availability"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/conflict"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/metrics"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/notify"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/outbox"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListBetween(ctx context.Context, from, to time.Time, statuses ...model.Status) ([]model.Appointment, error)
	LockDate(ctx context.Context, day time.Time, fn func(storage.Scope) error) error
}

type EventWriter interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) error
}

type Adjudicator struct {
	store   Store
	events  EventWriter
	emitter notify.Emitter
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Adjudicator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adjudicator) { a.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(a *Adjudicator) { a.now = now }
}

func New(store Store, events EventWriter, emitter notify.Emitter, logger *slog.Logger, opts ...Option) *Adjudicator {
	a := &Adjudicator{
		store:   store,
		events:  events,
		emitter: emitter,
		logger:  logger,
		tracer:  otel.Tracer("appointment-service/adjudication"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Decision is the outcome of one adjudication.
type Decision struct {
	Appointment model.Appointment
	// Conflicting is the approved appointment that caused a rejection.
	Conflicting *model.Appointment
	// Suggestions are the alternatives offered in the rejection notice.
	Suggestions []time.Time
}

func (d Decision) Status() model.Status { return d.Appointment.Status }

type adjudicatedPayload struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	ScheduledAt   string `json:"scheduled_at"`
	Status        string `json:"status"`
	ConflictsWith string `json:"conflicts_with,omitempty"`
	DecidedAt     string `json:"decided_at"`
}

// Adjudicate approves the appointment unless its start falls inside another APPROVED
// appointment's hour on the same date, then notifies the patient once.
//
// The read of approved appointments and the status write happen under the per-date lock, so
// two appointments for the same slot can never both be approved. There is no guard against
// re-adjudication: a second call recomputes from scratch and may flip the status if the
// approved set changed in between. Notification failures are logged and do not undo the
// decision.
func (a *Adjudicator) Adjudicate(ctx context.Context, appointmentID string) (Decision, error) {
	ctx, span := a.tracer.Start(ctx, "adjudication.adjudicate",
		trace.WithAttributes(attribute.String("appointment.id", appointmentID)))
	defer span.End()
	started := a.now()

	appt, err := a.store.Get(ctx, appointmentID)
	if err != nil {
		return Decision{}, a.fail(span, "lookup", appointmentID, err)
	}

	var decision Decision
	err = a.store.LockDate(ctx, appt.Date(), func(s storage.Scope) error {
		current, err := s.Get(ctx, appointmentID)
		if err != nil {
			return err
		}
		approved, err := s.ListByDate(ctx, current.ScheduledAt, model.StatusApproved)
		if err != nil {
			return err
		}

		status := model.StatusApproved
		hit, conflicting := conflict.Authoritative().HasConflict(current.ScheduledAt, current.ID, approved)
		if hit {
			status = model.StatusDisapproved
		}
		if err := s.UpdateStatus(ctx, current.ID, status); err != nil {
			return err
		}

		payload := adjudicatedPayload{
			AppointmentID: current.ID,
			PatientID:     current.PatientID,
			ScheduledAt:   current.ScheduledAt.Format(time.RFC3339),
			Status:        string(status),
			DecidedAt:     a.now().UTC().Format(time.RFC3339),
		}
		if conflicting != nil {
			c := *conflicting
			payload.ConflictsWith = c.ID
			decision.Conflicting = &c
		}
		evt, err := outbox.NewAppointmentEvent(current.ID, outbox.EventAdjudicated, payload)
		if err != nil {
			return err
		}
		if err := a.events.Insert(ctx, s.Querier(), evt); err != nil {
			return model.Unavailable("record adjudication", err)
		}

		current.Status = status
		decision.Appointment = current
		return nil
	})
	if err != nil {
		return Decision{}, a.fail(span, "decide", appointmentID, err)
	}

	appt = decision.Appointment
	span.SetAttributes(attribute.String("appointment.status", string(appt.Status)))
	a.metrics.ObserveDecision(string(appt.Status), a.now().Sub(started).Seconds())
	attrs := []any{
		"appointment_id", appt.ID,
		"patient_id", appt.PatientID,
		"date", appt.ScheduledAt.Format(model.DateLayout),
		"scheduled_at", appt.ScheduledAt.Format(model.TimeLayout),
		"status", appt.Status,
	}
	if decision.Conflicting != nil {
		attrs = append(attrs, "conflicts_with", decision.Conflicting.ID)
	}
	a.logger.Info("appointment adjudicated", attrs...)

	a.notifyPatient(ctx, &decision)
	return decision, nil
}

func (a *Adjudicator) notifyPatient(ctx context.Context, d *Decision) {
	appt := d.Appointment
	var title, body string
	if appt.Status == model.StatusApproved {
		title, body = notify.ApprovalMessage(appt.ScheduledAt)
	} else {
		d.Suggestions = a.suggest(ctx, appt.ScheduledAt)
		title, body = notify.RejectionMessage(appt.ScheduledAt, d.Suggestions)
	}

	if err := a.emitter.Send(ctx, appt.PatientID, title, body); err != nil {
		a.metrics.ObserveNotificationFailure()
		a.logger.Warn("patient notification failed",
			"appointment_id", appt.ID,
			"patient_id", appt.PatientID,
			"status", appt.Status,
			"err", err,
		)
	}
}

// suggest returns the first horizon slots after a rejected time. A lookup failure yields no
// suggestions rather than blocking the notice.
func (a *Adjudicator) suggest(ctx context.Context, rejected time.Time) []time.Time {
	from, to := availability.HorizonRange(rejected)
	approved, err := a.store.ListBetween(ctx, from, to, model.StatusApproved)
	if err != nil {
		a.logger.Warn("suggestion lookup failed", "scheduled_at", rejected.Format(model.TimeLayout), "err", err)
		return nil
	}
	slots := availability.Horizon(rejected, a.now(), approved)
	if len(slots) > notify.RejectionSuggestions {
		slots = slots[:notify.RejectionSuggestions]
	}
	return slots
}

type forcedPayload struct {
	AppointmentID  string `json:"appointment_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	ForcedAt       string `json:"forced_at"`
}

// ForceStatus is the administrative override: it sets any status from any status without
// consulting the conflict rule and without notifying the patient.
func (a *Adjudicator) ForceStatus(ctx context.Context, appointmentID string, status model.Status) (model.Appointment, error) {
	ctx, span := a.tracer.Start(ctx, "adjudication.force_status",
		trace.WithAttributes(
			attribute.String("appointment.id", appointmentID),
			attribute.String("appointment.status", string(status)),
		))
	defer span.End()

	if !status.Valid() {
		return model.Appointment{}, model.Validationf("unknown status %q", status)
	}
	appt, err := a.store.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, a.fail(span, "lookup", appointmentID, err)
	}

	var updated model.Appointment
	err = a.store.LockDate(ctx, appt.Date(), func(s storage.Scope) error {
		current, err := s.Get(ctx, appointmentID)
		if err != nil {
			return err
		}
		if err := s.UpdateStatus(ctx, appointmentID, status); err != nil {
			return err
		}
		evt, err := outbox.NewAppointmentEvent(appointmentID, outbox.EventStatusForced, forcedPayload{
			AppointmentID:  appointmentID,
			PreviousStatus: string(current.Status),
			Status:         string(status),
			ForcedAt:       a.now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := a.events.Insert(ctx, s.Querier(), evt); err != nil {
			return model.Unavailable("record forced status", err)
		}
		a.logger.Info("appointment status forced",
			"appointment_id", appointmentID,
			"previous_status", current.Status,
			"status", status,
		)
		current.Status = status
		updated = current
		return nil
	})
	if err != nil {
		return model.Appointment{}, a.fail(span, "force", appointmentID, err)
	}
	return updated, nil
}

func (a *Adjudicator) fail(span trace.Span, stage, appointmentID string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	if errors.Is(err, model.ErrNotFound) {
		a.logger.Warn("appointment not found", "appointment_id", appointmentID, "stage", stage)
		return err
	}
	a.metrics.ObserveError(stage)
	a.logger.Error("adjudication failed", "appointment_id", appointmentID, "stage", stage, "err", err)
	return fmt.Errorf("%s %s: %w", stage, appointmentID, err)
}
