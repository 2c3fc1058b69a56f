// Package intake validates and records new bookings and patient cancellations.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/adjudication"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/availability"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/conflict"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/metrics"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/outbox"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/storage"
)

type Store interface {
	ListByDate(ctx context.Context, day time.Time, statuses ...model.Status) ([]model.Appointment, error)
	ListBetween(ctx context.Context, from, to time.Time, statuses ...model.Status) ([]model.Appointment, error)
	CreatePending(ctx context.Context, appt model.Appointment, hooks ...storage.Hook) (model.Appointment, error)
	DeleteByID(ctx context.Context, id string, hooks ...storage.Hook) (model.Appointment, error)
}

type Adjudicator interface {
	Adjudicate(ctx context.Context, appointmentID string) (adjudication.Decision, error)
}

type EventWriter interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) error
}

type Service struct {
	store       Store
	adjudicator Adjudicator
	events      EventWriter
	enqueue     storage.Hook
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEnqueue sets the hook that schedules the durable follow-up adjudication of every new
// booking. It runs in the booking's transaction.
func WithEnqueue(hook storage.Hook) Option {
	return func(s *Service) { s.enqueue = hook }
}

func New(store Store, adj Adjudicator, events EventWriter, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		adjudicator: adj,
		events:      events,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type BookingRequest struct {
	PatientID   string
	StaffID     string
	ScheduledAt time.Time
	Reason      string
}

// Booking is the stored appointment after the immediate adjudication attempt. Its status is
// PENDING when that attempt failed and the queued job will decide later.
type Booking struct {
	Appointment model.Appointment
	Conflicting *model.Appointment
	Suggestions []time.Time
}

func (b Booking) Status() model.Status { return b.Appointment.Status }

// Book validates req, rejects it when it collides with an approved or pending appointment, and
// otherwise stores it as PENDING and adjudicates it right away.
func (s *Service) Book(ctx context.Context, req BookingRequest) (Booking, error) {
	appt, err := s.validate(req)
	if err != nil {
		return Booking{}, err
	}

	refs, err := s.store.ListByDate(ctx, appt.ScheduledAt, model.StatusApproved, model.StatusPending)
	if err != nil {
		return Booking{}, fmt.Errorf("load appointments: %w", err)
	}
	if hit, existing := conflict.Advisory().HasConflict(appt.ScheduledAt, "", refs); hit {
		s.metrics.ObserveIntakeRejection()
		suggested, ok := availability.FirstFreeBusinessHour(appt.ScheduledAt, refs)
		if !ok {
			suggested = availability.FallbackSlot
		}
		s.logger.Info("booking rejected",
			"patient_id", appt.PatientID,
			"scheduled_at", appt.ScheduledAt.Format(model.TimeLayout),
			"conflicts_with", existing.ID,
			"suggested", suggested,
			"fallback", !ok,
		)
		return Booking{}, &model.ConflictError{Conflicting: *existing, Suggested: suggested, Fallback: !ok}
	}

	var hooks []storage.Hook
	if s.enqueue != nil {
		hooks = append(hooks, s.enqueue)
	}
	created, err := s.store.CreatePending(ctx, appt, hooks...)
	if err != nil {
		return Booking{}, err
	}
	s.logger.Info("booking stored",
		"appointment_id", created.ID,
		"patient_id", created.PatientID,
		"date", created.ScheduledAt.Format(model.DateLayout),
		"scheduled_at", created.ScheduledAt.Format(model.TimeLayout),
	)

	decision, err := s.adjudicator.Adjudicate(ctx, created.ID)
	if err != nil {
		s.logger.Warn("immediate adjudication failed, left to queue", "appointment_id", created.ID, "err", err)
		return Booking{Appointment: created}, nil
	}
	return Booking{
		Appointment: decision.Appointment,
		Conflicting: decision.Conflicting,
		Suggestions: decision.Suggestions,
	}, nil
}

func (s *Service) validate(req BookingRequest) (model.Appointment, error) {
	patientID := strings.TrimSpace(req.PatientID)
	if patientID == "" {
		return model.Appointment{}, model.Validationf("patient_id is required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return model.Appointment{}, model.Validationf("reason is required")
	}
	if req.ScheduledAt.IsZero() {
		return model.Appointment{}, model.Validationf("scheduled_at is required")
	}
	at := req.ScheduledAt.Truncate(time.Minute)
	if !at.After(s.now()) {
		return model.Appointment{}, model.Validationf("scheduled_at %s is not in the future", at.Format(model.TimeLayout))
	}
	return model.Appointment{
		PatientID:   patientID,
		StaffID:     strings.TrimSpace(req.StaffID),
		ScheduledAt: at,
		Reason:      reason,
	}, nil
}

type cancelledPayload struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	ScheduledAt   string `json:"scheduled_at"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

// Cancel deletes the appointment. A non-empty patientID must own it; otherwise the
// appointment is reported as not found and left in place.
func (s *Service) Cancel(ctx context.Context, appointmentID, patientID string) (model.Appointment, error) {
	patientID = strings.TrimSpace(patientID)
	deleted, err := s.store.DeleteByID(ctx, appointmentID, func(ctx context.Context, q db.Querier, appt model.Appointment) error {
		if patientID != "" && appt.PatientID != patientID {
			return model.ErrNotFound
		}
		evt, err := outbox.NewAppointmentEvent(appt.ID, outbox.EventCancelled, cancelledPayload{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			ScheduledAt:   appt.ScheduledAt.Format(time.RFC3339),
			Status:        string(appt.Status),
			CancelledAt:   s.now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return s.events.Insert(ctx, q, evt)
	})
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Error("cancel failed", "appointment_id", appointmentID, "err", err)
		}
		return model.Appointment{}, err
	}
	s.logger.Info("appointment cancelled",
		"appointment_id", deleted.ID,
		"patient_id", deleted.PatientID,
		"status", deleted.Status,
	)
	return deleted, nil
}

// SuggestBusinessHours returns the first free business-hours start on date, counting approved
// and pending appointments.
func (s *Service) SuggestBusinessHours(ctx context.Context, date time.Time) (string, error) {
	refs, err := s.store.ListByDate(ctx, date, model.StatusApproved, model.StatusPending)
	if err != nil {
		return "", err
	}
	return availability.SuggestBusinessHours(date, refs), nil
}

// SuggestHorizon lists open hourly slots over the week starting at reference.
func (s *Service) SuggestHorizon(ctx context.Context, reference time.Time) ([]time.Time, error) {
	from, to := availability.HorizonRange(reference)
	approved, err := s.store.ListBetween(ctx, from, to, model.StatusApproved)
	if err != nil {
		return nil, err
	}
	return availability.Horizon(reference, s.now(), approved), nil
}
