package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/healthcenter/frontdesk/libs/httpx"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/adjudication"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/availability"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/intake"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/storage"
)

type Booker interface {
	Book(ctx context.Context, req intake.BookingRequest) (intake.Booking, error)
	Cancel(ctx context.Context, appointmentID, patientID string) (model.Appointment, error)
	SuggestBusinessHours(ctx context.Context, date time.Time) (string, error)
	SuggestHorizon(ctx context.Context, reference time.Time) ([]time.Time, error)
}

type Adjudicator interface {
	Adjudicate(ctx context.Context, appointmentID string) (adjudication.Decision, error)
	ForceStatus(ctx context.Context, appointmentID string, status model.Status) (model.Appointment, error)
}

type Reader interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListByDate(ctx context.Context, day time.Time, statuses ...model.Status) ([]model.Appointment, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error)
	LatestIDForPatient(ctx context.Context, patientID string) (string, error)
	CountByStatus(ctx context.Context) (storage.StatusCounts, error)
}

type AppointmentHandler struct {
	booker      Booker
	adjudicator Adjudicator
	reader      Reader
	loc         *time.Location
	logger      *slog.Logger
	now         func() time.Time
}

func NewAppointmentHandler(booker Booker, adj Adjudicator, reader Reader, loc *time.Location, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		booker:      booker,
		adjudicator: adj,
		reader:      reader,
		loc:         loc,
		logger:      logger,
		now:         time.Now,
	}
}

// Guards wraps selected routes. Nil entries are skipped.
type Guards struct {
	Booking httpx.Middleware
	Admin   httpx.Middleware
}

func (h *AppointmentHandler) Mount(r chi.Router, g Guards) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/appointments", func(r chi.Router) {
			r.With(optional(g.Booking)...).Post("/", h.Book)
			r.Get("/", h.ListByDate)
			r.Get("/{id}", h.Get)
			r.Delete("/{id}", h.Cancel)
			r.Post("/{id}/adjudicate", h.Adjudicate)
		})
		r.Get("/patients/{patientID}/appointments", h.ListByPatient)
		r.Get("/patients/{patientID}/appointments/latest", h.LatestForPatient)
		r.Get("/slots/horizon", h.Horizon)
		r.Get("/slots/business-hours", h.BusinessHours)
		r.Route("/admin/appointments", func(r chi.Router) {
			r.Use(optional(g.Admin)...)
			r.Put("/{id}/status", h.ForceStatus)
			r.Get("/stats", h.Stats)
		})
	})
}

func optional(m httpx.Middleware) []func(http.Handler) http.Handler {
	if m == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{m}
}

type appointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	StaffID       string `json:"staff_id,omitempty"`
	ScheduledAt   string `json:"scheduled_at"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at,omitempty"`
}

func toResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		StaffID:       a.StaffID,
		ScheduledAt:   a.ScheduledAt.Format(time.RFC3339),
		Date:          a.ScheduledAt.Format(model.DateLayout),
		Time:          a.ScheduledAt.Format(model.ClockLayout),
		Reason:        a.Reason,
		Status:        string(a.Status),
	}
	if !a.CreatedAt.IsZero() {
		resp.CreatedAt = a.CreatedAt.Format(time.RFC3339)
	}
	return resp
}

type decisionResponse struct {
	appointmentResponse
	ConflictsWith string   `json:"conflicts_with,omitempty"`
	Suggestions   []string `json:"suggested_times,omitempty"`
}

func toDecisionResponse(a model.Appointment, conflicting *model.Appointment, suggestions []time.Time) decisionResponse {
	resp := decisionResponse{appointmentResponse: toResponse(a)}
	if conflicting != nil {
		resp.ConflictsWith = conflicting.ID
	}
	if len(suggestions) > 0 {
		resp.Suggestions = availability.FormatSlots(suggestions)
	}
	return resp
}

type bookRequest struct {
	PatientID   string `json:"patient_id"`
	StaffID     string `json:"staff_id"`
	ScheduledAt string `json:"scheduled_at"`
	Reason      string `json:"reason"`
}

func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ScheduledAt) == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "scheduled_at is required")
		return
	}
	at, err := model.ParseScheduledAt(req.ScheduledAt, h.loc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	booking, err := h.booker.Book(r.Context(), intake.BookingRequest{
		PatientID:   req.PatientID,
		StaffID:     req.StaffID,
		ScheduledAt: at,
		Reason:      req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toDecisionResponse(booking.Appointment, booking.Conflicting, booking.Suggestions))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.reader.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) ListByDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day, err := model.ParseDate(q.Get("date"), h.loc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var statuses []model.Status
	for _, raw := range strings.Split(q.Get("status"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		s, err := model.ParseStatus(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		statuses = append(statuses, s)
	}

	appts, err := h.reader.ListByDate(r.Context(), day, statuses...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeList(w, appts)
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	appt, err := h.booker.Cancel(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("patient_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"appointment_id": appt.ID,
		"status":         "deleted",
	})
}

func (h *AppointmentHandler) Adjudicate(w http.ResponseWriter, r *http.Request) {
	d, err := h.adjudicator.Adjudicate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toDecisionResponse(d.Appointment, d.Conflicting, d.Suggestions))
}

func (h *AppointmentHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	appts, err := h.reader.ListByPatient(r.Context(), chi.URLParam(r, "patientID"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeList(w, appts)
}

func (h *AppointmentHandler) LatestForPatient(w http.ResponseWriter, r *http.Request) {
	id, err := h.reader.LatestIDForPatient(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"appointment_id": id})
}

func (h *AppointmentHandler) Horizon(w http.ResponseWriter, r *http.Request) {
	reference := h.now().In(h.loc)
	if raw := r.URL.Query().Get("reference"); raw != "" {
		t, err := model.ParseScheduledAt(raw, h.loc)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		reference = t
	}
	slots, err := h.booker.SuggestHorizon(r.Context(), reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"reference": reference.Format(model.TimeLayout),
		"slots":     availability.FormatSlots(slots),
	})
}

func (h *AppointmentHandler) BusinessHours(w http.ResponseWriter, r *http.Request) {
	day, err := model.ParseDate(r.URL.Query().Get("date"), h.loc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slot, err := h.booker.SuggestBusinessHours(r.Context(), day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"date":           day.Format(model.DateLayout),
		"suggested_time": slot,
	})
}

type forceStatusRequest struct {
	Status string `json:"status"`
}

func (h *AppointmentHandler) ForceStatus(w http.ResponseWriter, r *http.Request) {
	var req forceStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.adjudicator.ForceStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("admin status override",
		"appointment_id", appt.ID,
		"status", appt.Status,
		"actor", r.Header.Get(httpx.SubjectHeader),
	)
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.reader.CountByStatus(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, counts)
}

func (h *AppointmentHandler) writeList(w http.ResponseWriter, appts []model.Appointment) {
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type conflictBody struct {
	Error         string `json:"error"`
	ConflictsWith string `json:"conflicts_with"`
	SuggestedTime string `json:"suggested_time"`
	Fallback      bool   `json:"fallback"`
	RequestID     string `json:"request_id,omitempty"`
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var conflictErr *model.ConflictError
	switch {
	case errors.As(err, &conflictErr):
		httpx.WriteJSON(w, http.StatusConflict, conflictBody{
			Error:         conflictErr.Error(),
			ConflictsWith: conflictErr.Conflicting.ID,
			SuggestedTime: conflictErr.Suggested,
			Fallback:      conflictErr.Fallback,
			RequestID:     httpx.RequestIDFromContext(r.Context()),
		})
	case errors.Is(err, model.ErrValidation):
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "appointment not found")
	case errors.Is(err, model.ErrStoreUnavailable):
		h.logger.Error("store unavailable", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "appointment store unavailable")
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
