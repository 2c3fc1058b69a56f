package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/healthcenter/frontdesk/libs/httpx"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/storage"
)

type Lister interface {
	ListByPatient(ctx context.Context, patientID string, limit int) ([]storage.Notification, error)
}

type NotificationHandler struct {
	store  Lister
	stream http.Handler
	logger *slog.Logger
}

func NewNotificationHandler(store Lister, stream http.Handler, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{store: store, stream: stream, logger: logger}
}

func (h *NotificationHandler) Mount(r chi.Router) {
	r.Get("/api/v1/notifications", h.List)
	r.Get("/api/v1/notifications/stream", h.stream.ServeHTTP)
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	patientID := strings.TrimSpace(q.Get("patient_id"))
	if patientID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "patient_id is required")
		return
	}
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	items, err := h.store.ListByPatient(r.Context(), patientID, limit)
	if err != nil {
		h.logger.Error("list notifications failed", "patient_id", patientID, "err", err)
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "notification store unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}
