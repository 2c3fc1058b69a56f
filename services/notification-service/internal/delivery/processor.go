// Package delivery turns notification requests from the appointment service into stored
// patient notifications.
package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/consumer"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

// EventNotificationRequested is the topic the processor consumes.
const EventNotificationRequested = "appointment.notification.requested.v1"

type requested struct {
	PatientID string `json:"patient_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
}

type Store interface {
	Insert(ctx context.Context, q db.Querier, n storage.Notification) (storage.Notification, error)
}

type Publisher interface {
	Publish(n storage.Notification)
}

type Processor struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

func NewProcessor(store Store, publisher Publisher, logger *slog.Logger) *Processor {
	return &Processor{store: store, publisher: publisher, logger: logger}
}

// Handle is a consumer.Handler. Malformed messages are logged and skipped.
func (p *Processor) Handle(ctx context.Context, q db.Querier, msg kafka.Message) (consumer.AfterCommit, error) {
	var req requested
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		p.logger.Error("invalid notification payload", "err", err, "topic", msg.Topic)
		return nil, nil
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.PatientID == "" || strings.TrimSpace(req.Message) == "" {
		p.logger.Error("missing notification fields", "topic", msg.Topic)
		return nil, nil
	}

	stored, err := p.store.Insert(ctx, q, storage.Notification{
		PatientID: req.PatientID,
		Title:     req.Title,
		Message:   req.Message,
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("notification stored", "patient_id", stored.PatientID, "notification_id", stored.ID, "title", stored.Title)
	return func() { p.publisher.Publish(stored) }, nil
}
