// Package notify hands patient-facing messages to the notification pipeline.
package notify

import (
	"context"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/outbox"
)

// Emitter delivers one message to a patient. Delivery is fire-and-forget from the caller's
// point of view: an error means the message was not accepted, never that it was partly sent.
type Emitter interface {
	Send(ctx context.Context, patientID, title, body string) error
}

// Requested is the payload of appointment.notification.requested.v1.
type Requested struct {
	PatientID   string `json:"patient_id"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	RequestedAt string `json:"requested_at"`
}

// OutboxEmitter records messages in the outbox; the publisher relays them to Kafka and the
// notification service stores them for the patient.
type OutboxEmitter struct {
	q    db.Querier
	repo *outbox.Repository
	now  func() time.Time
}

func NewOutboxEmitter(q db.Querier, repo *outbox.Repository) *OutboxEmitter {
	return &OutboxEmitter{q: q, repo: repo, now: time.Now}
}

func (e *OutboxEmitter) Send(ctx context.Context, patientID, title, body string) error {
	evt, err := outbox.NewAppointmentEvent(patientID, outbox.EventNotificationRequested, Requested{
		PatientID:   patientID,
		Title:       title,
		Message:     body,
		RequestedAt: e.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	evt.AggregateType = "patient"
	return e.repo.Insert(ctx, e.q, evt)
}
