package outbox

import "encoding/json"

// Topics published by the appointment service. The Kafka topic equals the event type.
const (
	EventNotificationRequested = "appointment.notification.requested.v1"
	EventAdjudicated           = "appointment.adjudicated.v1"
	EventStatusForced          = "appointment.status_forced.v1"
	EventCancelled             = "appointment.cancelled.v1"
	EventAdjudicationDLQ       = "appointment.adjudication.dlq.v1"
)

// Event is the envelope written to outbox_events.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NewAppointmentEvent marshals payload into an event keyed by the appointment id.
func NewAppointmentEvent(appointmentID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   appointmentID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
