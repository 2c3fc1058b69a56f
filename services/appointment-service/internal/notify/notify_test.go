package notify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/healthcenter/frontdesk/services/appointment-service/internal/outbox"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var at = time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

func TestApprovalMessage(t *testing.T) {
	title, body := ApprovalMessage(at)
	if title != "Appointment Approved" {
		t.Fatalf("unexpected title %q", title)
	}
	if body != "Your appointment for 2025-06-10 10:00 has been APPROVED." {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRejectionMessageListsAtMostThree(t *testing.T) {
	var suggestions []time.Time
	for h := 11; h < 16; h++ {
		suggestions = append(suggestions, time.Date(2025, 6, 10, h, 0, 0, 0, time.UTC))
	}
	title, body := RejectionMessage(at, suggestions)
	if title != "Appointment Status" {
		t.Fatalf("unexpected title %q", title)
	}
	if !strings.HasPrefix(body, "Your appointment scheduled for 2025-06-10 10:00 could not be approved.") {
		t.Fatalf("unexpected body %q", body)
	}
	if n := strings.Count(body, "•"); n != 3 {
		t.Fatalf("expected 3 suggestions, got %d in %q", n, body)
	}
	if !strings.Contains(body, "  • 2025-06-10 13:00") || strings.Contains(body, "14:00") {
		t.Fatalf("unexpected suggestion list %q", body)
	}
}

func TestRejectionMessageWithoutSuggestions(t *testing.T) {
	_, body := RejectionMessage(at, nil)
	want := "Your appointment scheduled for 2025-06-10 10:00 could not be approved.\n" +
		"Reason: Time slot is occupied (1-hour appointment duration).\n" +
		"Suggested available times:"
	if body != want {
		t.Fatalf("expected %q, got %q", want, body)
	}
}

func TestOutboxEmitterWritesRequest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	e := NewOutboxEmitter(mock, outbox.NewRepository())
	e.now = func() time.Time { return at }

	want, _ := json.Marshal(Requested{
		PatientID:   "patient-1",
		Title:       TitleApproved,
		Message:     "hello",
		RequestedAt: "2025-06-10T10:00:00Z",
	})
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("patient", "patient-1", outbox.EventNotificationRequested, want, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := e.Send(context.Background(), "patient-1", TitleApproved, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
