package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
)

const (
	TitleApproved = "Appointment Approved"
	TitleStatus   = "Appointment Status"

	// RejectionSuggestions caps the alternatives listed in a rejection.
	RejectionSuggestions = 3
)

func ApprovalMessage(at time.Time) (string, string) {
	return TitleApproved, fmt.Sprintf("Your appointment for %s has been APPROVED.", at.Format(model.TimeLayout))
}

// RejectionMessage lists at most RejectionSuggestions of suggestions. The header line is written
// even when the list is empty.
func RejectionMessage(at time.Time, suggestions []time.Time) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Your appointment scheduled for %s could not be approved.\n", at.Format(model.TimeLayout))
	b.WriteString("Reason: Time slot is occupied (1-hour appointment duration).\n")
	b.WriteString("Suggested available times:")
	if len(suggestions) > RejectionSuggestions {
		suggestions = suggestions[:RejectionSuggestions]
	}
	for _, s := range suggestions {
		b.WriteString("\n  • ")
		b.WriteString(s.Format(model.TimeLayout))
	}
	return TitleStatus, b.String()
}
