package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	TimeLayout  = "2006-01-02 15:04"
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusApproved    Status = "APPROVED"
	StatusDisapproved Status = "DISAPPROVED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDisapproved:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
	return s, nil
}

// Appointment is a patient's request for one hour of the clinic's shared time.
// ScheduledAt is minute aligned and expressed in the clinic location.
type Appointment struct {
	ID          string
	PatientID   string
	StaffID     string
	ScheduledAt time.Time
	Reason      string
	Status      Status
	CreatedAt   time.Time
}

// Date is the calendar day of the appointment in the clinic location.
func (a Appointment) Date() time.Time {
	return StartOfDay(a.ScheduledAt)
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDate compares calendar dates in a's location.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ParseScheduledAt accepts RFC3339 or "2006-01-02 15:04" (read in loc) and drops seconds.
func ParseScheduledAt(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc).Truncate(time.Minute), nil
	}
	for _, layout := range []string{TimeLayout, "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: scheduled time %q is not RFC3339 or %q", ErrValidation, raw, TimeLayout)
}

func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not %s", ErrValidation, raw, DateLayout)
	}
	return t, nil
}
