package availability

import (
	"fmt"
	"time"

	"github.com/healthcenter/frontdesk/services/appointment-service/internal/conflict"
	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
)

const (
	HorizonDays  = 7
	HorizonLimit = 10
	// Hourly horizon candidates run 00:00 through 22:00 on each date.
	horizonLastHour = 22

	// FallbackSlot is returned by SuggestBusinessHours when the business day is full.
	FallbackSlot = "09:00"

	businessFirstHour = 9
	businessLastHour  = 17
)

// Horizon lists up to HorizonLimit free hourly slots, earliest first, from reference floored to
// the hour through the sixth following date. Slots must be strictly after now and must not
// start inside an APPROVED appointment's window. Non-approved entries in approved are ignored.
//
// All times are read in reference's location.
func Horizon(reference, now time.Time, approved []model.Appointment) []time.Time {
	loc := reference.Location()
	y, m, d := reference.Date()
	start := time.Date(y, m, d, reference.Hour(), 0, 0, 0, loc)
	eval := conflict.Authoritative()

	slots := make([]time.Time, 0, HorizonLimit)
	for day := 0; day < HorizonDays; day++ {
		for hour := 0; hour <= horizonLastHour; hour++ {
			candidate := time.Date(y, m, d+day, hour, 0, 0, 0, loc)
			if candidate.Before(start) || !candidate.After(now) {
				continue
			}
			if hit, _ := eval.HasConflict(candidate, "", approved); hit {
				continue
			}
			slots = append(slots, candidate)
			if len(slots) == HorizonLimit {
				return slots
			}
		}
	}
	return slots
}

// HorizonRange is the [from, to) span whose approved appointments Horizon needs.
func HorizonRange(reference time.Time) (time.Time, time.Time) {
	from := model.StartOfDay(reference)
	return from, from.AddDate(0, 0, HorizonDays)
}

// FirstFreeBusinessHour finds the earliest business-hours start on date that no appointment in
// refs occupies, checking half-hour marks first and then quarter-hour marks. Every appointment
// on the date counts regardless of status; callers choose the set.
func FirstFreeBusinessHour(date time.Time, refs []model.Appointment) (string, bool) {
	var blocked [24 * 60]bool
	for _, r := range refs {
		if !model.SameDate(date, r.ScheduledAt) {
			continue
		}
		first := model.MinuteOfDay(r.ScheduledAt.In(date.Location()))
		for minute := first; minute < first+int(conflict.Window/time.Minute) && minute < len(blocked); minute++ {
			blocked[minute] = true
		}
	}

	for _, step := range []int{30, 15} {
		for minute := businessFirstHour * 60; minute < (businessLastHour+1)*60; minute += step {
			if !blocked[minute] {
				return fmt.Sprintf("%02d:%02d", minute/60, minute%60), true
			}
		}
	}
	return "", false
}

// SuggestBusinessHours is FirstFreeBusinessHour with FallbackSlot substituted when nothing is
// free. The fallback may itself be occupied.
func SuggestBusinessHours(date time.Time, refs []model.Appointment) string {
	if slot, ok := FirstFreeBusinessHour(date, refs); ok {
		return slot
	}
	return FallbackSlot
}

func FormatSlots(slots []time.Time) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Format(model.TimeLayout)
	}
	return out
}
