// Package conflict decides whether a requested start time collides with existing appointments.
//
// The rule is forward only: an existing appointment at T occupies [T, T+Window) and a candidate
// conflicts when it starts inside that range. A candidate that starts shortly before T does not
// conflict even though its own hour would overlap T.
package conflict

import (
	"time"

	"github.com/healthcenter/frontdesk/services/appointment-service/internal/model"
)

// Window is the fixed duration every appointment occupies.
const Window = 60 * time.Minute

type Evaluator struct {
	statuses map[model.Status]struct{}
}

func New(statuses ...model.Status) Evaluator {
	set := make(map[model.Status]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return Evaluator{statuses: set}
}

// Authoritative only counts APPROVED appointments. Adjudication and horizon suggestions use it.
func Authoritative() Evaluator {
	return New(model.StatusApproved)
}

// Advisory also counts PENDING appointments. Booking intake uses it to turn away requests early.
func Advisory() Evaluator {
	return New(model.StatusApproved, model.StatusPending)
}

// HasConflict reports the first reference appointment that candidate collides with.
// The reference with id excludeID is ignored so an appointment never conflicts with itself.
func (e Evaluator) HasConflict(candidate time.Time, excludeID string, refs []model.Appointment) (bool, *model.Appointment) {
	for i := range refs {
		r := &refs[i]
		if excludeID != "" && r.ID == excludeID {
			continue
		}
		if _, ok := e.statuses[r.Status]; !ok {
			continue
		}
		if Blocks(r.ScheduledAt, candidate) {
			return true, r
		}
	}
	return false, nil
}

// Blocks reports whether an appointment anchored at anchor occupies candidate.
func Blocks(anchor, candidate time.Time) bool {
	if !model.SameDate(candidate, anchor) {
		return false
	}
	return !candidate.Before(anchor) && candidate.Before(anchor.Add(Window))
}
