/**
 * Fusion draft workflow state machine
 *
 * draft -> in_review -> finalized -> committed, strictly forward.
 * Every status guard used by the store comes from this table.
 */

package fusion

import (
	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
)

// Status is a draft's workflow status
type Status string

const (
	StatusDraft     Status = "draft"
	StatusInReview  Status = "in_review"
	StatusFinalized Status = "finalized"
	StatusCommitted Status = "committed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

var rank = map[Status]int{
	StatusDraft:     0,
	StatusInReview:  1,
	StatusFinalized: 2,
	StatusCommitted: 3,
}

// Event drives a transition
type Event string

const (
	EventAutosave       Event = "autosave"
	EventReadyForReview Event = "ready_for_review"
	EventFinalize       Event = "finalize"
	EventCommit         Event = "commit"
	EventEditBBox       Event = "edit_bbox"
)

type rule struct {
	from []Status
	// to is empty when the event keeps the current status
	to Status
}

var rules = map[Event]rule{
	EventAutosave:       {from: []Status{StatusDraft, StatusInReview}},
	EventReadyForReview: {from: []Status{StatusDraft}, to: StatusInReview},
	EventFinalize:       {from: []Status{StatusDraft, StatusInReview}, to: StatusFinalized},
	EventCommit:         {from: []Status{StatusFinalized}, to: StatusCommitted},
	EventEditBBox:       {from: []Status{StatusDraft, StatusInReview, StatusFinalized}},
}

// Transition returns the status after applying ev to a draft in status from.
// An empty from means the draft does not exist yet; only autosave may create one.
func Transition(from Status, ev Event) (Status, error) {
	r, ok := rules[ev]
	if !ok {
		return from, apperrors.NewIllegalTransitionError(string(from), string(ev))
	}

	if from == "" {
		if ev == EventAutosave {
			return StatusDraft, nil
		}
		return from, apperrors.NewIllegalTransitionError("none", string(ev))
	}

	for _, s := range r.from {
		if s == from {
			if r.to == "" {
				return from, nil
			}
			return r.to, nil
		}
	}

	to := r.to
	if to == "" {
		to = from
	}
	return from, apperrors.NewIllegalTransitionError(string(from), string(to))
}

// FromStates lists the statuses ev may be applied to
func FromStates(ev Event) []Status {
	r := rules[ev]
	out := make([]Status, len(r.from))
	copy(out, r.from)
	return out
}

// Before reports whether a precedes b in the workflow
func Before(a, b Status) bool {
	return rank[a] < rank[b]
}
