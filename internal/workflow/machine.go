// Package workflow holds the applicant state machine. It is a static transition table
// evaluated by a pure function; persistence and locking live in the callers.
package workflow

import (
	"fmt"
	"strings"

	"github.com/foospoll/foospollbot/internal/domain"
)

type Trigger string

const (
	Advance    Trigger = "advance"
	Approve    Trigger = "approve"
	Reject     Trigger = "reject"
	StartVote  Trigger = "start_vote"
	RecordVote Trigger = "record_vote"
)

type guard func(p domain.Profile) []string

type transition struct {
	trigger Trigger
	source  domain.State
	dest    domain.State
	guard   guard
}

var table = []transition{
	{Advance, domain.StateCollectingFirstName, domain.StateCollectingLastName, nil},
	{Advance, domain.StateCollectingLastName, domain.StateCollectingPhone, nil},
	{Advance, domain.StateCollectingPhone, domain.StateCollectingRatingURL, nil},
	{Advance, domain.StateCollectingRatingURL, domain.StateCollectingPhoto, nil},
	{Advance, domain.StateCollectingPhoto, domain.StateInReview, nil},
	{Approve, domain.StateInReview, domain.StateAccepted, MissingFields},
	{Reject, domain.StateInReview, domain.StateRejected, nil},
	{StartVote, domain.StateAccepted, domain.StateVoting, nil},
	{RecordVote, domain.StateVoting, domain.StateVoted, nil},
}

// InitialState is the state of a freshly created applicant.
func InitialState() domain.State {
	return domain.StateCollectingFirstName
}

// TransitionError is returned when a trigger does not apply to the current state or its
// guard refuses. It matches domain.ErrTransitionRejected.
type TransitionError struct {
	From    domain.State
	Trigger Trigger
	Missing []string
}

func (e *TransitionError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s from %s rejected: missing %s", e.Trigger, e.From, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s from %s rejected", e.Trigger, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == domain.ErrTransitionRejected
}

// Attempt computes the state reached by firing trigger from current. The profile is the
// snapshot the guard is evaluated against.
func Attempt(current domain.State, trigger Trigger, p domain.Profile) (domain.State, error) {
	for _, t := range table {
		if t.trigger != trigger || t.source != current {
			continue
		}
		if t.guard != nil {
			if missing := t.guard(p); len(missing) > 0 {
				return current, &TransitionError{From: current, Trigger: trigger, Missing: missing}
			}
		}
		return t.dest, nil
	}
	return current, &TransitionError{From: current, Trigger: trigger}
}

// Expect rejects work routed for one state that found the applicant in another, so a
// retried answer is never written into the following step's field.
func Expect(current, routed domain.State, trigger Trigger) error {
	if current != routed {
		return &TransitionError{From: current, Trigger: trigger}
	}
	return nil
}

// MissingFields is the approval guard: every collected field must be present.
func MissingFields(p domain.Profile) []string {
	var missing []string
	if p.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if p.LastName == "" {
		missing = append(missing, "last_name")
	}
	if p.Phone == "" {
		missing = append(missing, "phone")
	}
	if p.RatingURL == "" {
		missing = append(missing, "rating_url")
	}
	if p.ExternalPlayerID == 0 {
		missing = append(missing, "external_player_id")
	}
	if p.PhotoRef == "" {
		missing = append(missing, "photo")
	}
	return missing
}
