package domain

import (
	"errors"
	"fmt"
)

var (
	ErrApplicantNotFound       = errors.New("applicant not found")
	ErrTransitionRejected      = errors.New("transition rejected")
	ErrExternalPlayerNotFound  = errors.New("external player not found")
	ErrPlayerAlreadyRegistered = errors.New("external player already registered")
	ErrDuplicateVote           = errors.New("vote already registered")
	ErrSecretCodeTaken         = errors.New("secret code already taken")
	ErrUnknownOption           = errors.New("unknown vote option")
	ErrNoVoteOptions           = errors.New("no vote options configured")
	ErrNotAdmin                = errors.New("administrator rights required")
)

// ValidationError reports malformed user input. Value keeps the raw input as received.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

type PlayerNotFoundError struct {
	PlayerID int64
}

func (e *PlayerNotFoundError) Error() string {
	return fmt.Sprintf("external player %d not found", e.PlayerID)
}

func (e *PlayerNotFoundError) Is(target error) bool {
	return target == ErrExternalPlayerNotFound
}

// TransportError wraps a delivery failure to a single recipient.
type TransportError struct {
	Recipient int64
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send to %d: %v", e.Recipient, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
