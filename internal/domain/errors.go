package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrNotFound           = errors.New("not found")
	ErrDuplicateJoinCode  = errors.New("join code already taken")
	ErrAlreadyParticipant = errors.New("user already in room")
	ErrRoomFull           = errors.New("room is full")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidVoteKind    = errors.New("invalid vote kind")
	ErrInvalidStatus      = errors.New("invalid status")
)

// ValidationError lists the request fields that are missing or malformed.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Fields, ", "))
}

// Add records field once.
func (e *ValidationError) Add(field string) {
	for _, f := range e.Fields {
		if f == field {
			return
		}
	}
	e.Fields = append(e.Fields, field)
}

// OrNil returns e as an error only if it has fields, so callers can write `return v.OrNil()`.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

var ErrForbidden = errors.New("forbidden for this role")
