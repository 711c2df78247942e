package scheduling

import (
	"errors"
	"fmt"
	"time"
)

const (
	MinDuration       = 15 * time.Minute
	MaxResizeDuration = 180 * time.Minute
)

var (
	ErrNotFound         = errors.New("appointment not found")
	ErrNoteNotFound     = errors.New("session note not found")
	ErrConflict         = errors.New("time slot conflicts with another appointment")
	ErrDurationTooShort = errors.New("appointment must last at least 15 minutes")
	ErrDurationTooLong  = errors.New("appointment cannot last more than 3 hours")
	ErrValidation       = errors.New("validation failed")
	ErrStore            = errors.New("store failure")
)

// ConflictError names the appointment that occupies the requested window.
type ConflictError struct {
	With *Appointment
}

func (e *ConflictError) Error() string {
	if e.With == nil {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s (%s %s-%s)", ErrConflict.Error(), e.With.Date, e.With.StartTime, e.With.EndTime)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidationError reports a single rejected input field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// storeErr tags a repository failure so callers can tell it apart from
// domain errors without leaking driver details.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoteNotFound) || errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
