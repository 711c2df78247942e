package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// ConflictChecker answers whether a window on a date is already taken.
// Cancelled appointments never block a slot.
type ConflictChecker struct {
	appts AppointmentRepository
}

func NewConflictChecker(appts AppointmentRepository) *ConflictChecker {
	return &ConflictChecker{appts: appts}
}

// HasConflict reports whether [start, end) on date overlaps any active
// appointment other than excludeID.
func (c *ConflictChecker) HasConflict(ctx context.Context, date Date, start, end TimeOfDay, excludeID *uuid.UUID) (bool, error) {
	hit, err := c.FirstConflict(ctx, date, start, end, excludeID)
	return hit != nil, err
}

// FirstConflict returns the earliest appointment overlapping the window, or
// nil when the window is free.
func (c *ConflictChecker) FirstConflict(ctx context.Context, date Date, start, end TimeOfDay, excludeID *uuid.UUID) (*Appointment, error) {
	existing, err := c.appts.ActiveOnDate(ctx, date)
	if err != nil {
		return nil, err
	}
	return ConflictsWith(existing, Window{Start: start, End: end}, excludeID), nil
}

// ConflictsWith scans an in-memory set for the first active appointment
// overlapping w.
func ConflictsWith(existing []*Appointment, w Window, excludeID *uuid.UUID) *Appointment {
	var first *Appointment
	for _, a := range existing {
		if !a.Active() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if !Overlaps(a.Window(), w) {
			continue
		}
		if first == nil || a.StartTime < first.StartTime {
			first = a
		}
	}
	return first
}
