package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	// ActiveOnDate returns the non-cancelled appointments of one day.
	ActiveOnDate(ctx context.Context, date Date) ([]*Appointment, error)
	// ListRange returns every appointment between from and to inclusive,
	// joined with the patient name.
	ListRange(ctx context.Context, from, to Date) ([]*CalendarRow, error)
	// LockDates serializes writers touching the same days.
	LockDates(ctx context.Context, dates ...Date) error
}

type HistoryRepository interface {
	Append(ctx context.Context, h *HistoryEntry) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*HistoryEntry, error)
}

type NoteRepository interface {
	Create(ctx context.Context, n *SessionNote) error
	GetByID(ctx context.Context, id uuid.UUID) (*SessionNote, error)
	Update(ctx context.Context, n *SessionNote) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*SessionNote, error)
}

// PatientDirectory answers whether a patient id refers to an existing record.
type PatientDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// BonoLedger moves sessions in and out of a prepaid package. Check fails
// with a bono_id ValidationError when the package is unknown or belongs to
// another patient.
type BonoLedger interface {
	Check(ctx context.Context, bonoID, patientID uuid.UUID) error
	Consume(ctx context.Context, bonoID uuid.UUID) error
	Release(ctx context.Context, bonoID uuid.UUID) error
}
