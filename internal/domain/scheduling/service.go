package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
)

// Event types published after a committed change.
const (
	EventCreated         = "appointment.created"
	EventRescheduled     = "appointment.rescheduled"
	EventResized         = "appointment.resized"
	EventStatusChanged   = "appointment.status_changed"
	EventPaymentRecorded = "appointment.payment_recorded"
	EventUpdated         = "appointment.updated"
	EventDeleted         = "appointment.deleted"
)

// Deps wires a Service. Bonos and Events are optional.
type Deps struct {
	Appointments AppointmentRepository
	History      HistoryRepository
	Notes        NoteRepository
	Patients     PatientDirectory
	Bonos        BonoLedger
	Tx           db.TxManager
	Events       events.Publisher
	Logger       zerolog.Logger
	Now          func() time.Time
}

type Service struct {
	appts     AppointmentRepository
	history   HistoryRepository
	notes     NoteRepository
	patients  PatientDirectory
	bonos     BonoLedger
	tx        db.TxManager
	events    events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
	conflicts *ConflictChecker
}

func NewService(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		appts:     d.Appointments,
		history:   d.History,
		notes:     d.Notes,
		patients:  d.Patients,
		bonos:     d.Bonos,
		tx:        d.Tx,
		events:    d.Events,
		logger:    d.Logger.With().Str("component", "scheduling").Logger(),
		now:       d.Now,
		conflicts: NewConflictChecker(d.Appointments),
	}
}

// Conflicts exposes the read-only checker.
func (s *Service) Conflicts() *ConflictChecker { return s.conflicts }

// checkDuration enforces the minimum length, and the maximum when max > 0.
// An end at or before the start counts as too short.
func checkDuration(start, end TimeOfDay, max time.Duration) error {
	d := Window{Start: start, End: end}.Duration()
	if d < MinDuration {
		return ErrDurationTooShort
	}
	if max > 0 && d > max {
		return ErrDurationTooLong
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	if err := s.events.Publish(ctx, eventType, a); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("appointment_id", a.ID.String()).
			Msg("failed to publish appointment event")
	}
}

func actor(ctx context.Context) *string {
	a := auth.ActorFromContext(ctx)
	return &a
}

func clone(a *Appointment) *Appointment {
	c := *a
	return &c
}

// -- Moving --

// Reschedule moves an appointment to a new date and window.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date Date, start, end TimeOfDay) (*Appointment, error) {
	return s.move(ctx, id, date, start, end, ActionRescheduled)
}

// Resize changes an appointment's window, bounded to MaxResizeDuration.
func (s *Service) Resize(ctx context.Context, id uuid.UUID, date Date, start, end TimeOfDay) (*Appointment, error) {
	return s.move(ctx, id, date, start, end, ActionResized)
}

func (s *Service) move(ctx context.Context, id uuid.UUID, date Date, start, end TimeOfDay, action string) (*Appointment, error) {
	var max time.Duration
	if action == ActionResized {
		max = MaxResizeDuration
	}
	if err := checkDuration(start, end, max); err != nil {
		return nil, err
	}
	if date.IsZero() {
		return nil, invalid("date", "is required")
	}

	var result *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.appts.LockDates(ctx, a.Date, date); err != nil {
			return err
		}
		if a.Active() {
			hit, err := s.conflicts.FirstConflict(ctx, date, start, end, &id)
			if err != nil {
				return err
			}
			if hit != nil {
				return &ConflictError{With: hit}
			}
		}

		old := clone(a)
		a.Date, a.StartTime, a.EndTime = date, start, end
		if err := s.appts.Update(ctx, a); err != nil {
			return err
		}
		if err := s.history.Append(ctx, &HistoryEntry{
			AppointmentID: a.ID,
			Action:        action,
			Description: fmt.Sprintf("%s %s-%s -> %s %s-%s", old.Date, old.StartTime, old.EndTime,
				a.Date, a.StartTime, a.EndTime),
			OldDate:  &old.Date,
			OldStart: &old.StartTime,
			OldEnd:   &old.EndTime,
			NewDate:  &a.Date,
			NewStart: &a.StartTime,
			NewEnd:   &a.EndTime,
			Actor:    actor(ctx),
		}); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventType := EventRescheduled
	if action == ActionResized {
		eventType = EventResized
	}
	s.publish(ctx, eventType, result)
	return result, nil
}

// -- CRUD --

func (s *Service) Create(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return invalid("patient_id", "is required")
	}
	if a.Date.IsZero() {
		return invalid("date", "is required")
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if !a.Status.Valid() {
		return invalid("status", "unknown status %q", a.Status)
	}
	if a.Price.IsNegative() {
		return invalid("price", "must not be negative")
	}
	if err := checkDuration(a.StartTime, a.EndTime, 0); err != nil {
		return err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.patients.Exists(ctx, a.PatientID)
		if err != nil {
			return storeErr("lookup patient", err)
		}
		if !ok {
			return invalid("patient_id", "patient does not exist")
		}
		if a.BonoID != nil {
			if err := s.checkBono(ctx, *a.BonoID, a.PatientID); err != nil {
				return err
			}
		}
		if err := s.appts.LockDates(ctx, a.Date); err != nil {
			return err
		}
		if a.Active() {
			hit, err := s.conflicts.FirstConflict(ctx, a.Date, a.StartTime, a.EndTime, nil)
			if err != nil {
				return err
			}
			if hit != nil {
				return &ConflictError{With: hit}
			}
		}
		if a.BonoID != nil && a.Status == StatusCompleted {
			if err := s.consume(ctx, *a.BonoID); err != nil {
				return err
			}
		}
		if err := s.appts.Create(ctx, a); err != nil {
			return err
		}
		return s.history.Append(ctx, &HistoryEntry{
			AppointmentID: a.ID,
			Action:        ActionCreated,
			Description:   fmt.Sprintf("booked %s %s-%s", a.Date, a.StartTime, a.EndTime),
			NewDate:       &a.Date,
			NewStart:      &a.StartTime,
			NewEnd:        &a.EndTime,
			Actor:         actor(ctx),
		})
	})
	if err != nil {
		return err
	}
	s.publish(ctx, EventCreated, a)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appts.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, invalid("status", "unknown status %q", f.Status)
	}
	if f.From != nil && f.To != nil && f.To.Before(f.From.Time) {
		return nil, 0, invalid("to", "must not be before from")
	}
	return s.appts.List(ctx, f, limit, offset)
}

// Patch carries the editable non-time fields. Nil leaves a field unchanged;
// an empty string clears an optional text field.
type Patch struct {
	Reason    *string
	Notes     *string
	ServiceID *uuid.UUID
	Doctor    *string
	Room      *string
	Price     *decimal.Decimal
}

func optional(v *string) *string {
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (*Appointment, error) {
	if p.Price != nil && p.Price.IsNegative() {
		return nil, invalid("price", "must not be negative")
	}

	var result *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		var changed []string
		if p.Reason != nil {
			a.Reason = strings.TrimSpace(*p.Reason)
			changed = append(changed, "reason")
		}
		if p.Notes != nil {
			a.Notes = optional(p.Notes)
			changed = append(changed, "notes")
		}
		if p.ServiceID != nil {
			a.ServiceID = p.ServiceID
			if *p.ServiceID == uuid.Nil {
				a.ServiceID = nil
			}
			changed = append(changed, "service")
		}
		if p.Doctor != nil {
			a.Doctor = optional(p.Doctor)
			changed = append(changed, "doctor")
		}
		if p.Room != nil {
			a.Room = optional(p.Room)
			changed = append(changed, "room")
		}
		if p.Price != nil {
			a.Price = *p.Price
			changed = append(changed, "price")
		}
		if len(changed) == 0 {
			result = a
			return nil
		}
		if err := s.appts.Update(ctx, a); err != nil {
			return err
		}
		if err := s.history.Append(ctx, &HistoryEntry{
			AppointmentID: a.ID,
			Action:        ActionUpdated,
			Description:   "updated " + strings.Join(changed, ", "),
			Actor:         actor(ctx),
		}); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventUpdated, result)
	return result, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	var deleted *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.BonoID != nil && a.Status == StatusCompleted {
			if err := s.release(ctx, *a.BonoID); err != nil {
				return err
			}
		}
		if err := s.appts.Delete(ctx, id); err != nil {
			return err
		}
		deleted = a
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, EventDeleted, deleted)
	return nil
}

// -- Status & payment --

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusCancelled},
	StatusCancelled: {StatusPending},
	StatusCompleted: {StatusPending},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ChangeStatus applies a user-initiated transition. Setting the current
// status again is a no-op.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, status Status) (*Appointment, error) {
	if !status.Valid() {
		return nil, invalid("status", "unknown status %q", status)
	}

	var result *Appointment
	changed := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := a.Status
		if from == status {
			result = a
			return nil
		}
		if !canTransition(from, status) {
			return invalid("status", "cannot change from %s to %s", from, status)
		}

		if from == StatusCancelled {
			// Reactivating takes the slot back, so it must still be free.
			if err := s.appts.LockDates(ctx, a.Date); err != nil {
				return err
			}
			hit, err := s.conflicts.FirstConflict(ctx, a.Date, a.StartTime, a.EndTime, &id)
			if err != nil {
				return err
			}
			if hit != nil {
				return &ConflictError{With: hit}
			}
		}
		if a.BonoID != nil {
			switch {
			case status == StatusCompleted:
				err = s.consume(ctx, *a.BonoID)
			case from == StatusCompleted:
				err = s.release(ctx, *a.BonoID)
			}
			if err != nil {
				return err
			}
		}

		a.Status = status
		if err := s.appts.Update(ctx, a); err != nil {
			return err
		}
		if err := s.history.Append(ctx, &HistoryEntry{
			AppointmentID: a.ID,
			Action:        ActionStatusChanged,
			Description:   fmt.Sprintf("%s -> %s", from, status),
			Actor:         actor(ctx),
		}); err != nil {
			return err
		}
		result = a
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(ctx, EventStatusChanged, result)
	}
	return result, nil
}

// Payment describes a payment update. Date defaults to today when Paid is
// set; clearing Paid clears date and method.
type Payment struct {
	Paid   bool
	Date   *Date
	Method *string
	Price  *decimal.Decimal
}

func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, p Payment) (*Appointment, error) {
	if p.Price != nil && p.Price.IsNegative() {
		return nil, invalid("price", "must not be negative")
	}

	var result *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		a.Paid = p.Paid
		if p.Paid {
			d := DateOf(s.now())
			if p.Date != nil {
				d = *p.Date
			}
			a.PaymentDate = &d
			if p.Method != nil {
				a.PaymentMethod = optional(p.Method)
			}
		} else {
			a.PaymentDate = nil
			a.PaymentMethod = nil
		}
		if p.Price != nil {
			a.Price = *p.Price
		}
		if err := s.appts.Update(ctx, a); err != nil {
			return err
		}

		desc := "marked unpaid"
		if a.Paid {
			desc = fmt.Sprintf("paid %s on %s", a.Price.StringFixed(2), a.PaymentDate)
			if a.PaymentMethod != nil {
				desc += " by " + *a.PaymentMethod
			}
		}
		if err := s.history.Append(ctx, &HistoryEntry{
			AppointmentID: a.ID,
			Action:        ActionPaymentRecorded,
			Description:   desc,
			Actor:         actor(ctx),
		}); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventPaymentRecorded, result)
	return result, nil
}

func (s *Service) checkBono(ctx context.Context, bonoID, patientID uuid.UUID) error {
	if s.bonos == nil {
		return invalid("bono_id", "bonos are not enabled")
	}
	return s.bonos.Check(ctx, bonoID, patientID)
}

func (s *Service) consume(ctx context.Context, bonoID uuid.UUID) error {
	if s.bonos == nil {
		return nil
	}
	return s.bonos.Consume(ctx, bonoID)
}

func (s *Service) release(ctx context.Context, bonoID uuid.UUID) error {
	if s.bonos == nil {
		return nil
	}
	return s.bonos.Release(ctx, bonoID)
}

// -- Reads --

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*HistoryEntry, error) {
	if _, err := s.appts.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.history.ListByAppointment(ctx, id)
}

// CheckConflict is the read-only form of the conflict check used by booking
// forms before submitting.
func (s *Service) CheckConflict(ctx context.Context, date Date, start, end TimeOfDay, excludeID *uuid.UUID) (*Appointment, error) {
	if end <= start {
		return nil, invalid("end", "must be after start")
	}
	return s.conflicts.FirstConflict(ctx, date, start, end, excludeID)
}

// -- Session notes --

func (s *Service) AddNote(ctx context.Context, appointmentID uuid.UUID, content string) (*SessionNote, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content", "is required")
	}
	if _, err := s.appts.GetByID(ctx, appointmentID); err != nil {
		return nil, err
	}
	n := &SessionNote{AppointmentID: appointmentID, Content: content, Author: actor(ctx)}
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) ListNotes(ctx context.Context, appointmentID uuid.UUID) ([]*SessionNote, error) {
	if _, err := s.appts.GetByID(ctx, appointmentID); err != nil {
		return nil, err
	}
	return s.notes.ListByAppointment(ctx, appointmentID)
}

func (s *Service) UpdateNote(ctx context.Context, noteID uuid.UUID, content string) (*SessionNote, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content", "is required")
	}
	n, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}
	n.Content = content
	if err := s.notes.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) DeleteNote(ctx context.Context, noteID uuid.UUID) error {
	return s.notes.Delete(ctx, noteID)
}

// IsNotFound reports whether err means the addressed record is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoteNotFound)
}
