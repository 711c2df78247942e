package scheduling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// History actions.
const (
	ActionCreated         = "created"
	ActionRescheduled     = "rescheduled"
	ActionResized         = "resized"
	ActionStatusChanged   = "status_changed"
	ActionPaymentRecorded = "payment_recorded"
	ActionUpdated         = "updated"
)

// TimeOfDay is a clinic-local wall-clock time in minutes since midnight.
// EndOfDay (24:00) is only meaningful as the end of a window.
type TimeOfDay int

const EndOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS". Seconds must be zero.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
		}
		nums[i] = n
	}
	if len(nums) == 3 && nums[2] != 0 {
		return 0, fmt.Errorf("invalid time %q: seconds are not supported", s)
	}
	h, m := nums[0], nums[1]
	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Clock renders the time with seconds, as used in calendar timestamps.
func (t TimeOfDay) Clock() string {
	return t.String() + ":00"
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

const microsPerMinute = int64(time.Minute / time.Microsecond)

// ScanTime implements pgtype.TimeScanner.
func (t *TimeOfDay) ScanTime(v pgtype.Time) error {
	if !v.Valid {
		return fmt.Errorf("cannot scan NULL into TimeOfDay")
	}
	*t = TimeOfDay(v.Microseconds / microsPerMinute)
	return nil
}

// TimeValue implements pgtype.TimeValuer.
func (t TimeOfDay) TimeValue() (pgtype.Time, error) {
	return pgtype.Time{Microseconds: int64(t) * microsPerMinute, Valid: true}, nil
}

const dateLayout = "2006-01-02"

// Date is a calendar day with no time zone attached.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its wall-clock day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) AddDays(n int) Date { return Date{d.AddDate(0, 0, n)} }

// DaysUntil returns the number of days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.Sub(d.Time).Hours() / 24)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid date: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// ScanDate implements pgtype.DateScanner.
func (d *Date) ScanDate(v pgtype.Date) error {
	if !v.Valid {
		return fmt.Errorf("cannot scan NULL into Date")
	}
	*d = DateOf(v.Time)
	return nil
}

// DateValue implements pgtype.DateValuer.
func (d Date) DateValue() (pgtype.Date, error) {
	return pgtype.Date{Time: d.Time, Valid: true}, nil
}

// Window is a half-open interval [Start, End) on one day.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

func (w Window) Duration() time.Duration {
	return time.Duration(w.End-w.Start) * time.Minute
}

// Overlaps reports whether two windows share any instant. Touching
// boundaries do not overlap.
func Overlaps(a, b Window) bool {
	return a.Start < b.End && b.Start < a.End
}

// Appointment maps to the citas table.
type Appointment struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	PatientID     uuid.UUID       `db:"paciente_id" json:"patient_id"`
	Date          Date            `db:"fecha" json:"date"`
	StartTime     TimeOfDay       `db:"hora_inicio" json:"start_time"`
	EndTime       TimeOfDay       `db:"hora_fin" json:"end_time"`
	Reason        string          `db:"motivo" json:"reason"`
	Status        Status          `db:"estado" json:"status"`
	Notes         *string         `db:"notas" json:"notes,omitempty"`
	Price         decimal.Decimal `db:"precio" json:"price"`
	Paid          bool            `db:"pagado" json:"paid"`
	PaymentDate   *Date           `db:"fecha_pago" json:"payment_date,omitempty"`
	PaymentMethod *string         `db:"metodo_pago" json:"payment_method,omitempty"`
	ServiceID     *uuid.UUID      `db:"servicio_id" json:"service_id,omitempty"`
	Doctor        *string         `db:"doctor" json:"doctor,omitempty"`
	Room          *string         `db:"sala" json:"room,omitempty"`
	BonoID        *uuid.UUID      `db:"bono_id" json:"bono_id,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) Window() Window {
	return Window{Start: a.StartTime, End: a.EndTime}
}

// Active reports whether the appointment occupies its slot.
func (a *Appointment) Active() bool { return a.Status != StatusCancelled }

// HistoryEntry maps to citas_historial. Old/new fields are set for moves.
type HistoryEntry struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	AppointmentID uuid.UUID  `db:"cita_id" json:"appointment_id"`
	Action        string     `db:"accion" json:"action"`
	Description   string     `db:"descripcion" json:"description"`
	OldDate       *Date      `db:"fecha_old" json:"old_date,omitempty"`
	OldStart      *TimeOfDay `db:"inicio_old" json:"old_start,omitempty"`
	OldEnd        *TimeOfDay `db:"fin_old" json:"old_end,omitempty"`
	NewDate       *Date      `db:"fecha_new" json:"new_date,omitempty"`
	NewStart      *TimeOfDay `db:"inicio_new" json:"new_start,omitempty"`
	NewEnd        *TimeOfDay `db:"fin_new" json:"new_end,omitempty"`
	Actor         *string    `db:"actor" json:"actor,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// SessionNote maps to notas_sesion.
type SessionNote struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"cita_id" json:"appointment_id"`
	Content       string    `db:"contenido" json:"content"`
	Author        *string   `db:"autor" json:"author,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ListFilter narrows List results. Zero values are ignored.
type ListFilter struct {
	PatientID *uuid.UUID
	Status    Status
	From      *Date
	To        *Date
	Sort      string
	Desc      bool
}

// CalendarRow is an appointment joined with its patient's display name.
// PatientName is empty when the patient no longer exists.
type CalendarRow struct {
	Appointment
	PatientName string
}
