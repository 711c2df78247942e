package scheduling

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/events"
)

// -- In-memory store shared by the mock repositories --

type memStore struct {
	appts    map[uuid.UUID]Appointment
	history  []HistoryEntry
	notes    map[uuid.UUID]SessionNote
	patients map[uuid.UUID]string

	failHistory error
	failUpdate  error
	lockedDates [][]Date
	inTx        bool
}

func newMemStore() *memStore {
	return &memStore{
		appts:    make(map[uuid.UUID]Appointment),
		notes:    make(map[uuid.UUID]SessionNote),
		patients: make(map[uuid.UUID]string),
	}
}

func (m *memStore) snapshot() func() {
	appts := make(map[uuid.UUID]Appointment, len(m.appts))
	for k, v := range m.appts {
		appts[k] = v
	}
	notes := make(map[uuid.UUID]SessionNote, len(m.notes))
	for k, v := range m.notes {
		notes[k] = v
	}
	history := append([]HistoryEntry(nil), m.history...)
	return func() {
		m.appts, m.notes, m.history = appts, notes, history
	}
}

// fakeTx restores the store when fn fails, mimicking a rollback.
type fakeTx struct{ st *memStore }

func (f fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.st.inTx {
		return fn(ctx)
	}
	restore := f.st.snapshot()
	f.st.inTx = true
	defer func() { f.st.inTx = false }()
	if err := fn(ctx); err != nil {
		restore()
		return err
	}
	return nil
}

type memAppts struct{ st *memStore }

func (r memAppts) Create(_ context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	r.st.appts[a.ID] = *a
	return nil
}

func (r memAppts) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := r.st.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r memAppts) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r memAppts) Update(_ context.Context, a *Appointment) error {
	if r.st.failUpdate != nil {
		return storeErr("update appointment", r.st.failUpdate)
	}
	if _, ok := r.st.appts[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	r.st.appts[a.ID] = *a
	return nil
}

func (r memAppts) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.st.appts[id]; !ok {
		return ErrNotFound
	}
	delete(r.st.appts, id)
	return nil
}

func (r memAppts) sorted() []*Appointment {
	out := make([]*Appointment, 0, len(r.st.appts))
	for _, a := range r.st.appts {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.Before(out[j].Date.Time)
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r memAppts) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	var matched []*Appointment
	for _, a := range r.sorted() {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.From != nil && a.Date.Before(f.From.Time) {
			continue
		}
		if f.To != nil && a.Date.After(f.To.Time) {
			continue
		}
		matched = append(matched, a)
	}
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r memAppts) ActiveOnDate(_ context.Context, date Date) ([]*Appointment, error) {
	var out []*Appointment
	for _, a := range r.sorted() {
		if a.Date.Equal(date.Time) && a.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r memAppts) ListRange(_ context.Context, from, to Date) ([]*CalendarRow, error) {
	var out []*CalendarRow
	for _, a := range r.sorted() {
		if a.Date.Before(from.Time) || a.Date.After(to.Time) {
			continue
		}
		out = append(out, &CalendarRow{Appointment: *a, PatientName: r.st.patients[a.PatientID]})
	}
	return out, nil
}

func (r memAppts) LockDates(_ context.Context, dates ...Date) error {
	r.st.lockedDates = append(r.st.lockedDates, dates)
	return nil
}

type memHistory struct{ st *memStore }

func (r memHistory) Append(_ context.Context, h *HistoryEntry) error {
	if r.st.failHistory != nil {
		return storeErr("append history", r.st.failHistory)
	}
	h.ID = uuid.New()
	h.CreatedAt = time.Now()
	r.st.history = append(r.st.history, *h)
	return nil
}

func (r memHistory) ListByAppointment(_ context.Context, id uuid.UUID) ([]*HistoryEntry, error) {
	var out []*HistoryEntry
	for _, h := range r.st.history {
		h := h
		if h.AppointmentID == id {
			out = append(out, &h)
		}
	}
	return out, nil
}

type memNotes struct{ st *memStore }

func (r memNotes) Create(_ context.Context, n *SessionNote) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	r.st.notes[n.ID] = *n
	return nil
}

func (r memNotes) GetByID(_ context.Context, id uuid.UUID) (*SessionNote, error) {
	n, ok := r.st.notes[id]
	if !ok {
		return nil, ErrNoteNotFound
	}
	return &n, nil
}

func (r memNotes) Update(_ context.Context, n *SessionNote) error {
	if _, ok := r.st.notes[n.ID]; !ok {
		return ErrNoteNotFound
	}
	n.UpdatedAt = time.Now()
	r.st.notes[n.ID] = *n
	return nil
}

func (r memNotes) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.st.notes[id]; !ok {
		return ErrNoteNotFound
	}
	delete(r.st.notes, id)
	return nil
}

func (r memNotes) ListByAppointment(_ context.Context, id uuid.UUID) ([]*SessionNote, error) {
	var out []*SessionNote
	for _, n := range r.st.notes {
		n := n
		if n.AppointmentID == id {
			out = append(out, &n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memPatients struct{ st *memStore }

func (r memPatients) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := r.st.patients[id]
	return ok, nil
}

var errBonoExhausted = errors.New("bono has no sessions left")

type fakeLedger struct {
	used, total map[uuid.UUID]int
	owner       map[uuid.UUID]uuid.UUID
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{used: map[uuid.UUID]int{}, total: map[uuid.UUID]int{}, owner: map[uuid.UUID]uuid.UUID{}}
}

func (l *fakeLedger) add(total int) uuid.UUID {
	id := uuid.New()
	l.total[id] = total
	return id
}

func (l *fakeLedger) addFor(patientID uuid.UUID, total int) uuid.UUID {
	id := l.add(total)
	l.owner[id] = patientID
	return id
}

func (l *fakeLedger) Check(_ context.Context, id, patientID uuid.UUID) error {
	owner, ok := l.owner[id]
	switch {
	case !ok:
		return &ValidationError{Field: "bono_id", Msg: "bono not found"}
	case owner != patientID:
		return &ValidationError{Field: "bono_id", Msg: "bono belongs to another patient"}
	}
	return nil
}

func (l *fakeLedger) Consume(_ context.Context, id uuid.UUID) error {
	if l.used[id] >= l.total[id] {
		return &ValidationError{Field: "bono_id", Msg: errBonoExhausted.Error()}
	}
	l.used[id]++
	return nil
}

func (l *fakeLedger) Release(_ context.Context, id uuid.UUID) error {
	if l.used[id] > 0 {
		l.used[id]--
	}
	return nil
}

// -- Fixture --

var testDay = NewDate(2024, time.June, 10)

type fixture struct {
	st     *memStore
	svc    *Service
	events *events.Recorder
	ledger *fakeLedger
	now    time.Time
}

func newFixture() *fixture {
	st := newMemStore()
	rec := &events.Recorder{}
	ledger := newFakeLedger()
	now := time.Date(2024, time.June, 12, 10, 0, 0, 0, time.UTC)
	svc := NewService(Deps{
		Appointments: memAppts{st},
		History:      memHistory{st},
		Notes:        memNotes{st},
		Patients:     memPatients{st},
		Bonos:        ledger,
		Tx:           fakeTx{st},
		Events:       rec,
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return now },
	})
	return &fixture{st: st, svc: svc, events: rec, ledger: ledger, now: now}
}

func (f *fixture) patient(name string) uuid.UUID {
	id := uuid.New()
	f.st.patients[id] = name
	return id
}

func hm(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// seed inserts an appointment directly, bypassing the service.
func (f *fixture) seed(date Date, start, end string, status Status) *Appointment {
	a := &Appointment{
		ID:        uuid.New(),
		PatientID: f.patient("Ana Ruiz"),
		Date:      date,
		StartTime: hm(start),
		EndTime:   hm(end),
		Reason:    "Consulta",
		Status:    status,
	}
	f.st.appts[a.ID] = *a
	return a
}

func (f *fixture) stored(id uuid.UUID) Appointment {
	return f.st.appts[id]
}
