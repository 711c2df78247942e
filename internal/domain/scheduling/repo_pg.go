package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const apptCols = `id, paciente_id, fecha, hora_inicio, hora_fin, motivo, estado, notas,
	precio, pagado, fecha_pago, metodo_pago, servicio_id, doctor, sala, bono_id,
	created_at, updated_at`

const apptColsJoined = `c.id, c.paciente_id, c.fecha, c.hora_inicio, c.hora_fin, c.motivo, c.estado, c.notas,
	c.precio, c.pagado, c.fecha_pago, c.metodo_pago, c.servicio_id, c.doctor, c.sala, c.bono_id,
	c.created_at, c.updated_at`

func apptDest(a *Appointment) []interface{} {
	return []interface{}{&a.ID, &a.PatientID, &a.Date, &a.StartTime, &a.EndTime, &a.Reason, &a.Status, &a.Notes,
		&a.Price, &a.Paid, &a.PaymentDate, &a.PaymentMethod, &a.ServiceID, &a.Doctor, &a.Room, &a.BonoID,
		&a.CreatedAt, &a.UpdatedAt}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(apptDest(&a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO citas (id, paciente_id, fecha, hora_inicio, hora_fin, motivo, estado, notas,
			precio, pagado, fecha_pago, metodo_pago, servicio_id, doctor, sala, bono_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.Date, a.StartTime, a.EndTime, a.Reason, a.Status, a.Notes,
		a.Price, a.Paid, a.PaymentDate, a.PaymentMethod, a.ServiceID, a.Doctor, a.Room, a.BonoID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return storeErr("insert appointment", err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM citas WHERE id = $1`, id))
	return a, storeErr("get appointment", err)
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM citas WHERE id = $1 FOR UPDATE`, id))
	return a, storeErr("lock appointment", err)
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE citas SET paciente_id=$2, fecha=$3, hora_inicio=$4, hora_fin=$5, motivo=$6, estado=$7,
			notas=$8, precio=$9, pagado=$10, fecha_pago=$11, metodo_pago=$12, servicio_id=$13,
			doctor=$14, sala=$15, bono_id=$16, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.PatientID, a.Date, a.StartTime, a.EndTime, a.Reason, a.Status,
		a.Notes, a.Price, a.Paid, a.PaymentDate, a.PaymentMethod, a.ServiceID,
		a.Doctor, a.Room, a.BonoID,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return storeErr("update appointment", err)
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM citas WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var apptSortColumns = map[string][]string{
	"date":    {"fecha", "hora_inicio"},
	"created": {"created_at"},
	"status":  {"estado", "fecha", "hora_inicio"},
	"price":   {"precio"},
}

func orderBy(sort string, desc bool) string {
	cols, ok := apptSortColumns[sort]
	if !ok {
		cols = apptSortColumns["date"]
	}
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	parts := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		parts = append(parts, c+dir)
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.PatientID != nil {
		where += fmt.Sprintf(` AND paciente_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND estado = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(` AND fecha >= $%d`, idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(` AND fecha <= $%d`, idx)
		args = append(args, *f.To)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM citas`+where, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count appointments", err)
	}

	query := `SELECT ` + apptCols + ` FROM citas` + where + orderBy(f.Sort, f.Desc) +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, storeErr("list appointments", err)
	}
	items, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, storeErr("list appointments", err)
	}
	return items, total, nil
}

func (r *appointmentRepoPG) ActiveOnDate(ctx context.Context, date Date) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM citas
		WHERE fecha = $1 AND estado <> 'cancelled'
		ORDER BY hora_inicio, id`, date)
	if err != nil {
		return nil, storeErr("appointments on date", err)
	}
	items, err := collectAppointments(rows)
	return items, storeErr("appointments on date", err)
}

func (r *appointmentRepoPG) ListRange(ctx context.Context, from, to Date) ([]*CalendarRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptColsJoined+`, COALESCE(TRIM(p.nombre || ' ' || p.apellidos), '')
		FROM citas c
		LEFT JOIN pacientes p ON p.id = c.paciente_id
		WHERE c.fecha BETWEEN $1 AND $2
		ORDER BY c.fecha, c.hora_inicio, c.id`, from, to)
	if err != nil {
		return nil, storeErr("calendar range", err)
	}
	defer rows.Close()

	var items []*CalendarRow
	for rows.Next() {
		var cr CalendarRow
		dest := append(apptDest(&cr.Appointment), &cr.PatientName)
		if err := rows.Scan(dest...); err != nil {
			return nil, storeErr("calendar range", err)
		}
		items = append(items, &cr)
	}
	return items, storeErr("calendar range", rows.Err())
}

func dateLockKey(d Date) string { return "citas:" + d.String() }

func (r *appointmentRepoPG) LockDates(ctx context.Context, dates ...Date) error {
	keys := make([]string, len(dates))
	for i, d := range dates {
		keys[i] = dateLockKey(d)
	}
	return storeErr("lock dates", db.LockKeys(ctx, keys...))
}

// =========== History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository { return &historyRepoPG{pool: pool} }

func (r *historyRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const historyCols = `id, cita_id, accion, descripcion, fecha_old, inicio_old, fin_old,
	fecha_new, inicio_new, fin_new, actor, created_at`

func (r *historyRepoPG) Append(ctx context.Context, h *HistoryEntry) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO citas_historial (id, cita_id, accion, descripcion, fecha_old, inicio_old, fin_old,
			fecha_new, inicio_new, fin_new, actor)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		h.ID, h.AppointmentID, h.Action, h.Description, h.OldDate, h.OldStart, h.OldEnd,
		h.NewDate, h.NewStart, h.NewEnd, h.Actor,
	).Scan(&h.CreatedAt)
	return storeErr("append history", err)
}

func (r *historyRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*HistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+historyCols+` FROM citas_historial
		WHERE cita_id = $1 ORDER BY created_at, id`, appointmentID)
	if err != nil {
		return nil, storeErr("list history", err)
	}
	defer rows.Close()
	var items []*HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.AppointmentID, &h.Action, &h.Description,
			&h.OldDate, &h.OldStart, &h.OldEnd, &h.NewDate, &h.NewStart, &h.NewEnd,
			&h.Actor, &h.CreatedAt); err != nil {
			return nil, storeErr("list history", err)
		}
		items = append(items, &h)
	}
	return items, storeErr("list history", rows.Err())
}

// =========== Note Repository ===========

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository { return &noteRepoPG{pool: pool} }

func (r *noteRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const noteCols = `id, cita_id, contenido, autor, created_at, updated_at`

func scanNote(row pgx.Row) (*SessionNote, error) {
	var n SessionNote
	if err := row.Scan(&n.ID, &n.AppointmentID, &n.Content, &n.Author, &n.CreatedAt, &n.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoteNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *SessionNote) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notas_sesion (id, cita_id, contenido, autor)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at`,
		n.ID, n.AppointmentID, n.Content, n.Author,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	return storeErr("insert note", err)
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SessionNote, error) {
	n, err := scanNote(r.conn(ctx).QueryRow(ctx, `SELECT `+noteCols+` FROM notas_sesion WHERE id = $1`, id))
	return n, storeErr("get note", err)
}

func (r *noteRepoPG) Update(ctx context.Context, n *SessionNote) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE notas_sesion SET contenido=$2, updated_at=NOW() WHERE id = $1
		RETURNING updated_at`, n.ID, n.Content).Scan(&n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoteNotFound
	}
	return storeErr("update note", err)
}

func (r *noteRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM notas_sesion WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete note", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoteNotFound
	}
	return nil
}

func (r *noteRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*SessionNote, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+noteCols+` FROM notas_sesion
		WHERE cita_id = $1 ORDER BY created_at, id`, appointmentID)
	if err != nil {
		return nil, storeErr("list notes", err)
	}
	defer rows.Close()
	var items []*SessionNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, storeErr("list notes", err)
		}
		items = append(items, n)
	}
	return items, storeErr("list notes", rows.Err())
}
