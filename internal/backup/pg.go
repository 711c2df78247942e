package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/datatypes"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/db"
)

// Store dumps and restores the clinic tables.
type Store interface {
	Dump(ctx context.Context) (*Snapshot, error)
	Restore(ctx context.Context, snap *Snapshot) error
	SchemaVersion(ctx context.Context) (int, error)
}

// PGStore is the Postgres Store. Restore replaces every clinic table in one
// transaction using COPY.
type PGStore struct {
	pool *pgxpool.Pool
	tx   db.TxManager
}

func NewPGStore(pool *pgxpool.Pool, tx db.TxManager) *PGStore {
	return &PGStore{pool: pool, tx: tx}
}

// Parent tables first; TRUNCATE lists them in reverse.
var tableOrder = []string{
	"usuarios", "pacientes", "configuracion", "bonos",
	"citas", "citas_historial", "notas_sesion",
}

const (
	selectUsers = `SELECT id, username, password_hash, role, active, created_at
		FROM usuarios ORDER BY username`
	selectPatients = `SELECT id, nombre, apellidos, dni, telefono, email, direccion,
		fecha_nacimiento, consentimiento, notas, created_at, updated_at
		FROM pacientes ORDER BY created_at, id`
	selectSettings = `SELECT clave, valor, updated_at FROM configuracion ORDER BY clave`
	selectBonos    = `SELECT id, paciente_id, nombre, sesiones_total, sesiones_usadas,
		precio::text AS precio, fecha_compra, fecha_caducidad, notas, created_at
		FROM bonos ORDER BY created_at, id`
	selectAppointments = `SELECT id, paciente_id, fecha, hora_inicio::text AS hora_inicio,
		hora_fin::text AS hora_fin, motivo, estado, notas, precio::text AS precio, pagado,
		fecha_pago, metodo_pago, servicio_id, doctor, sala, bono_id, created_at, updated_at
		FROM citas ORDER BY fecha, hora_inicio, id`
	selectHistory = `SELECT id, cita_id, accion, descripcion,
		fecha_old, inicio_old::text AS inicio_old, fin_old::text AS fin_old,
		fecha_new, inicio_new::text AS inicio_new, fin_new::text AS fin_new,
		actor, created_at
		FROM citas_historial ORDER BY created_at, id`
	selectNotes = `SELECT id, cita_id, contenido, autor, created_at, updated_at
		FROM notas_sesion ORDER BY created_at, id`
)

func collect[T any](ctx context.Context, tx pgx.Tx, sql string) ([]T, error) {
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}

// Dump reads every table inside one read-only repeatable-read transaction so
// the snapshot is consistent.
func (s *PGStore) Dump(ctx context.Context) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin dump: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	snap := &Snapshot{}
	if snap.Users, err = collect[UserRow](ctx, tx, selectUsers); err != nil {
		return nil, fmt.Errorf("dump usuarios: %w", err)
	}
	if snap.Patients, err = collect[PatientRow](ctx, tx, selectPatients); err != nil {
		return nil, fmt.Errorf("dump pacientes: %w", err)
	}
	if snap.Settings, err = collect[SettingRow](ctx, tx, selectSettings); err != nil {
		return nil, fmt.Errorf("dump configuracion: %w", err)
	}
	if snap.Bonos, err = collect[BonoRow](ctx, tx, selectBonos); err != nil {
		return nil, fmt.Errorf("dump bonos: %w", err)
	}
	if snap.Appointments, err = collect[AppointmentRow](ctx, tx, selectAppointments); err != nil {
		return nil, fmt.Errorf("dump citas: %w", err)
	}
	if snap.History, err = collect[HistoryRow](ctx, tx, selectHistory); err != nil {
		return nil, fmt.Errorf("dump citas_historial: %w", err)
	}
	if snap.Notes, err = collect[NoteRow](ctx, tx, selectNotes); err != nil {
		return nil, fmt.Errorf("dump notas_sesion: %w", err)
	}
	return snap, nil
}

func (s *PGStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM _migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

type copyTable struct {
	name    string
	columns []string
	rows    [][]any
}

// Restore truncates the clinic tables and copies snap back in.
func (s *PGStore) Restore(ctx context.Context, snap *Snapshot) error {
	tables, err := copyTables(snap)
	if err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)
		if tx == nil {
			return db.ErrNoTx
		}
		if _, err := tx.Exec(ctx, truncateSQL()); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
		for _, t := range tables {
			if len(t.rows) == 0 {
				continue
			}
			n, err := tx.CopyFrom(ctx, pgx.Identifier{t.name}, t.columns, pgx.CopyFromRows(t.rows))
			if err != nil {
				return fmt.Errorf("restore %s: %w", t.name, err)
			}
			if int(n) != len(t.rows) {
				return fmt.Errorf("restore %s: copied %d of %d rows", t.name, n, len(t.rows))
			}
		}
		return nil
	})
}

func truncateSQL() string {
	sql := "TRUNCATE "
	for i := len(tableOrder) - 1; i >= 0; i-- {
		sql += tableOrder[i]
		if i > 0 {
			sql += ", "
		}
	}
	return sql
}

// copyTables converts snap into COPY input, in tableOrder.
func copyTables(snap *Snapshot) ([]copyTable, error) {
	users := copyTable{name: "usuarios", columns: []string{"id", "username", "password_hash", "role", "active", "created_at"}}
	for _, r := range snap.Users {
		users.rows = append(users.rows, []any{r.ID, r.Username, r.PasswordHash, r.Role, r.Active, r.CreatedAt})
	}

	patients := copyTable{name: "pacientes", columns: []string{"id", "nombre", "apellidos", "dni", "telefono", "email",
		"direccion", "fecha_nacimiento", "consentimiento", "notas", "created_at", "updated_at"}}
	for _, r := range snap.Patients {
		patients.rows = append(patients.rows, []any{r.ID, r.Name, r.Surname, r.NationalID, r.Phone, r.Email,
			r.Address, pgDatePtr(r.BirthDate), r.Consent, r.Notes, r.CreatedAt, r.UpdatedAt})
	}

	settings := copyTable{name: "configuracion", columns: []string{"clave", "valor", "updated_at"}}
	for _, r := range snap.Settings {
		settings.rows = append(settings.rows, []any{r.Key, r.Value, r.UpdatedAt})
	}

	bonos := copyTable{name: "bonos", columns: []string{"id", "paciente_id", "nombre", "sesiones_total", "sesiones_usadas",
		"precio", "fecha_compra", "fecha_caducidad", "notas", "created_at"}}
	for _, r := range snap.Bonos {
		price, err := pgNumeric(r.Price)
		if err != nil {
			return nil, fmt.Errorf("bono %s: %w", r.ID, err)
		}
		bonos.rows = append(bonos.rows, []any{r.ID, r.PatientID, r.Name, int32(r.TotalSessions), int32(r.UsedSessions),
			price, pgDate(r.PurchasedAt), pgDatePtr(r.ExpiresAt), r.Notes, r.CreatedAt})
	}

	appts := copyTable{name: "citas", columns: []string{"id", "paciente_id", "fecha", "hora_inicio", "hora_fin", "motivo",
		"estado", "notas", "precio", "pagado", "fecha_pago", "metodo_pago", "servicio_id", "doctor", "sala", "bono_id",
		"created_at", "updated_at"}}
	for _, r := range snap.Appointments {
		start, err := pgTime(r.StartTime)
		if err != nil {
			return nil, fmt.Errorf("cita %s: %w", r.ID, err)
		}
		end, err := pgTime(r.EndTime)
		if err != nil {
			return nil, fmt.Errorf("cita %s: %w", r.ID, err)
		}
		price, err := pgNumeric(r.Price)
		if err != nil {
			return nil, fmt.Errorf("cita %s: %w", r.ID, err)
		}
		appts.rows = append(appts.rows, []any{r.ID, r.PatientID, pgDate(r.Date), start, end, r.Reason,
			r.Status, r.Notes, price, r.Paid, pgDatePtr(r.PaymentDate), r.PaymentMethod, r.ServiceID, r.Doctor, r.Room, r.BonoID,
			r.CreatedAt, r.UpdatedAt})
	}

	history := copyTable{name: "citas_historial", columns: []string{"id", "cita_id", "accion", "descripcion",
		"fecha_old", "inicio_old", "fin_old", "fecha_new", "inicio_new", "fin_new", "actor", "created_at"}}
	for _, r := range snap.History {
		times := make([]pgtype.Time, 4)
		for i, s := range []*string{r.OldStart, r.OldEnd, r.NewStart, r.NewEnd} {
			if s == nil {
				continue
			}
			t, err := pgTime(*s)
			if err != nil {
				return nil, fmt.Errorf("history %s: %w", r.ID, err)
			}
			times[i] = t
		}
		history.rows = append(history.rows, []any{r.ID, r.AppointmentID, r.Action, r.Description,
			pgDatePtr(r.OldDate), times[0], times[1], pgDatePtr(r.NewDate), times[2], times[3], r.Actor, r.CreatedAt})
	}

	notes := copyTable{name: "notas_sesion", columns: []string{"id", "cita_id", "contenido", "autor", "created_at", "updated_at"}}
	for _, r := range snap.Notes {
		notes.rows = append(notes.rows, []any{r.ID, r.AppointmentID, r.Content, r.Author, r.CreatedAt, r.UpdatedAt})
	}

	return []copyTable{users, patients, settings, bonos, appts, history, notes}, nil
}

func pgDate(d datatypes.Date) pgtype.Date {
	t := time.Time(d)
	return pgtype.Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), Valid: true}
}

func pgDatePtr(d *datatypes.Date) pgtype.Date {
	if d == nil {
		return pgtype.Date{}
	}
	return pgDate(*d)
}

func pgTime(s string) (pgtype.Time, error) {
	t, err := scheduling.ParseTimeOfDay(s)
	if err != nil {
		return pgtype.Time{}, err
	}
	return t.TimeValue()
}

func pgNumeric(s string) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return n, nil
}
