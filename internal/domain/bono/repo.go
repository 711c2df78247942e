package bono

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type Repository interface {
	Create(ctx context.Context, b *Bono) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bono, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bono, error)
	SetUsed(ctx context.Context, id uuid.UUID, used int) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bono, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type bonoRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &bonoRepoPG{pool: pool}
}

func (r *bonoRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const bonoCols = `id, paciente_id, nombre, sesiones_total, sesiones_usadas, precio,
	fecha_compra, fecha_caducidad, notas, created_at`

func scanBono(row pgx.Row) (*Bono, error) {
	var b Bono
	err := row.Scan(&b.ID, &b.PatientID, &b.Name, &b.TotalSessions, &b.UsedSessions, &b.Price,
		&b.PurchasedAt, &b.ExpiresAt, &b.Notes, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bonoRepoPG) Create(ctx context.Context, b *Bono) error {
	b.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bonos (id, paciente_id, nombre, sesiones_total, sesiones_usadas, precio,
			fecha_compra, fecha_caducidad, notas)
		VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, CURRENT_DATE),$8,$9)
		RETURNING fecha_compra, created_at`,
		b.ID, b.PatientID, b.Name, b.TotalSessions, b.UsedSessions, b.Price,
		b.PurchasedAt, b.ExpiresAt, b.Notes,
	).Scan(&b.PurchasedAt, &b.CreatedAt)
}

func (r *bonoRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bono, error) {
	return scanBono(r.conn(ctx).QueryRow(ctx, `SELECT `+bonoCols+` FROM bonos WHERE id = $1`, id))
}

func (r *bonoRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bono, error) {
	return scanBono(r.conn(ctx).QueryRow(ctx, `SELECT `+bonoCols+` FROM bonos WHERE id = $1 FOR UPDATE`, id))
}

func (r *bonoRepoPG) SetUsed(ctx context.Context, id uuid.UUID, used int) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE bonos SET sesiones_usadas = $2 WHERE id = $1`, id, used)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *bonoRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bonos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *bonoRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bono, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+bonoCols+` FROM bonos
		WHERE paciente_id = $1 ORDER BY fecha_compra DESC, created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Bono
	for rows.Next() {
		b, err := scanBono(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}
