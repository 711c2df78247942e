package bono

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Bono is a prepaid package of sessions owned by a patient.
type Bono struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	PatientID     uuid.UUID       `db:"paciente_id" json:"patient_id"`
	Name          string          `db:"nombre" json:"name"`
	TotalSessions int             `db:"sesiones_total" json:"total_sessions"`
	UsedSessions  int             `db:"sesiones_usadas" json:"used_sessions"`
	Price         decimal.Decimal `db:"precio" json:"price"`
	PurchasedAt   pgtype.Date     `db:"fecha_compra" json:"purchased_at"`
	ExpiresAt     pgtype.Date     `db:"fecha_caducidad" json:"expires_at"`
	Notes         *string         `db:"notas" json:"notes,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

func (b *Bono) Remaining() int { return b.TotalSessions - b.UsedSessions }

// Expired reports whether the package can no longer be used on day.
func (b *Bono) Expired(day time.Time) bool {
	if !b.ExpiresAt.Valid {
		return false
	}
	y, m, d := day.Date()
	return b.ExpiresAt.Time.Before(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}
