package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Patient maps to the pacientes table.
type Patient struct {
	ID         uuid.UUID   `db:"id" json:"id"`
	FirstName  string      `db:"nombre" json:"first_name"`
	LastName   string      `db:"apellidos" json:"last_name"`
	NationalID *string     `db:"dni" json:"national_id,omitempty"`
	Phone      *string     `db:"telefono" json:"phone,omitempty"`
	Email      *string     `db:"email" json:"email,omitempty"`
	Address    *string     `db:"direccion" json:"address,omitempty"`
	BirthDate  pgtype.Date `db:"fecha_nacimiento" json:"birth_date"`
	Consent    bool        `db:"consentimiento" json:"consent"`
	Notes      *string     `db:"notas" json:"notes,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}

// DisplayName is "first last", trimmed.
func (p *Patient) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// normalize trims text fields and turns blank optionals into NULL.
func (p *Patient) normalize() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	for _, f := range []**string{&p.NationalID, &p.Phone, &p.Email, &p.Address, &p.Notes} {
		if *f == nil {
			continue
		}
		v := strings.TrimSpace(**f)
		if v == "" {
			*f = nil
			continue
		}
		*f = &v
	}
	if p.NationalID != nil {
		up := strings.ToUpper(*p.NationalID)
		p.NationalID = &up
	}
}
