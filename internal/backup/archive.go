package backup

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// FormatVersion is bumped whenever the archive layout changes.
const FormatVersion = 1

const batchSize = 500

// Row types double as pgx scan targets (db tags) and archive models (gorm
// tags). TIME and NUMERIC columns travel as their Postgres text form.

type UserRow struct {
	ID           uuid.UUID `db:"id" gorm:"column:id;primaryKey;type:text"`
	Username     string    `db:"username" gorm:"column:username"`
	PasswordHash string    `db:"password_hash" gorm:"column:password_hash"`
	Role         string    `db:"role" gorm:"column:role"`
	Active       bool      `db:"active" gorm:"column:active"`
	CreatedAt    time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime:false"`
}

func (UserRow) TableName() string { return "usuarios" }

type PatientRow struct {
	ID         uuid.UUID       `db:"id" gorm:"column:id;primaryKey;type:text"`
	Name       string          `db:"nombre" gorm:"column:nombre"`
	Surname    string          `db:"apellidos" gorm:"column:apellidos"`
	NationalID *string         `db:"dni" gorm:"column:dni"`
	Phone      *string         `db:"telefono" gorm:"column:telefono"`
	Email      *string         `db:"email" gorm:"column:email"`
	Address    *string         `db:"direccion" gorm:"column:direccion"`
	BirthDate  *datatypes.Date `db:"fecha_nacimiento" gorm:"column:fecha_nacimiento"`
	Consent    bool            `db:"consentimiento" gorm:"column:consentimiento"`
	Notes      *string         `db:"notas" gorm:"column:notas"`
	CreatedAt  time.Time       `db:"created_at" gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt  time.Time       `db:"updated_at" gorm:"column:updated_at;autoUpdateTime:false"`
}

func (PatientRow) TableName() string { return "pacientes" }

type SettingRow struct {
	Key       string    `db:"clave" gorm:"column:clave;primaryKey"`
	Value     string    `db:"valor" gorm:"column:valor"`
	UpdatedAt time.Time `db:"updated_at" gorm:"column:updated_at;autoUpdateTime:false"`
}

func (SettingRow) TableName() string { return "configuracion" }

type BonoRow struct {
	ID            uuid.UUID       `db:"id" gorm:"column:id;primaryKey;type:text"`
	PatientID     uuid.UUID       `db:"paciente_id" gorm:"column:paciente_id;type:text;index"`
	Name          string          `db:"nombre" gorm:"column:nombre"`
	TotalSessions int             `db:"sesiones_total" gorm:"column:sesiones_total"`
	UsedSessions  int             `db:"sesiones_usadas" gorm:"column:sesiones_usadas"`
	Price         string          `db:"precio" gorm:"column:precio"`
	PurchasedAt   datatypes.Date  `db:"fecha_compra" gorm:"column:fecha_compra"`
	ExpiresAt     *datatypes.Date `db:"fecha_caducidad" gorm:"column:fecha_caducidad"`
	Notes         *string         `db:"notas" gorm:"column:notas"`
	CreatedAt     time.Time       `db:"created_at" gorm:"column:created_at;autoCreateTime:false"`
}

func (BonoRow) TableName() string { return "bonos" }

type AppointmentRow struct {
	ID            uuid.UUID       `db:"id" gorm:"column:id;primaryKey;type:text"`
	PatientID     uuid.UUID       `db:"paciente_id" gorm:"column:paciente_id;type:text;index"`
	Date          datatypes.Date  `db:"fecha" gorm:"column:fecha;index"`
	StartTime     string          `db:"hora_inicio" gorm:"column:hora_inicio"`
	EndTime       string          `db:"hora_fin" gorm:"column:hora_fin"`
	Reason        string          `db:"motivo" gorm:"column:motivo"`
	Status        string          `db:"estado" gorm:"column:estado"`
	Notes         *string         `db:"notas" gorm:"column:notas"`
	Price         string          `db:"precio" gorm:"column:precio"`
	Paid          bool            `db:"pagado" gorm:"column:pagado"`
	PaymentDate   *datatypes.Date `db:"fecha_pago" gorm:"column:fecha_pago"`
	PaymentMethod *string         `db:"metodo_pago" gorm:"column:metodo_pago"`
	ServiceID     *uuid.UUID      `db:"servicio_id" gorm:"column:servicio_id;type:text"`
	Doctor        *string         `db:"doctor" gorm:"column:doctor"`
	Room          *string         `db:"sala" gorm:"column:sala"`
	BonoID        *uuid.UUID      `db:"bono_id" gorm:"column:bono_id;type:text"`
	CreatedAt     time.Time       `db:"created_at" gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt     time.Time       `db:"updated_at" gorm:"column:updated_at;autoUpdateTime:false"`
}

func (AppointmentRow) TableName() string { return "citas" }

type HistoryRow struct {
	ID            uuid.UUID       `db:"id" gorm:"column:id;primaryKey;type:text"`
	AppointmentID uuid.UUID       `db:"cita_id" gorm:"column:cita_id;type:text;index"`
	Action        string          `db:"accion" gorm:"column:accion"`
	Description   string          `db:"descripcion" gorm:"column:descripcion"`
	OldDate       *datatypes.Date `db:"fecha_old" gorm:"column:fecha_old"`
	OldStart      *string         `db:"inicio_old" gorm:"column:inicio_old"`
	OldEnd        *string         `db:"fin_old" gorm:"column:fin_old"`
	NewDate       *datatypes.Date `db:"fecha_new" gorm:"column:fecha_new"`
	NewStart      *string         `db:"inicio_new" gorm:"column:inicio_new"`
	NewEnd        *string         `db:"fin_new" gorm:"column:fin_new"`
	Actor         *string         `db:"actor" gorm:"column:actor"`
	CreatedAt     time.Time       `db:"created_at" gorm:"column:created_at;autoCreateTime:false"`
}

func (HistoryRow) TableName() string { return "citas_historial" }

type NoteRow struct {
	ID            uuid.UUID `db:"id" gorm:"column:id;primaryKey;type:text"`
	AppointmentID uuid.UUID `db:"cita_id" gorm:"column:cita_id;type:text;index"`
	Content       string    `db:"contenido" gorm:"column:contenido"`
	Author        *string   `db:"autor" gorm:"column:autor"`
	CreatedAt     time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt     time.Time `db:"updated_at" gorm:"column:updated_at;autoUpdateTime:false"`
}

func (NoteRow) TableName() string { return "notas_sesion" }

// Snapshot is the full contents of the clinic database at one point in time.
type Snapshot struct {
	Users        []UserRow
	Patients     []PatientRow
	Settings     []SettingRow
	Bonos        []BonoRow
	Appointments []AppointmentRow
	History      []HistoryRow
	Notes        []NoteRow
}

// Counts returns the number of rows per table.
func (s *Snapshot) Counts() map[string]int {
	return map[string]int{
		"usuarios":        len(s.Users),
		"pacientes":       len(s.Patients),
		"configuracion":   len(s.Settings),
		"bonos":           len(s.Bonos),
		"citas":           len(s.Appointments),
		"citas_historial": len(s.History),
		"notas_sesion":    len(s.Notes),
	}
}

// Manifest is stored as the single row of backup_manifest in every archive.
type Manifest struct {
	ID            uint                                `gorm:"primaryKey" json:"-"`
	FormatVersion int                                 `json:"format_version"`
	SchemaVersion int                                 `json:"schema_version"`
	CreatedAt     time.Time                           `gorm:"autoCreateTime:false" json:"created_at"`
	Counts        datatypes.JSONType[map[string]int] `json:"counts"`
}

func (Manifest) TableName() string { return "backup_manifest" }

var archiveModels = []any{
	&Manifest{}, &UserRow{}, &PatientRow{}, &SettingRow{},
	&BonoRow{}, &AppointmentRow{}, &HistoryRow{}, &NoteRow{},
}

func openArchive(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return gdb, nil
}

func closeArchive(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func insertRows[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, batchSize).Error
}

// WriteArchive writes snap to a new SQLite file at path.
func WriteArchive(path string, snap *Snapshot, m Manifest) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("archive %s already exists", path)
	}
	gdb, err := openArchive(path)
	if err != nil {
		return err
	}
	defer closeArchive(gdb)

	m.ID = 1
	m.FormatVersion = FormatVersion
	m.Counts = datatypes.NewJSONType(snap.Counts())

	return gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(archiveModels...); err != nil {
			return fmt.Errorf("create archive schema: %w", err)
		}
		steps := []func() error{
			func() error { return insertRows(tx, snap.Users) },
			func() error { return insertRows(tx, snap.Patients) },
			func() error { return insertRows(tx, snap.Settings) },
			func() error { return insertRows(tx, snap.Bonos) },
			func() error { return insertRows(tx, snap.Appointments) },
			func() error { return insertRows(tx, snap.History) },
			func() error { return insertRows(tx, snap.Notes) },
			func() error { return tx.Create(&m).Error },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
		}
		return nil
	})
}

// ReadArchive loads a snapshot written by WriteArchive.
func ReadArchive(path string) (*Snapshot, *Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	gdb, err := openArchive("file:" + path + "?mode=ro")
	if err != nil {
		return nil, nil, err
	}
	defer closeArchive(gdb)

	var m Manifest
	if err := gdb.First(&m).Error; err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if m.FormatVersion != FormatVersion {
		return nil, nil, fmt.Errorf("%w: format version %d", ErrInvalidArchive, m.FormatVersion)
	}

	snap := &Snapshot{}
	reads := []struct {
		dest  any
		order string
	}{
		{&snap.Users, "username"},
		{&snap.Patients, "created_at, id"},
		{&snap.Settings, "clave"},
		{&snap.Bonos, "created_at, id"},
		{&snap.Appointments, "fecha, hora_inicio, id"},
		{&snap.History, "created_at, id"},
		{&snap.Notes, "created_at, id"},
	}
	for _, r := range reads {
		if err := gdb.Order(r.order).Find(r.dest).Error; err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
	}
	return snap, &m, nil
}
