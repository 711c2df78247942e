// Package settings stores process-wide key/value configuration entries
// edited by administrators. Values are read per request, never cached.
package settings

import (
	"errors"
	"regexp"
	"time"
)

var (
	ErrNotFound   = errors.New("setting not found")
	ErrInvalidKey = errors.New("setting keys are 1-128 characters of a-z, 0-9, '.', '_' or '-'")
)

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

// Entry maps to the configuracion table.
type Entry struct {
	Key       string    `db:"clave" json:"key"`
	Value     string    `db:"valor" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
