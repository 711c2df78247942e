package bono

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/db"
)

var (
	ErrNotFound  = errors.New("bono not found")
	ErrInvalid   = errors.New("invalid bono")
	ErrExhausted = errors.New("bono has no sessions left")
	ErrExpired   = errors.New("bono has expired")
	ErrNotOwner  = errors.New("bono belongs to another patient")
)

type PatientDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	repo     Repository
	patients PatientDirectory
	tx       db.TxManager
	now      func() time.Time
}

func NewService(repo Repository, patients PatientDirectory, tx db.TxManager) *Service {
	return &Service{repo: repo, patients: patients, tx: tx, now: time.Now}
}

func (s *Service) Create(ctx context.Context, b *Bono) error {
	b.Name = strings.TrimSpace(b.Name)
	switch {
	case b.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient_id is required", ErrInvalid)
	case b.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case b.TotalSessions <= 0:
		return fmt.Errorf("%w: total_sessions must be positive", ErrInvalid)
	case b.UsedSessions < 0 || b.UsedSessions > b.TotalSessions:
		return fmt.Errorf("%w: used_sessions must be between 0 and total_sessions", ErrInvalid)
	case b.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalid)
	case b.ExpiresAt.Valid && b.PurchasedAt.Valid && b.ExpiresAt.Time.Before(b.PurchasedAt.Time):
		return fmt.Errorf("%w: expires_at is before purchased_at", ErrInvalid)
	}
	ok, err := s.patients.Exists(ctx, b.PatientID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: patient does not exist", ErrInvalid)
	}
	return s.repo.Create(ctx, b)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Bono, error) {
	return s.repo.GetByID(ctx, id)
}

// CheckOwner returns ErrNotFound or ErrNotOwner unless the package exists
// and was bought by patientID.
func (s *Service) CheckOwner(ctx context.Context, id, patientID uuid.UUID) error {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if b.PatientID != patientID {
		return ErrNotOwner
	}
	return nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bono, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Consume uses one session. Joins the caller's transaction when present.
func (s *Service) Consume(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Expired(s.now()) {
			return ErrExpired
		}
		if b.Remaining() <= 0 {
			return ErrExhausted
		}
		return s.repo.SetUsed(ctx, id, b.UsedSessions+1)
	})
}

// Release returns one session. Releasing an unused package is a no-op.
func (s *Service) Release(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.UsedSessions == 0 {
			return nil
		}
		return s.repo.SetUsed(ctx, id, b.UsedSessions-1)
	})
}

// Ledger adapts the service to scheduling.BonoLedger, reporting unusable
// packages as validation errors on bono_id.
type Ledger struct {
	svc *Service
}

func NewLedger(svc *Service) *Ledger { return &Ledger{svc: svc} }

func (l *Ledger) Check(ctx context.Context, id, patientID uuid.UUID) error {
	return ledgerErr(l.svc.CheckOwner(ctx, id, patientID))
}

func (l *Ledger) Consume(ctx context.Context, id uuid.UUID) error {
	return ledgerErr(l.svc.Consume(ctx, id))
}

func (l *Ledger) Release(ctx context.Context, id uuid.UUID) error {
	return ledgerErr(l.svc.Release(ctx, id))
}

func ledgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrExhausted), errors.Is(err, ErrExpired):
		return &scheduling.ValidationError{Field: "bono_id", Msg: err.Error()}
	}
	return fmt.Errorf("bono ledger: %w: %w", scheduling.ErrStore, err)
}

var _ scheduling.BonoLedger = (*Ledger)(nil)
