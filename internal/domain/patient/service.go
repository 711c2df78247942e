package patient

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/pagination"
)

var (
	ErrNotFound            = errors.New("patient not found")
	ErrDuplicateNationalID = errors.New("another patient already has this national id")
	ErrInvalid             = errors.New("invalid patient")
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func validate(p *Patient) error {
	p.normalize()
	if p.FirstName == "" {
		return errors.Join(ErrInvalid, errors.New("first_name is required"))
	}
	if p.Email != nil && !strings.Contains(*p.Email, "@") {
		return errors.Join(ErrInvalid, errors.New("email is not valid"))
	}
	return nil
}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	if err := validate(p); err != nil {
		return err
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	if err := validate(p); err != nil {
		return err
	}
	return s.repo.Update(ctx, p)
}

// Delete removes the patient record only. Appointments keep their
// patient_id and show as an unknown patient.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) Search(ctx context.Context, q string, sort pagination.Sort, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, strings.TrimSpace(q), sort, limit, offset)
}

// Exists lets the scheduling service check patient references.
func (s *Service) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.Exists(ctx, id)
}
