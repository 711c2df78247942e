package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/pagination"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	// Search matches q against names, national id, phone and email. An
	// empty q lists everything.
	Search(ctx context.Context, q string, sort pagination.Sort, limit, offset int) ([]*Patient, int, error)
}
