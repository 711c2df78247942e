package settings

import "context"

type Repository interface {
	List(ctx context.Context) ([]*Entry, error)
	Get(ctx context.Context, key string) (*Entry, error)
	Upsert(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, key string) error
}
