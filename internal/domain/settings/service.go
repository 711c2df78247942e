package settings

import (
	"context"
	"errors"
	"fmt"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func checkKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func (s *Service) List(ctx context.Context) ([]*Entry, error) { return s.repo.List(ctx) }

func (s *Service) Get(ctx context.Context, key string) (*Entry, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, key)
}

// Value returns the stored value, or def when the key is unset.
func (s *Service) Value(ctx context.Context, key, def string) (string, error) {
	e, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

func (s *Service) Set(ctx context.Context, key, value string) (*Entry, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	e := &Entry{Key: key, Value: value}
	if err := s.repo.Upsert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.repo.Delete(ctx, key)
}
