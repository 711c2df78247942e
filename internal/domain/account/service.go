package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalid            = errors.New("invalid user")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// dummyHash is compared against when the username is unknown so both
// failure paths cost one bcrypt comparison.
var dummyHash = sync.OnceValue(func() string {
	h, _ := auth.HashPassword("not-a-real-password")
	return h
})

// Session is what a successful login returns.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

type Service struct {
	repo        Repository
	issuer      *auth.TokenIssuer
	revocations auth.RevocationStore
	logger      zerolog.Logger
}

func NewService(repo Repository, issuer *auth.TokenIssuer, revocations auth.RevocationStore, logger zerolog.Logger) *Service {
	return &Service{repo: repo, issuer: issuer, revocations: revocations, logger: logger}
}

func (s *Service) CreateUser(ctx context.Context, username, password, role string) (*User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || len(username) > 64 {
		return nil, fmt.Errorf("%w: username must be 1-64 characters", ErrInvalid)
	}
	if !auth.ValidRole(role) {
		return nil, fmt.Errorf("%w: role must be %s or %s", ErrInvalid, auth.RoleAdmin, auth.RoleStaff)
	}
	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err != nil {
		return nil, err
	}
	u := &User{Username: username, PasswordHash: hash, Role: role, Active: true}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", u.Username).Str("role", u.Role).Msg("user created")
	return u, nil
}

func (s *Service) List(ctx context.Context) ([]*User, error) {
	return s.repo.List(ctx)
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.repo.GetByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if errors.Is(err, ErrNotFound) {
		auth.CheckPassword(dummyHash(), password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) || !u.Active {
		s.logger.Warn().Str("username", u.Username).Msg("failed login")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.issuer.Issue(u.ID.String(), u.Username, u.Role)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

// Logout revokes the caller's token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context) error {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok || p.TokenID == "" {
		return nil
	}
	if s.revocations == nil {
		return nil
	}
	return s.revocations.Revoke(ctx, p.TokenID, p.ExpiresAt)
}

// Me returns the calling user.
func (s *Service) Me(ctx context.Context) (*User, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return nil, ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}
