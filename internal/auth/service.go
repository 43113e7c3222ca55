package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// ErrInvalidCredentials is returned for any failed login attempt.
var ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", shared.ErrUnauthorized)

// Tokens issues and revokes bearer tokens.
type Tokens interface {
	Issue(ctx context.Context, actorID, locale string) (*shared.ActorToken, error)
	Revoke(ctx context.Context, raw string) error
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens Tokens
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens Tokens) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// Authenticate validates actor credentials.
func (s *Service) Authenticate(ctx context.Context, actorID, password string) (*Credential, error) {
	cred, err := s.repo.FindCredential(ctx, actorID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !cred.IsActive || cred.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return cred, nil
}

// Login authenticates the actor and issues a token. An explicit locale
// overrides the one stored for the actor.
func (s *Service) Login(ctx context.Context, actorID, password, locale string) (*shared.ActorToken, error) {
	cred, err := s.Authenticate(ctx, actorID, password)
	if err != nil {
		return nil, err
	}
	if locale == "" {
		locale = cred.Locale
	}
	return s.tokens.Issue(ctx, cred.ActorID, locale)
}

// Logout revokes a token.
func (s *Service) Logout(ctx context.Context, raw string) error {
	return s.tokens.Revoke(ctx, raw)
}

// SetPassword hashes and stores a password for the actor.
func (s *Service) SetPassword(ctx context.Context, actorID, password string) error {
	if len(password) < 8 {
		return shared.NewValidationError("password", "failed on min=8")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, actorID, string(hash))
}
