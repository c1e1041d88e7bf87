package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/internal/shared"
)

// PrincipalSource materialises a principal's roles. *rbac.PrincipalLoader satisfies it.
type PrincipalSource interface {
	Load(ctx context.Context, userID int64, email string) (*rbac.Principal, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo       Repository
	sessions   *shared.SessionStore
	principals PrincipalSource
	logger     *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *shared.SessionStore, principals PrincipalSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sessions: sessions, principals: principals, logger: logger}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive || user.PasswordHash == "" {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password, ip, ua string) (Token, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Token{}, err
	}
	sess, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return Token{}, err
	}
	if err := s.repo.CreateSession(ctx, sess.Token, user.ID, sess.ExpiresAt, ip, ua); err != nil {
		s.logger.Warn("register session", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	return Token{AccessToken: sess.Token, TokenType: "bearer", ExpiresAt: sess.ExpiresAt}, nil
}

// Logout revokes token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	if err := s.repo.DeleteSession(ctx, token); err != nil {
		s.logger.Warn("remove session", slog.Any("error", err))
	}
	return nil
}

// Principal resolves token to a principal carrying its current roles.
// Unknown tokens and missing or inactive users yield ErrUnauthenticated.
func (s *Service) Principal(ctx context.Context, token string) (*rbac.Principal, error) {
	sess, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.FindByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUnauthenticated
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, shared.ErrUnauthenticated
	}
	principal, err := s.principals.Load(ctx, user.ID, user.Email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUnauthenticated
		}
		return nil, err
	}
	return principal, nil
}
