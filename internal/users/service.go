package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/edu-platform/edu-platform/internal/shared"
)

const minPasswordLength = 8

// Auditor records user management actions. *shared.AuditLogger satisfies it.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo       RepositoryPort
	bcryptCost int
	auditor    Auditor
	logger     *slog.Logger
}

// NewService builds Service instance. A bcryptCost outside bcrypt's range falls back to bcrypt.DefaultCost.
func NewService(repo RepositoryPort, bcryptCost int, auditor Auditor, logger *slog.Logger) *Service {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, bcryptCost: bcryptCost, auditor: auditor, logger: logger}
}

// List returns a window of users matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]User, error) {
	filter.Window = shared.NewWindow(filter.Skip, filter.Limit)
	return s.repo.List(ctx, filter)
}

// Count returns the number of users matching search.
func (s *Service) Count(ctx context.Context, search string) (int, error) {
	return s.repo.Count(ctx, search)
}

// Get fetches a user by id.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// GetByEmail fetches a user by email address.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.GetByEmail(ctx, normalizeEmail(email))
}

// Create registers a user with a hashed password.
func (s *Service) Create(ctx context.Context, actorID int64, in NewUser) (User, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return User{}, fmt.Errorf("%w: email required", shared.ErrValidation)
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return User{}, err
	}
	user, err := s.repo.Insert(ctx, userRecord{
		Email:        &email,
		Username:     trimmed(in.Username),
		PasswordHash: &hash,
		IsActive:     &in.IsActive,
	})
	if err != nil {
		return User{}, err
	}
	s.audit(ctx, actorID, "users.create", user.ID, map[string]any{"email": user.Email})
	return user, nil
}

// Update applies patch to the user.
func (s *Service) Update(ctx context.Context, actorID, id int64, patch UserPatch) (User, error) {
	rec := userRecord{Username: trimmed(patch.Username)}
	if patch.Email != nil {
		email := normalizeEmail(*patch.Email)
		if email == "" {
			return User{}, fmt.Errorf("%w: email required", shared.ErrValidation)
		}
		rec.Email = &email
	}
	if patch.Password != nil {
		hash, err := s.hash(*patch.Password)
		if err != nil {
			return User{}, err
		}
		rec.PasswordHash = &hash
	}
	user, err := s.repo.Update(ctx, id, rec)
	if err != nil {
		return User{}, err
	}
	s.audit(ctx, actorID, "users.update", id, map[string]any{"password_changed": patch.Password != nil})
	return user, nil
}

// Activate marks the user active.
func (s *Service) Activate(ctx context.Context, actorID, id int64) (User, error) {
	return s.setActive(ctx, actorID, id, true)
}

// Deactivate marks the user inactive. Principals cannot deactivate themselves.
func (s *Service) Deactivate(ctx context.Context, actorID, id int64) (User, error) {
	if actorID == id {
		return User{}, shared.ErrSelfAction
	}
	return s.setActive(ctx, actorID, id, false)
}

func (s *Service) setActive(ctx context.Context, actorID, id int64, active bool) (User, error) {
	user, err := s.repo.Update(ctx, id, userRecord{IsActive: &active})
	if err != nil {
		return User{}, err
	}
	action := "users.deactivate"
	if active {
		action = "users.activate"
	}
	s.audit(ctx, actorID, action, id, nil)
	return user, nil
}

// Delete removes the user. Principals cannot delete themselves.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return shared.ErrSelfAction
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, actorID, "users.delete", id, nil)
	return nil
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", shared.ErrValidation, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return string(hash), nil
}

func (s *Service) audit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("users audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
