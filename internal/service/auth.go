package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticketing/internal/auth"
	"ticketing/internal/model"
	"ticketing/internal/repo"
)

type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrValidation)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repo.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(user, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// EnsureAdmin creates the bootstrap administrator, or promotes the account if
// the email is already registered.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if user.Role == model.RoleAdmin {
			return nil
		}
		if err := s.repo.UpdateUserRole(ctx, user.ID, model.RoleAdmin); err != nil {
			return err
		}
		s.log.Info().Str("user_id", user.ID).Msg("bootstrap admin promoted")
		return nil
	case !errors.Is(err, repo.ErrUserNotFound):
		return err
	}

	user, err = s.Register(ctx, name, email, password)
	if err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	if err := s.repo.UpdateUserRole(ctx, user.ID, model.RoleAdmin); err != nil {
		return err
	}
	s.log.Info().Str("user_id", user.ID).Msg("bootstrap admin created")
	return nil
}
