package service

import (
	"context"
	"fmt"

	"ticketing/internal/model"
)

func (s *Service) ListUsers(ctx context.Context, actor model.Actor) ([]model.User, error) {
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) ChangeRole(ctx context.Context, actor model.Actor, userID string, role model.Role) (*model.User, error) {
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if userID == actor.UserID {
		return nil, fmt.Errorf("%w: cannot change your own role", ErrValidation)
	}

	if err := s.repo.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("user_id", userID).
		Str("role", string(role)).
		Str("by", actor.UserID).
		Msg("user role changed")

	return s.repo.GetUserByID(ctx, userID)
}

func (s *Service) DeleteUser(ctx context.Context, actor model.Actor, userID string) error {
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return err
	}
	if userID == actor.UserID {
		return fmt.Errorf("%w: cannot delete yourself", ErrValidation)
	}
	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Str("by", actor.UserID).Msg("user deleted")
	return nil
}
