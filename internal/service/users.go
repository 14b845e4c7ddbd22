package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/escrowdesk/internal/authz"
	"github.com/mmeshcher/escrowdesk/internal/model"
)

// EnsureUser регистрирует пользователя при первом входе и возвращает его запись.
func (s *Service) EnsureUser(ctx context.Context, id int64, name string) (*model.User, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", ErrInvalidInput)
	}
	u, err := s.repo.EnsureUser(ctx, id, strings.TrimSpace(name))
	if err != nil {
		return nil, mapRepoErr("ensure user", err)
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, mapRepoErr("get user", err)
	}
	return u, nil
}

// Actor возвращает участника операции с ролью, сохранённой в хранилище.
func (s *Service) Actor(ctx context.Context, userID int64) (model.Actor, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return model.Actor{}, err
	}
	return u.Actor(), nil
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context, actor model.Actor) ([]model.User, error) {
	if err := authorize(actor, authz.ActionListUsers); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, mapRepoErr("list users", err)
	}
	return users, nil
}

// SetUserRole меняет роль пользователя. Роль owner так назначить нельзя.
func (s *Service) SetUserRole(ctx context.Context, actor model.Actor, userID int64, role model.Role) (*model.User, error) {
	if err := authorize(actor, authz.ActionSetUserRole); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if role == model.RoleOwner {
		return nil, fmt.Errorf("%w: ownership can only be claimed", ErrConflict)
	}
	if userID == actor.ID {
		return nil, fmt.Errorf("%w: owner cannot change own role", ErrConflict)
	}

	u, err := s.repo.SetUserRole(ctx, userID, role)
	if err != nil {
		return nil, mapRepoErr("set user role", err)
	}

	s.logger.Info("user role changed",
		zap.Int64("user_id", userID),
		zap.String("role", string(role)),
		zap.Int64("actor_id", actor.ID),
	)
	return u, nil
}

// ClaimOwnership делает actor владельцем платформы, если владельца ещё нет.
func (s *Service) ClaimOwnership(ctx context.Context, actor model.Actor) (*model.User, error) {
	if err := authorize(actor, authz.ActionClaimOwnership); err != nil {
		return nil, err
	}
	u, err := s.repo.ClaimOwnership(ctx, actor.ID)
	if err != nil {
		return nil, mapRepoErr("claim ownership", err)
	}

	s.logger.Info("platform ownership claimed", zap.Int64("user_id", actor.ID))
	return u, nil
}
