// Пакет service — бизнес-логика Portal API.
// users.go — реестр пользователей: upsert без затирания роли, поиск роли.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/domain/rbac"
	"github.com/Pullock4981/diu-transport-client/internal/repository"
)

// UserService — сервис реестра пользователей.
type UserService struct {
	repo        repository.UserRepository
	cache       *RoleCache
	adminEmails []string
	logger      *slog.Logger
}

// NewUserService создаёт сервис реестра пользователей.
// adminEmails — адреса, получающие роль admin при первой записи,
// если владелец подтвердил email.
func NewUserService(
	repo repository.UserRepository,
	cache *RoleCache,
	adminEmails []string,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		repo:        repo,
		cache:       cache,
		adminEmails: adminEmails,
		logger:      logger.With(slog.String("component", "user_service")),
	}
}

// Upsert создаёт или обновляет запись пользователя.
// Обычный пользователь может записать только свой email, поле role
// игнорируется. Администратор может указать роль явно.
// Возвращает запись и признак создания.
func (s *UserService) Upsert(ctx context.Context, caller Caller, p model.UserProfile) (*model.User, bool, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, false, validationError("некорректный email %q", p.Email)
	}
	if !caller.IsAdmin() && !caller.Owns(email) {
		return nil, false, fmt.Errorf("%w: запись чужого профиля %s", ErrForbidden, email)
	}

	var explicitRole string
	if p.Role != nil {
		if caller.IsAdmin() {
			if !rbac.IsValidRole(*p.Role) {
				return nil, false, ErrInvalidRole
			}
			explicitRole = *p.Role
		} else {
			s.logger.Warn("Поле role от не-администратора проигнорировано",
				slog.String("caller", caller.Email),
				slog.String("email", email),
			)
		}
	}

	u := &model.User{
		Email:    email,
		Name:     strings.TrimSpace(p.Name),
		PhotoURL: strings.TrimSpace(p.PhotoURL),
		Role:     s.initialRole(email, caller.Owns(email) && caller.EmailVerified),
	}
	if explicitRole != "" {
		u.Role = explicitRole
	}

	created, err := s.repo.Upsert(ctx, u)
	if err != nil {
		return nil, false, fmt.Errorf("upsert пользователя: %w", err)
	}

	// Существующая запись сохраняет роль; явная роль администратора
	// применяется отдельным UPDATE.
	if explicitRole != "" && u.Role != explicitRole {
		if err := s.repo.SetRole(ctx, email, explicitRole); err != nil {
			return nil, false, fmt.Errorf("смена роли: %w", err)
		}
		u.Role = explicitRole
	}

	s.cache.Invalidate(email)

	if created {
		s.logger.Info("Пользователь зарегистрирован в реестре",
			slog.String("email", email),
			slog.String("role", u.Role),
		)
	}
	return u, created, nil
}

// Get возвращает пользователя. Доступно владельцу и администратору.
func (s *UserService) Get(ctx context.Context, caller Caller, email string) (*model.User, error) {
	if !caller.IsAdmin() && !caller.Owns(email) {
		return nil, fmt.Errorf("%w: чужой профиль %s", ErrForbidden, email)
	}
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	return u, nil
}

// List возвращает реестр пользователей (только администратор).
func (s *UserService) List(ctx context.Context, caller Caller) ([]*model.User, error) {
	if err := caller.require(rbac.ActionListUsers); err != nil {
		return nil, err
	}
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("список пользователей: %w", err)
	}
	return users, nil
}

// SetRole назначает роль (только администратор).
func (s *UserService) SetRole(ctx context.Context, caller Caller, email, role string) error {
	if err := caller.require(rbac.ActionAssignRole); err != nil {
		return err
	}
	if !rbac.IsValidRole(role) {
		return ErrInvalidRole
	}
	if err := s.repo.SetRole(ctx, email, role); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("смена роли: %w", err)
	}
	s.cache.Invalidate(email)

	s.logger.Info("Роль пользователя изменена",
		slog.String("email", email),
		slog.String("role", role),
		slog.String("by", caller.Email),
	)
	return nil
}

// RoleOf возвращает авторитетную роль по email (через кэш).
// Пользователь, которого ещё нет в реестре, получает роль по умолчанию
// без записи в кэш: admin из bootstrap-списка только при emailVerified.
func (s *UserService) RoleOf(ctx context.Context, email string, emailVerified bool) (string, error) {
	if role, ok := s.cache.Get(email); ok {
		return role, nil
	}
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.initialRole(email, emailVerified), nil
		}
		return "", fmt.Errorf("получение роли: %w", err)
	}
	role := rbac.Normalize(u.Role)
	s.cache.Set(email, role)
	return role, nil
}

// initialRole — роль новой записи. Bootstrap-список применяется только
// к подтверждённому адресу.
func (s *UserService) initialRole(email string, verified bool) string {
	if !verified {
		return rbac.RoleUser
	}
	return rbac.InitialRole(email, s.adminEmails)
}
