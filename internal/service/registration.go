// registration.go — регистрация учётной записи по email/паролю.
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
	"github.com/Pullock4981/diu-transport-client/internal/keycloak"
	"github.com/Pullock4981/diu-transport-client/internal/repository"
)

// minPasswordLength — минимальная длина пароля при регистрации.
const minPasswordLength = 6

// AccountCreator создаёт и удаляет учётные записи в Identity Provider.
// Реализуется *keycloak.Client.
type AccountCreator interface {
	CreateUser(ctx context.Context, name, email, password string) (string, error)
	DeleteUser(ctx context.Context, id string) error
}

// RegistrationInput — данные формы регистрации.
type RegistrationInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"` //nolint:gosec // пароль передаётся только в IdP
	PhotoURL string `json:"photoURL"`
}

// RegistrationService — создание учётной записи в IdP и записи в реестре.
type RegistrationService struct {
	idp    AccountCreator
	users  repository.UserRepository
	logger *slog.Logger
}

// NewRegistrationService создаёт сервис регистрации.
func NewRegistrationService(
	idp AccountCreator,
	users repository.UserRepository,
	logger *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		idp:    idp,
		users:  users,
		logger: logger.With(slog.String("component", "registration_service")),
	}
}

// Register создаёт пользователя в Keycloak и запись в реестре с ролью
// user. Bootstrap-список здесь не применяется: адрес ещё не подтверждён.
// Существующая запись реестра роль не теряет. Если реестр недоступен,
// созданная учётная запись удаляется из Keycloak.
func (s *RegistrationService) Register(ctx context.Context, in RegistrationInput) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	name := strings.TrimSpace(in.Name)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, validationError("некорректный email %q", in.Email)
	}
	if len(in.Password) < minPasswordLength {
		return nil, validationError("пароль должен содержать не менее %d символов", minPasswordLength)
	}

	kcID, err := s.idp.CreateUser(ctx, name, email, in.Password)
	if err != nil {
		switch {
		case errors.Is(err, keycloak.ErrUserExists):
			return nil, ErrAccountExists
		case errors.Is(err, keycloak.ErrInvalidUser):
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrIDPUnavailable, err)
	}

	u := &model.User{
		Email:    email,
		Name:     name,
		PhotoURL: strings.TrimSpace(in.PhotoURL),
		Role:     rbac.RoleUser,
	}
	if _, err := s.users.Upsert(ctx, u); err != nil {
		if derr := s.idp.DeleteUser(context.WithoutCancel(ctx), kcID); derr != nil {
			s.logger.Error("Учётная запись осталась в Keycloak без записи в реестре",
				slog.String("email", email),
				slog.String("keycloak_id", kcID),
				slog.String("error", derr.Error()),
			)
		}
		return nil, fmt.Errorf("запись в реестр: %w", err)
	}

	s.logger.Info("Учётная запись зарегистрирована",
		slog.String("email", email),
		slog.String("keycloak_id", kcID),
		slog.String("role", u.Role),
	)
	return u, nil
}
