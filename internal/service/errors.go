package service

import (
	"errors"
	"fmt"
)

// Ошибки сервисов. Хендлеры маппят их в HTTP-статусы через errors.Is.
var (
	ErrValidation = errors.New("ошибка валидации")
	ErrForbidden  = errors.New("недостаточно прав")
	ErrNotFound   = errors.New("запись не найдена")
	ErrConflict   = errors.New("запись уже существует")

	// ErrInvalidRole — частный случай ErrValidation.
	ErrInvalidRole = fmt.Errorf("%w: роль должна быть user или admin", ErrValidation)

	// Регистрация через Keycloak.
	ErrAccountExists  = errors.New("учётная запись с таким email уже существует")
	ErrIDPUnavailable = errors.New("Keycloak недоступен")
)

// validationError оборачивает сообщение в ErrValidation.
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
