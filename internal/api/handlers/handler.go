// handler.go — обработчики REST API портала.
// Делегируют запросы в сервисный слой и маппят ошибки сервисов в HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/Pullock4981/diu-transport-client/internal/api/errors"
	"github.com/Pullock4981/diu-transport-client/internal/api/middleware"
	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/service"
)

// maxBodyBytes — предельный размер тела запроса.
const maxBodyBytes = 1 << 20

// Users — операции реестра пользователей (service.UserService).
type Users interface {
	Upsert(ctx context.Context, caller service.Caller, p model.UserProfile) (*model.User, bool, error)
	Get(ctx context.Context, caller service.Caller, email string) (*model.User, error)
	List(ctx context.Context, caller service.Caller) ([]*model.User, error)
	SetRole(ctx context.Context, caller service.Caller, email, role string) error
}

// TransportRequests — операции заявок (service.TransportRequestService).
type TransportRequests interface {
	Submit(ctx context.Context, caller service.Caller, in model.TransportRequestInput) (*model.TransportRequest, error)
	List(ctx context.Context, caller service.Caller) ([]*model.TransportRequest, error)
	Get(ctx context.Context, caller service.Caller, id string) (*model.TransportRequest, error)
	Update(ctx context.Context, caller service.Caller, id string, upd model.TransportRequestUpdate) (*model.TransportRequest, error)
	Delete(ctx context.Context, caller service.Caller, id string) error
}

// Notices — операции объявлений (service.NoticeService).
type Notices interface {
	List(ctx context.Context, f model.NoticeFilter) ([]*model.Notice, error)
	Create(ctx context.Context, caller service.Caller, in model.NoticeInput) (*model.Notice, error)
}

// Schedules — операции расписаний (service.ScheduleService).
type Schedules interface {
	List(ctx context.Context, f model.ScheduleFilter) ([]*model.Schedule, error)
	Get(ctx context.Context, id string) (*model.Schedule, error)
	Create(ctx context.Context, caller service.Caller, in model.Schedule) (*model.Schedule, error)
	Update(ctx context.Context, caller service.Caller, id string, in model.Schedule) (*model.Schedule, error)
	Delete(ctx context.Context, caller service.Caller, id string) error
}

// Registration — регистрация по email/паролю (service.RegistrationService).
type Registration interface {
	Register(ctx context.Context, in service.RegistrationInput) (*model.User, error)
}

// APIHandler — обработчики доменных endpoints.
type APIHandler struct {
	users        Users
	requests     TransportRequests
	notices      Notices
	schedules    Schedules
	registration Registration
	logger       *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
func NewAPIHandler(
	users Users,
	requests TransportRequests,
	notices Notices,
	schedules Schedules,
	registration Registration,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		users:        users,
		requests:     requests,
		notices:      notices,
		schedules:    schedules,
		registration: registration,
		logger:       logger.With(slog.String("component", "api_handler")),
	}
}

// resultResponse — ответ мутаций: {success, message?, insertedId?}.
type resultResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	InsertedID string `json:"insertedId,omitempty"`
}

func ok(message string) resultResponse {
	return resultResponse{Success: true, Message: message}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса. false — ответ с ошибкой уже записан.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(target); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return false
	}
	return true
}

// caller возвращает аутентифицированного пользователя. false — 401 уже записан.
func caller(w http.ResponseWriter, r *http.Request) (service.Caller, bool) {
	c, found := middleware.CallerFromContext(r.Context())
	if !found {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return service.Caller{}, false
	}
	return c, true
}

// writeServiceError маппит ошибку сервиса в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Запись не найдена")
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrAccountExists):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrIDPUnavailable):
		h.logger.Error("Keycloak недоступен",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.IDPUnavailable(w, "Сервис учётных записей недоступен")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// nonNil заменяет nil-срез пустым: список всегда сериализуется как [].
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func queryParam(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}
