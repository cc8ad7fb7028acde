// transport_requests.go — заявки на аренду автобуса.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/domain/rbac"
	"github.com/Pullock4981/diu-transport-client/internal/repository"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// TransportRequestService — сервис заявок на автобус.
type TransportRequestService struct {
	repo   repository.TransportRequestRepository
	logger *slog.Logger
}

// NewTransportRequestService создаёт сервис заявок.
func NewTransportRequestService(repo repository.TransportRequestRepository, logger *slog.Logger) *TransportRequestService {
	return &TransportRequestService{
		repo:   repo,
		logger: logger.With(slog.String("component", "transport_request_service")),
	}
}

// Submit создаёт заявку со статусом Pending от имени вызывающего.
func (s *TransportRequestService) Submit(ctx context.Context, caller Caller, in model.TransportRequestInput) (*model.TransportRequest, error) {
	if err := caller.require(rbac.ActionSubmitRequest); err != nil {
		return nil, err
	}
	in = trimInput(in)
	if err := validateRequestInput(in); err != nil {
		return nil, err
	}

	tr := &model.TransportRequest{
		ID:             uuid.New().String(),
		StudentID:      in.StudentID,
		Name:           in.Name,
		Reason:         in.Reason,
		Date:           in.Date,
		Time:           in.Time,
		Destination:    in.Destination,
		Status:         model.StatusPending,
		RequesterEmail: strings.ToLower(caller.Email),
	}
	if err := s.repo.Create(ctx, tr); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("создание заявки: %w", err)
	}

	s.logger.Info("Заявка на автобус создана",
		slog.String("id", tr.ID),
		slog.String("requester", tr.RequesterEmail),
		slog.String("destination", tr.Destination),
	)
	return tr, nil
}

// List возвращает все заявки для администратора и только свои — для остальных.
func (s *TransportRequestService) List(ctx context.Context, caller Caller) ([]*model.TransportRequest, error) {
	var owner *string
	if !caller.IsAdmin() {
		email := strings.ToLower(caller.Email)
		owner = &email
	}
	list, err := s.repo.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("список заявок: %w", err)
	}
	return list, nil
}

// Get возвращает заявку владельцу или администратору.
func (s *TransportRequestService) Get(ctx context.Context, caller Caller, id string) (*model.TransportRequest, error) {
	tr, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !caller.Owns(tr.RequesterEmail) {
		// Чужая заявка неотличима от отсутствующей.
		return nil, ErrNotFound
	}
	return tr, nil
}

// Update применяет частичное обновление: смену статуса или редактирование полей.
func (s *TransportRequestService) Update(ctx context.Context, caller Caller, id string, upd model.TransportRequestUpdate) (*model.TransportRequest, error) {
	if err := caller.require(rbac.ActionReviewRequests); err != nil {
		return nil, err
	}
	if upd.Empty() {
		return nil, validationError("нет полей для обновления")
	}
	if upd.Status != nil && !model.IsValidStatus(*upd.Status) {
		return nil, validationError("недопустимый статус %q: Pending, Approved, Rejected", *upd.Status)
	}

	tr, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	prevStatus := tr.Status
	upd.Apply(tr)

	if err := validateRequestInput(trimInput(model.TransportRequestInput{
		StudentID: tr.StudentID, Name: tr.Name, Reason: tr.Reason,
		Date: tr.Date, Time: tr.Time, Destination: tr.Destination,
	})); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, tr); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("обновление заявки: %w", err)
	}

	if prevStatus != tr.Status {
		s.logger.Info("Статус заявки изменён",
			slog.String("id", id),
			slog.String("from", prevStatus),
			slog.String("to", tr.Status),
			slog.String("by", caller.Email),
		)
	}
	return tr, nil
}

// Delete удаляет заявку (только администратор).
func (s *TransportRequestService) Delete(ctx context.Context, caller Caller, id string) error {
	if err := caller.require(rbac.ActionReviewRequests); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление заявки: %w", err)
	}
	s.logger.Info("Заявка удалена", slog.String("id", id), slog.String("by", caller.Email))
	return nil
}

func (s *TransportRequestService) get(ctx context.Context, id string) (*model.TransportRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	tr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение заявки: %w", err)
	}
	return tr, nil
}

func trimInput(in model.TransportRequestInput) model.TransportRequestInput {
	return model.TransportRequestInput{
		StudentID:   strings.TrimSpace(in.StudentID),
		Name:        strings.TrimSpace(in.Name),
		Reason:      strings.TrimSpace(in.Reason),
		Date:        strings.TrimSpace(in.Date),
		Time:        strings.TrimSpace(in.Time),
		Destination: strings.TrimSpace(in.Destination),
	}
}

// validateRequestInput — все поля формы обязательны.
func validateRequestInput(in model.TransportRequestInput) error {
	required := []struct{ name, value string }{
		{"studentId", in.StudentID},
		{"name", in.Name},
		{"reason", in.Reason},
		{"date", in.Date},
		{"time", in.Time},
		{"destination", in.Destination},
	}
	for _, f := range required {
		if f.value == "" {
			return validationError("поле %s обязательно", f.name)
		}
	}
	if _, err := time.Parse(dateLayout, in.Date); err != nil {
		return validationError("date %q: ожидается формат YYYY-MM-DD", in.Date)
	}
	if _, err := time.Parse(timeLayout, in.Time); err != nil {
		return validationError("time %q: ожидается формат HH:MM", in.Time)
	}
	return nil
}
