// notices.go — доска объявлений.
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

// NoticeService — сервис объявлений.
type NoticeService struct {
	repo   repository.NoticeRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewNoticeService создаёт сервис объявлений.
func NewNoticeService(repo repository.NoticeRepository, logger *slog.Logger) *NoticeService {
	return &NoticeService{
		repo:   repo,
		now:    time.Now,
		logger: logger.With(slog.String("component", "notice_service")),
	}
}

// List возвращает объявления по фильтру.
func (s *NoticeService) List(ctx context.Context, f model.NoticeFilter) ([]*model.Notice, error) {
	f.Search = strings.TrimSpace(f.Search)
	if f.Category != "" && f.Category != model.CategoryAll && !model.IsValidCategory(f.Category) {
		return nil, validationError("неизвестная категория %q", f.Category)
	}
	list, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("список объявлений: %w", err)
	}
	return list, nil
}

// Create публикует объявление (только администратор).
// Пустые date/time/author заполняются текущим временем и email автора.
func (s *NoticeService) Create(ctx context.Context, caller Caller, in model.NoticeInput) (*model.Notice, error) {
	if err := caller.require(rbac.ActionManageNotices); err != nil {
		return nil, err
	}

	n := &model.Notice{
		ID:       uuid.New().String(),
		Title:    strings.TrimSpace(in.Title),
		Content:  strings.TrimSpace(in.Content),
		Date:     strings.TrimSpace(in.Date),
		Time:     strings.TrimSpace(in.Time),
		Author:   strings.TrimSpace(in.Author),
		Priority: strings.ToLower(strings.TrimSpace(in.Priority)),
		Category: strings.ToLower(strings.TrimSpace(in.Category)),
	}
	if n.Title == "" || n.Content == "" {
		return nil, validationError("title и content обязательны")
	}
	if n.Priority == "" {
		n.Priority = model.PriorityNormal
	}
	if !model.IsValidPriority(n.Priority) {
		return nil, validationError("недопустимый приоритет %q: normal, medium, high", n.Priority)
	}
	if n.Category == "" {
		n.Category = "general"
	}
	if !model.IsValidCategory(n.Category) {
		return nil, validationError("неизвестная категория %q", n.Category)
	}

	now := s.now()
	if n.Date == "" {
		n.Date = now.Format(dateLayout)
	}
	if n.Time == "" {
		n.Time = now.Format(timeLayout)
	}
	if n.Author == "" {
		n.Author = caller.Name
		if n.Author == "" {
			n.Author = caller.Email
		}
	}

	if err := s.repo.Create(ctx, n); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("создание объявления: %w", err)
	}

	s.logger.Info("Объявление опубликовано",
		slog.String("id", n.ID),
		slog.String("category", n.Category),
		slog.String("priority", n.Priority),
	)
	return n, nil
}
