// schedules.go — расписания маршрутов и начальное заполнение из YAML.
package service

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
	"github.com/Pullock4981/diu-transport-client/internal/domain/rbac"
	"github.com/Pullock4981/diu-transport-client/internal/repository"
)

//go:embed seed/schedules.yaml
var defaultSchedulesYAML []byte

// TxRunner — выполнение функции в транзакции (repository.TxRunner).
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// ScheduleService — сервис расписаний.
type ScheduleService struct {
	repo   repository.ScheduleRepository
	tx     TxRunner
	txRepo func(repository.DBTX) repository.ScheduleRepository
	logger *slog.Logger
}

// NewScheduleService создаёт сервис расписаний.
// tx может быть nil — тогда Seed пишет без транзакции.
func NewScheduleService(repo repository.ScheduleRepository, tx TxRunner, logger *slog.Logger) *ScheduleService {
	return &ScheduleService{
		repo:   repo,
		tx:     tx,
		txRepo: repository.NewScheduleRepository,
		logger: logger.With(slog.String("component", "schedule_service")),
	}
}

// List возвращает расписания по фильтру.
func (s *ScheduleService) List(ctx context.Context, f model.ScheduleFilter) ([]*model.Schedule, error) {
	f.Search = strings.TrimSpace(f.Search)
	f.RouteNo = strings.TrimSpace(f.RouteNo)
	list, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("список расписаний: %w", err)
	}
	return list, nil
}

// Get возвращает расписание по ID.
func (s *ScheduleService) Get(ctx context.Context, id string) (*model.Schedule, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	sc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение расписания: %w", err)
	}
	return sc, nil
}

// Create добавляет маршрут (только администратор).
func (s *ScheduleService) Create(ctx context.Context, caller Caller, in model.Schedule) (*model.Schedule, error) {
	if err := caller.require(rbac.ActionManageSchedules); err != nil {
		return nil, err
	}
	sc, err := prepareSchedule(in)
	if err != nil {
		return nil, err
	}
	sc.ID = uuid.New().String()

	if err := s.repo.Create(ctx, &sc); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: маршрут %s", ErrConflict, sc.RouteNo)
		}
		return nil, fmt.Errorf("создание расписания: %w", err)
	}
	s.logger.Info("Расписание добавлено", slog.String("id", sc.ID), slog.String("route", sc.RouteNo))
	return &sc, nil
}

// Update заменяет расписание (только администратор).
func (s *ScheduleService) Update(ctx context.Context, caller Caller, id string, in model.Schedule) (*model.Schedule, error) {
	if err := caller.require(rbac.ActionManageSchedules); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	sc, err := prepareSchedule(in)
	if err != nil {
		return nil, err
	}
	sc.ID = id

	if err := s.repo.Update(ctx, &sc); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrConflict):
			return nil, fmt.Errorf("%w: маршрут %s", ErrConflict, sc.RouteNo)
		}
		return nil, fmt.Errorf("обновление расписания: %w", err)
	}
	s.logger.Info("Расписание обновлено", slog.String("id", id), slog.String("route", sc.RouteNo))
	return &sc, nil
}

// Delete удаляет расписание (только администратор).
func (s *ScheduleService) Delete(ctx context.Context, caller Caller, id string) error {
	if err := caller.require(rbac.ActionManageSchedules); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление расписания: %w", err)
	}
	s.logger.Info("Расписание удалено", slog.String("id", id))
	return nil
}

// Seed заполняет пустую таблицу маршрутами по умолчанию.
// Возвращает число добавленных маршрутов (0, если таблица не пуста).
func (s *ScheduleService) Seed(ctx context.Context) (int, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("подсчёт расписаний: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	seeds, err := LoadSeedSchedules(defaultSchedulesYAML)
	if err != nil {
		return 0, err
	}

	insert := func(repo repository.ScheduleRepository) error {
		for i := range seeds {
			seeds[i].ID = uuid.New().String()
			if err := repo.Create(ctx, &seeds[i]); err != nil {
				return fmt.Errorf("маршрут %s: %w", seeds[i].RouteNo, err)
			}
		}
		return nil
	}

	if s.tx != nil {
		err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
			return insert(s.txRepo(tx))
		})
	} else {
		err = insert(s.repo)
	}
	if err != nil {
		return 0, fmt.Errorf("заполнение расписаний: %w", err)
	}

	s.logger.Info("Расписания заполнены маршрутами по умолчанию", slog.Int("count", len(seeds)))
	return len(seeds), nil
}

// LoadSeedSchedules разбирает YAML со списком маршрутов.
func LoadSeedSchedules(data []byte) ([]model.Schedule, error) {
	var doc struct {
		Schedules []model.Schedule `yaml:"schedules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("разбор YAML расписаний: %w", err)
	}
	out := make([]model.Schedule, 0, len(doc.Schedules))
	for _, sc := range doc.Schedules {
		prepared, err := prepareSchedule(sc)
		if err != nil {
			return nil, fmt.Errorf("маршрут %q: %w", sc.RouteNo, err)
		}
		out = append(out, prepared)
	}
	return out, nil
}

// prepareSchedule очищает пустые слоты и проверяет обязательные поля.
func prepareSchedule(in model.Schedule) (model.Schedule, error) {
	sc := in.Clean()
	sc.RouteNo = strings.TrimSpace(sc.RouteNo)
	sc.RouteName = strings.TrimSpace(sc.RouteName)
	sc.Details = strings.TrimSpace(sc.Details)
	if sc.RouteNo == "" || sc.RouteName == "" {
		return model.Schedule{}, validationError("routeNo и routeName обязательны")
	}
	for _, c := range sc.Coordinates {
		if c[0] < -90 || c[0] > 90 || c[1] < -180 || c[1] > 180 {
			return model.Schedule{}, validationError("координата %v вне допустимого диапазона", c)
		}
	}
	return sc, nil
}
