package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
)

// ScheduleRepository — интерфейс CRUD для таблицы schedules.
type ScheduleRepository interface {
	Create(ctx context.Context, s *model.Schedule) error
	GetByID(ctx context.Context, id string) (*model.Schedule, error)
	List(ctx context.Context, f model.ScheduleFilter) ([]*model.Schedule, error)
	Update(ctx context.Context, s *model.Schedule) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type scheduleRepo struct {
	db DBTX
}

// NewScheduleRepository создаёт репозиторий расписаний.
func NewScheduleRepository(db DBTX) ScheduleRepository {
	return &scheduleRepo{db: db}
}

const scheduleColumns = `id, route_no, route_name, start_time, departure_time,
	details, coordinates, created_at, updated_at`

func scanSchedule(row interface{ Scan(...any) error }) (*model.Schedule, error) {
	s := &model.Schedule{}
	var coords []byte
	err := row.Scan(
		&s.ID, &s.RouteNo, &s.RouteName, &s.StartTime, &s.DepartureTime,
		&s.Details, &coords, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(coords, &s.Coordinates); err != nil {
		return nil, fmt.Errorf("некорректные координаты маршрута %s: %w", s.RouteNo, err)
	}
	return s, nil
}

func coordinatesJSON(s *model.Schedule) ([]byte, error) {
	coords := s.Coordinates
	if coords == nil {
		coords = []model.Coordinate{}
	}
	return json.Marshal(coords)
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func (r *scheduleRepo) Create(ctx context.Context, s *model.Schedule) error {
	coords, err := coordinatesJSON(s)
	if err != nil {
		return fmt.Errorf("ошибка сериализации координат: %w", err)
	}

	query := `
		INSERT INTO schedules (id, route_no, route_name, start_time, departure_time, details, coordinates)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		s.ID, s.RouteNo, s.RouteName, nonNil(s.StartTime), nonNil(s.DepartureTime), s.Details, coords,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return dbError("создание расписания", err)
	}
	return nil
}

func (r *scheduleRepo) GetByID(ctx context.Context, id string) (*model.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE id = $1`, scheduleColumns)

	s, err := scanSchedule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, dbError("получение расписания", err)
	}
	return s, nil
}

func (r *scheduleRepo) List(ctx context.Context, f model.ScheduleFilter) ([]*model.Schedule, error) {
	var w whereBuilder
	if f.RouteNo != "" {
		w.add("route_no = $%d", f.RouteNo)
	}
	if f.Search != "" {
		w.addSearch(f.Search, "route_no", "route_name", "details")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM schedules
		%s
		ORDER BY route_no`, scheduleColumns, w.clause())

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка расписаний: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Schedule, 0)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования расписания: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *scheduleRepo) Update(ctx context.Context, s *model.Schedule) error {
	coords, err := coordinatesJSON(s)
	if err != nil {
		return fmt.Errorf("ошибка сериализации координат: %w", err)
	}

	query := `
		UPDATE schedules
		SET route_no = $2, route_name = $3, start_time = $4, departure_time = $5,
			details = $6, coordinates = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		s.ID, s.RouteNo, s.RouteName, nonNil(s.StartTime), nonNil(s.DepartureTime), s.Details, coords,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return dbError("обновление расписания", err)
	}
	return nil
}

func (r *scheduleRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления расписания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *scheduleRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM schedules`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта расписаний: %w", err)
	}
	return count, nil
}
