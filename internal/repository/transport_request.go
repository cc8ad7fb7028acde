package repository

import (
	"context"
	"fmt"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
)

// TransportRequestRepository — интерфейс CRUD для таблицы transport_requests.
type TransportRequestRepository interface {
	Create(ctx context.Context, tr *model.TransportRequest) error
	GetByID(ctx context.Context, id string) (*model.TransportRequest, error)
	// List возвращает заявки; requesterEmail != nil — только заявки владельца.
	List(ctx context.Context, requesterEmail *string) ([]*model.TransportRequest, error)
	// Update сохраняет все изменяемые поля заявки.
	Update(ctx context.Context, tr *model.TransportRequest) error
	Delete(ctx context.Context, id string) error
}

type transportRequestRepo struct {
	db DBTX
}

// NewTransportRequestRepository создаёт репозиторий заявок.
func NewTransportRequestRepository(db DBTX) TransportRequestRepository {
	return &transportRequestRepo{db: db}
}

const trColumns = `id, student_id, name, reason, request_date, request_time,
	destination, status, requester_email, created_at, updated_at`

func scanTransportRequest(row interface{ Scan(...any) error }) (*model.TransportRequest, error) {
	tr := &model.TransportRequest{}
	err := row.Scan(
		&tr.ID, &tr.StudentID, &tr.Name, &tr.Reason, &tr.Date, &tr.Time,
		&tr.Destination, &tr.Status, &tr.RequesterEmail, &tr.CreatedAt, &tr.UpdatedAt,
	)
	return tr, err
}

func (r *transportRequestRepo) Create(ctx context.Context, tr *model.TransportRequest) error {
	query := `
		INSERT INTO transport_requests (id, student_id, name, reason, request_date,
			request_time, destination, status, requester_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		tr.ID, tr.StudentID, tr.Name, tr.Reason, tr.Date,
		tr.Time, tr.Destination, tr.Status, tr.RequesterEmail,
	).Scan(&tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		return dbError("создание заявки", err)
	}
	return nil
}

func (r *transportRequestRepo) GetByID(ctx context.Context, id string) (*model.TransportRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM transport_requests WHERE id = $1`, trColumns)

	tr, err := scanTransportRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, dbError("получение заявки", err)
	}
	return tr, nil
}

func (r *transportRequestRepo) List(ctx context.Context, requesterEmail *string) ([]*model.TransportRequest, error) {
	var w whereBuilder
	if requesterEmail != nil {
		w.add("requester_email = $%d", *requesterEmail)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM transport_requests
		%s
		ORDER BY created_at DESC`, trColumns, w.clause())

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заявок: %w", err)
	}
	defer rows.Close()

	result := make([]*model.TransportRequest, 0)
	for rows.Next() {
		tr, err := scanTransportRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		result = append(result, tr)
	}
	return result, rows.Err()
}

func (r *transportRequestRepo) Update(ctx context.Context, tr *model.TransportRequest) error {
	query := `
		UPDATE transport_requests
		SET student_id = $2, name = $3, reason = $4, request_date = $5,
			request_time = $6, destination = $7, status = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		tr.ID, tr.StudentID, tr.Name, tr.Reason, tr.Date,
		tr.Time, tr.Destination, tr.Status,
	).Scan(&tr.UpdatedAt)
	if err != nil {
		return dbError("обновление заявки", err)
	}
	return nil
}

func (r *transportRequestRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM transport_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления заявки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
