package repository

import (
	"context"
	"fmt"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
)

// NoticeRepository — интерфейс для таблицы notices.
type NoticeRepository interface {
	Create(ctx context.Context, n *model.Notice) error
	// List возвращает объявления по фильтру (новые первыми).
	List(ctx context.Context, f model.NoticeFilter) ([]*model.Notice, error)
}

type noticeRepo struct {
	db DBTX
}

// NewNoticeRepository создаёт репозиторий объявлений.
func NewNoticeRepository(db DBTX) NoticeRepository {
	return &noticeRepo{db: db}
}

const noticeColumns = `id, title, content, notice_date, notice_time, author, priority, category, created_at`

func (r *noticeRepo) Create(ctx context.Context, n *model.Notice) error {
	query := `
		INSERT INTO notices (id, title, content, notice_date, notice_time, author, priority, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		n.ID, n.Title, n.Content, n.Date, n.Time, n.Author, n.Priority, n.Category,
	).Scan(&n.Created)
	if err != nil {
		return dbError("создание объявления", err)
	}
	return nil
}

func (r *noticeRepo) List(ctx context.Context, f model.NoticeFilter) ([]*model.Notice, error) {
	var w whereBuilder
	if f.Category != "" && f.Category != model.CategoryAll {
		w.add("category = $%d", f.Category)
	}
	if f.Search != "" {
		w.addSearch(f.Search, "title", "content")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM notices
		%s
		ORDER BY created_at DESC`, noticeColumns, w.clause())

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка объявлений: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Notice, 0)
	for rows.Next() {
		n := &model.Notice{}
		if err := rows.Scan(
			&n.ID, &n.Title, &n.Content, &n.Date, &n.Time,
			&n.Author, &n.Priority, &n.Category, &n.Created,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования объявления: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}
