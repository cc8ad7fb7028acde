package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
)

// UserRepository — интерфейс реестра пользователей (таблица users).
type UserRepository interface {
	// Upsert создаёт пользователя с ролью u.Role или обновляет name/photo_url
	// существующего. Роль существующей записи не меняется.
	// Возвращает true, если запись была создана.
	Upsert(ctx context.Context, u *model.User) (bool, error)
	// GetByEmail возвращает пользователя по email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// List возвращает всех пользователей (новые первыми).
	List(ctx context.Context) ([]*model.User, error)
	// SetRole меняет роль пользователя.
	SetRole(ctx context.Context, email, role string) error
}

type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `email, name, photo_url, role, created_at, updated_at`

func (r *userRepo) Upsert(ctx context.Context, u *model.User) (bool, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	// role отсутствует в DO UPDATE: upsert не затирает роль, назначенную бэкендом.
	query := `
		INSERT INTO users (email, name, photo_url, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			photo_url = EXCLUDED.photo_url,
			updated_at = NOW()
		RETURNING role, created_at, updated_at, (xmax = 0) AS inserted`

	var inserted bool
	err := r.db.QueryRow(ctx, query, u.Email, u.Name, u.PhotoURL, u.Role).
		Scan(&u.Role, &u.CreatedAt, &u.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("ошибка upsert пользователя: %w", err)
	}
	return inserted, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)

	u := &model.User{}
	err := r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(
		&u.Email, &u.Name, &u.PhotoURL, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, dbError("получение пользователя", err)
	}
	return u, nil
}

func (r *userRepo) List(ctx context.Context) ([]*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users ORDER BY created_at DESC`, userColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.User, 0)
	for rows.Next() {
		u := &model.User{}
		if err := rows.Scan(
			&u.Email, &u.Name, &u.PhotoURL, &u.Role, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *userRepo) SetRole(ctx context.Context, email, role string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET role = $2, updated_at = NOW() WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)), role)
	if err != nil {
		return fmt.Errorf("ошибка смены роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
