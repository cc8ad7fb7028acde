// Пакет repository — SQL-доступ к реестру пользователей, заявкам,
// объявлениям и расписаниям (pgx, без ORM).
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("запись не найдена")
	ErrConflict = errors.New("запись уже существует")
)

// DBTX — общее у *pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner выполняет функции в транзакции пула.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx коммитит, если fn вернула nil, иначе откатывает.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, fn)
}

// dbError переводит ошибку pgx в ошибку слоя: нет строк — ErrNotFound,
// unique_violation — ErrConflict с деталями PostgreSQL.
func dbError(action string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Detail)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// whereBuilder собирает WHERE с нумерованными параметрами.
type whereBuilder struct {
	conditions []string
	args       []any
}

// add добавляет условие; %d в cond заменяется номером параметра.
func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conditions = append(w.conditions, fmt.Sprintf(cond, len(w.args)))
}

// addSearch — регистронезависимая подстрока в любой из колонок.
func (w *whereBuilder) addSearch(search string, columns ...string) {
	w.args = append(w.args, search)
	n := len(w.args)
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		parts = append(parts, fmt.Sprintf("strpos(lower(%s), lower($%d)) > 0", c, n))
	}
	w.conditions = append(w.conditions, "("+strings.Join(parts, " OR ")+")")
}

func (w *whereBuilder) clause() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conditions, " AND ")
}
