// Пакет database — пул PostgreSQL (pgxpool), миграции схемы портала
// и проверка готовности для /health/ready.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Pullock4981/diu-transport-client/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// retryInterval — пауза между попытками подключения при старте.
var retryInterval = time.Second

// Connect открывает пул и ждёт PostgreSQL не дольше cfg.DBStartupWait.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("разбор DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("создание пула: %w", err)
	}

	attempts, err := waitReachable(ctx, pool, cfg.DBStartupWait, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL %s недоступен: %w", cfg.DatabaseURL(), err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("url", cfg.DatabaseURL()),
		slog.Int("max_conns", cfg.DBMaxConns),
		slog.Int("attempts", attempts),
	)
	return pool, nil
}

// waitReachable пингует пул, пока не истечёт wait.
func waitReachable(ctx context.Context, pool *pgxpool.Pool, wait time.Duration, logger *slog.Logger) (int, error) {
	deadline := time.Now().Add(wait)
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if time.Now().Add(retryInterval).After(deadline) {
			return attempt, err
		}
		logger.Debug("PostgreSQL ещё не готов, повтор",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Migrate доводит схему до последней версии. Грязная версия после
// прерванной миграции — ошибка: её чинят вручную через migrate force.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("источник миграций: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("инициализация миграций: %w", err)
	}
	defer m.Close()

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		before = 0
	case err != nil:
		return fmt.Errorf("версия схемы: %w", err)
	case dirty:
		return fmt.Errorf("схема в состоянии dirty (версия %d)", before)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("применение миграций: %w", err)
	}

	after, _, _ := m.Version()
	if after != before {
		logger.Info("Схема обновлена",
			slog.Uint64("from", uint64(before)),
			slog.Uint64("to", uint64(after)),
		)
	} else {
		logger.Debug("Схема актуальна", slog.Uint64("version", uint64(after)))
	}
	return nil
}

// Pinger — то, что умеет ping (pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecker — проверка PostgreSQL для /health/ready.
type ReadinessChecker struct {
	db Pinger
	// медленный ответ переводит статус в degraded
	slow time.Duration
}

// NewReadinessChecker создаёт проверку готовности.
func NewReadinessChecker(db Pinger) *ReadinessChecker {
	return &ReadinessChecker{db: db, slow: time.Second}
}

// CheckReady возвращает "ok", "degraded" или "fail" и пояснение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	if err := c.db.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	if took := time.Since(start); took > c.slow {
		return "degraded", fmt.Sprintf("ping %s", took.Round(time.Millisecond))
	}
	return "ok", "подключение активно"
}
