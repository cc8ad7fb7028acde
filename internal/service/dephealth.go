package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — периодические проверки зависимостей Portal API.
// PostgreSQL и Keycloak (JWKS realm) — обе критичные.
type DephealthConfig struct {
	ServiceID string
	Group     string
	// PostgresURL — только для лейблов; проверка идёт через пул
	PostgresURL   string
	JWKSURL       string
	CheckInterval time.Duration
	TLSSkipVerify bool
	// Registerer — nil означает глобальный registry (/metrics)
	Registerer prometheus.Registerer
}

// DephealthService публикует app_dependency_* и хранит последнее состояние.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис. db — пул, обёрнутый stdlib.OpenDBFromPool.
func NewDephealthService(cfg DephealthConfig, db *sql.DB, logger *slog.Logger) (*DephealthService, error) {
	logger = logger.With(slog.String("component", "dephealth"))
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("keycloak",
			dephealth.FromURL(cfg.JWKSURL),
			dephealth.WithHTTPHealthPath(jwksCheckPath(cfg.JWKSURL)),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(cfg.TLSSkipVerify),
		),
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}
	return &DephealthService{dh: dh, logger: logger}, nil
}

// jwksCheckPath — путь HTTP-проверки Keycloak. /health у Keycloak слушает
// только management-порт, поэтому проверяется сам JWKS.
func jwksCheckPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/health"
	}
	return u.Path
}

// Start запускает проверки в фоне.
func (ds *DephealthService) Start(ctx context.Context) error {
	if err := ds.dh.Start(ctx); err != nil {
		return err
	}
	ds.logger.Info("Проверки зависимостей запущены")
	return nil
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Проверки зависимостей остановлены")
}

// Health — последнее состояние: имя зависимости → доступна.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
