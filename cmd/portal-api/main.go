// Точка входа Portal API — REST-бэкенд транспортного портала DIU.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт сервисный слой, клиент Keycloak, JWT middleware и
// запускает HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/Pullock4981/diu-transport-client/internal/api/handlers"
	"github.com/Pullock4981/diu-transport-client/internal/api/middleware"
	"github.com/Pullock4981/diu-transport-client/internal/api/openapi"
	"github.com/Pullock4981/diu-transport-client/internal/config"
	"github.com/Pullock4981/diu-transport-client/internal/database"
	"github.com/Pullock4981/diu-transport-client/internal/keycloak"
	"github.com/Pullock4981/diu-transport-client/internal/repository"
	"github.com/Pullock4981/diu-transport-client/internal/server"
	"github.com/Pullock4981/diu-transport-client/internal/service"
)

func main() {
	// 1. Конфигурация из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("Portal API запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)
	if len(cfg.AdminEmails) == 0 {
		logger.Warn("TP_ADMIN_EMAILS пуст: роль admin можно назначить только через БД")
	}

	// 3. Миграции БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 pgxpool → *sql.DB для topologymetrics (проверка через пул)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories и сервисы
	userRepo := repository.NewUserRepository(pool)
	roleCache := service.NewRoleCache(cfg.RoleCacheSize, cfg.RoleCacheTTL)

	usersSvc := service.NewUserService(userRepo, roleCache, cfg.AdminEmails, logger)
	requestsSvc := service.NewTransportRequestService(repository.NewTransportRequestRepository(pool), logger)
	noticesSvc := service.NewNoticeService(repository.NewNoticeRepository(pool), logger)
	schedulesSvc := service.NewScheduleService(
		repository.NewScheduleRepository(pool),
		repository.NewTxRunner(pool),
		logger,
	)

	// 6. Маршруты по умолчанию
	if cfg.SeedSchedules {
		seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		n, seedErr := schedulesSvc.Seed(seedCtx)
		cancel()
		if seedErr != nil {
			logger.Warn("Ошибка заполнения расписаний", slog.String("error", seedErr.Error()))
		} else if n > 0 {
			logger.Info("Добавлены маршруты по умолчанию", slog.Int("count", n))
		}
	}

	// 7. Keycloak Admin API (регистрация учётных записей)
	kcHTTP := &http.Client{Timeout: 15 * time.Second}
	if cfg.KeycloakTLSSkipVerify {
		logger.Warn("Проверка TLS-сертификата Keycloak отключена")
		kcHTTP.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // только dev-среда
		}
	}
	kcClient := keycloak.New(keycloak.Options{
		BaseURL:      cfg.KeycloakURL,
		Realm:        cfg.KeycloakRealm,
		ClientID:     cfg.KeycloakClientID,
		ClientSecret: cfg.KeycloakClientSecret,
		HTTPClient:   kcHTTP,
	}, logger)
	registrationSvc := service.NewRegistrationService(kcClient, userRepo, logger)
	logger.Info("Keycloak клиент создан",
		slog.String("url", cfg.KeycloakURL),
		slog.String("realm", cfg.KeycloakRealm),
	)

	// 8. JWT middleware (роль — из реестра) и OpenAPI-валидатор
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTOptions{
		JWKSURL:       cfg.JWTJWKSURL,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		TLSSkipVerify: cfg.KeycloakTLSSkipVerify,
	}, usersSvc, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	validator, err := openapi.NewValidator()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Debug("OpenAPI-контракт загружен", slog.Int("operations", validator.Operations()))

	// 9. topologymetrics — мониторинг PostgreSQL и Keycloak
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "portal-api",
		Group:         cfg.DephealthGroup,
		PostgresURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
		TLSSkipVerify: cfg.KeycloakTLSSkipVerify,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	health := handlers.NewHealthHandler(database.NewReadinessChecker(pool), kcClient)
	if dephealthSvc != nil {
		health.WithDependencies(dephealthSvc.Health)
	}

	// 10. HTTP-сервер
	deps := server.Deps{
		API: handlers.NewAPIHandler(
			usersSvc,
			requestsSvc,
			noticesSvc,
			schedulesSvc,
			registrationSvc,
			logger,
		),
		Health:          health,
		Auth:            jwtAuth,
		Validator:       validator,
		RegisterLimiter: middleware.NewRateLimiter(cfg.RegisterRate, cfg.RegisterBurst),
	}

	srv := server.New(cfg, logger, deps)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	logger.Info("Portal API остановлен")
}
