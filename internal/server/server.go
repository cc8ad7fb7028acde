// Пакет server — HTTP-сервер Portal API с graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Pullock4981/diu-transport-client/internal/api/handlers"
	"github.com/Pullock4981/diu-transport-client/internal/api/middleware"
	"github.com/Pullock4981/diu-transport-client/internal/api/openapi"
	"github.com/Pullock4981/diu-transport-client/internal/config"
)

// Deps — обработчики и middleware, из которых собирается роутер.
type Deps struct {
	API    *handlers.APIHandler
	Health *handlers.HealthHandler
	// Auth == nil — защищённые маршруты не регистрируются.
	Auth *middleware.JWTAuth
	// Validator == nil — запросы не сверяются с OpenAPI-контрактом.
	Validator *openapi.Validator
	// RegisterLimiter == nil — /auth/register без ограничения частоты.
	RegisterLimiter *middleware.RateLimiter
}

// Server — HTTP-сервер Portal API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, logger, deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger, cfg: cfg}
}

// NewRouter собирает chi-роутер.
// Публичные: /health/*, /metrics, POST /auth/register. Остальное — за JWT.
func NewRouter(cfg *config.Config, logger *slog.Logger, deps Deps) http.Handler {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health/live", deps.Health.HealthLive)
	router.Get("/health/ready", deps.Health.HealthReady)
	router.Get("/metrics", deps.Health.GetMetrics)

	validate := func(next http.Handler) http.Handler { return next }
	if deps.Validator != nil {
		validate = deps.Validator.Middleware
	}

	router.Group(func(r chi.Router) {
		if deps.RegisterLimiter != nil {
			r.Use(deps.RegisterLimiter.Middleware)
		}
		r.Use(validate)
		r.Post("/auth/register", deps.API.Register)
	})

	if deps.Auth == nil {
		logger.Warn("JWT middleware не задан: защищённые маршруты отключены")
		return router
	}

	router.Group(func(r chi.Router) {
		r.Use(deps.Auth.Middleware())
		r.Use(validate)

		r.Get("/auth/me", deps.API.CurrentUser)

		r.Post("/users", deps.API.UpsertUser)
		r.Get("/users/{email}", deps.API.GetUser)

		r.Get("/transport_requests", deps.API.ListTransportRequests)
		r.Post("/transport_requests", deps.API.SubmitTransportRequest)
		r.Get("/transport_requests/{id}", deps.API.GetTransportRequest)

		r.Get("/notices", deps.API.ListNotices)
		r.Get("/schedules", deps.API.ListSchedules)
		r.Get("/schedules/{id}", deps.API.GetSchedule)

		// Только администратор.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Get("/users", deps.API.ListUsers)
			r.Patch("/users/{email}/role", deps.API.SetUserRole)

			r.Put("/transport_requests/{id}", deps.API.UpdateTransportRequest)
			r.Delete("/transport_requests/{id}", deps.API.DeleteTransportRequest)

			r.Post("/notices", deps.API.CreateNotice)

			r.Post("/schedules", deps.API.CreateSchedule)
			r.Put("/schedules/{id}", deps.API.UpdateSchedule)
			r.Delete("/schedules/{id}", deps.API.DeleteSchedule)
		})
	})

	return router
}

// Run запускает сервер и ожидает SIGINT/SIGTERM, затем выполняет graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
