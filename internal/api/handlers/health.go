package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Pullock4981/diu-transport-client/internal/config"
)

const serviceName = "portal-api"

// ReadinessChecker — проверка готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler отдаёт /health/live, /health/ready и /metrics.
type HealthHandler struct {
	checkers map[string]ReadinessChecker
	// последнее состояние topologymetrics; nil — мониторинг выключен
	dependencies func() map[string]bool
	metrics      http.Handler
}

// NewHealthHandler создаёт обработчик. nil-checker считается "fail".
func NewHealthHandler(pgChecker, kcChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		checkers: map[string]ReadinessChecker{
			"postgresql": pgChecker,
			"keycloak":   kcChecker,
		},
		metrics: promhttp.Handler(),
	}
}

// WithDependencies добавляет в /health/ready состояние периодических
// проверок. На итоговый статус оно не влияет.
func (h *HealthHandler) WithDependencies(snapshot func() map[string]bool) *HealthHandler {
	h.dependencies = snapshot
	return h
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status       string                 `json:"status"`
	Timestamp    string                 `json:"timestamp"`
	Version      string                 `json:"version"`
	Service      string                 `json:"service"`
	Checks       map[string]checkResult `json:"checks,omitempty"`
	Dependencies map[string]bool        `json:"dependencies,omitempty"`
}

func newHealthResponse(status string) healthResponse {
	return healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
}

// HealthLive — проверка liveness.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse("ok"))
}

// HealthReady — проверка readiness: 200 (ok/degraded) или 503 (fail).
// Зависимости проверяются параллельно.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := newHealthResponse("")
	resp.Checks = make(map[string]checkResult, len(h.checkers))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for name, checker := range h.checkers {
		g.Go(func() error {
			res := checkResult{Status: "fail", Message: "не инициализирован"}
			if checker != nil {
				res.Status, res.Message = checker.CheckReady()
			}
			mu.Lock()
			resp.Checks[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	statuses := make([]string, 0, len(resp.Checks))
	for _, res := range resp.Checks {
		statuses = append(statuses, res.Status)
	}
	resp.Status = overallStatus(statuses...)
	if h.dependencies != nil {
		resp.Dependencies = h.dependencies()
	}

	code := http.StatusOK
	if resp.Status == "fail" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

// overallStatus: fail сильнее degraded, degraded сильнее ok.
func overallStatus(statuses ...string) string {
	rank := map[string]int{"ok": 0, "degraded": 1, "fail": 2}
	worst := "ok"
	for _, s := range statuses {
		r, known := rank[s]
		if !known {
			r, s = rank["fail"], "fail"
		}
		if r > rank[worst] {
			worst = s
		}
	}
	return worst
}
