// health.go — обработчики служебных endpoints Stream Gateway.
// / — сведения о сервисе
// /status — состояние пула клиентов, uptime, версия
// /health, /health/live — liveness probe (без обращения к backend)
// /health/ready — readiness probe (PostgreSQL, JWKS, наличие клиентов)
// /metrics — Prometheus метрики
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/stream-gateway/internal/api/openapi"
	"github.com/bigkaa/goartstore/stream-gateway/internal/clock"
	"github.com/bigkaa/goartstore/stream-gateway/internal/config"
	"github.com/bigkaa/goartstore/stream-gateway/internal/pool"
)

// serviceName — имя сервиса в ответах служебных endpoints.
const serviceName = "stream-gateway"

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// HealthHandler — обработчик служебных endpoints.
type HealthHandler struct {
	pgChecker   ReadinessChecker
	jwksChecker ReadinessChecker
	clients     *pool.Pool
	clock       clock.Clock
	startedAt   time.Time
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик служебных endpoints.
// pgChecker — проверка PostgreSQL (nil — хранилище в памяти, проверка пропускается).
// jwksChecker — проверка JWKS (nil — аутентификация отключена).
func NewHealthHandler(pgChecker, jwksChecker ReadinessChecker, clients *pool.Pool, clk clock.Clock) *HealthHandler {
	return &HealthHandler{
		pgChecker:   pgChecker,
		jwksChecker: jwksChecker,
		clients:     clients,
		clock:       clk,
		startedAt:   clk.Now(),
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// GetRoot — сведения о сервисе.
func (h *HealthHandler) GetRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapi.RootResponse{
		Service: serviceName,
		Status:  "running",
		Version: config.Version,
	})
}

// GetStatus — состояние пула клиентов и сервиса.
func (h *HealthHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	stats := h.clients.Stats()
	loads := make([]openapi.LoadEntry, 0, len(stats.Loads))
	for _, l := range stats.Loads {
		loads = append(loads, openapi.LoadEntry{Client: l.Client, Load: l.Load})
	}

	writeJSON(w, http.StatusOK, openapi.StatusResponse{
		ServerStatus:     "running",
		Uptime:           formatUptime(h.clock.Now().Sub(h.startedAt)),
		Version:          config.Version,
		ConnectedClients: h.clients.Size(),
		Pool: openapi.PoolStats{
			Active:     stats.Active,
			Primary:    stats.Primary,
			Processors: stats.Processors,
			Loads:      loads,
		},
	})
}

// GetHealth — liveness без обращения к backend.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapi.HealthResponse{
		Status:    "healthy",
		Timestamp: h.clock.Now().UTC(),
		Clients:   h.clients.Size(),
		Service:   serviceName,
	})
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult, 3),
	}

	if h.pgChecker != nil {
		status, msg := h.pgChecker.CheckReady()
		resp.Checks["postgresql"] = healthCheckResult{Status: status, Message: msg}
	}
	if h.jwksChecker != nil {
		status, msg := h.jwksChecker.CheckReady()
		// Недоступность JWKS не мешает публичной выдаче
		if status == statusFail {
			status = "degraded"
		}
		resp.Checks["jwks"] = healthCheckResult{Status: status, Message: msg}
	}
	if n := h.clients.Size(); n == 0 {
		resp.Checks["clients"] = healthCheckResult{Status: statusFail, Message: "нет backend-клиентов"}
	} else {
		resp.Checks["clients"] = healthCheckResult{Status: "ok"}
	}

	statuses := make([]string, 0, len(resp.Checks))
	for _, c := range resp.Checks {
		statuses = append(statuses, c.Status)
	}
	resp.Status = overallStatus(statuses...)

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == statusFail {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// Константы статусов health check.
const statusFail = "fail"

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}

// formatUptime форматирует длительность работы: 2h5m3s.
func formatUptime(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
