// metrics.go — Prometheus HTTP метрики Stream Gateway.
// Регистрирует метрики: sg_http_requests_total, sg_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики Stream Gateway
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_http_requests_total",
			Help: "Общее количество HTTP-запросов к Stream Gateway",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	// Для /dl включает время передачи всего тела.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sg_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Stream Gateway в секундах",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет идентификаторы в пути на шаблоны.
// /dl/6f1c... → /dl/{id}
// /api/v1/users/42/files → /api/v1/users/{user_id}/files
func normalizePath(path string) string {
	switch path {
	case "/", "/status", "/health", "/health/live", "/health/ready", "/metrics",
		"/api/v1/files", "/api/v1/maintenance/sweep":
		return path
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(segments) == 2 && (segments[0] == "dl" || segments[0] == "watch"):
		return "/" + segments[0] + "/{id}"
	case len(segments) == 4 && segments[0] == "api" && segments[2] == "files":
		return "/api/v1/files/{id}"
	case len(segments) >= 4 && segments[0] == "api" && (segments[2] == "users" || segments[2] == "requests"):
		normalized := "/api/v1/" + segments[2] + "/{user_id}"
		if len(segments) == 5 && (segments[4] == "files" || segments[4] == "ban") {
			normalized += "/" + segments[4]
		}
		return normalized
	}

	return "other"
}
