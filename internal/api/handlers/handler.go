// handler.go — основной обработчик API, реализующий openapi.ServerInterface.
// Объединяет health, публичную выдачу (/dl, /watch) и внутренний API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/stream-gateway/internal/api/errors"
	"github.com/bigkaa/goartstore/stream-gateway/internal/render"
	"github.com/bigkaa/goartstore/stream-gateway/internal/service"
)

// APIHandler — основной обработчик API Stream Gateway.
// Реализует openapi.ServerInterface, делегируя запросы в сервисный слой.
type APIHandler struct {
	health    *HealthHandler
	registry  *service.RegistryService
	tracker   *service.TrackerService
	downloads *service.DownloadService
	viewer    *render.Viewer
	reaper    *service.ReaperService
	publicURL string
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// publicURL — внешний адрес шлюза для ссылок watch_url и download_url.
func NewAPIHandler(
	health *HealthHandler,
	registry *service.RegistryService,
	tracker *service.TrackerService,
	downloads *service.DownloadService,
	viewer *render.Viewer,
	reaper *service.ReaperService,
	publicURL string,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		registry:  registry,
		tracker:   tracker,
		downloads: downloads,
		viewer:    viewer,
		reaper:    reaper,
		publicURL: publicURL,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// GetRoot — сведения о сервисе.
func (h *APIHandler) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.health.GetRoot(w, r)
}

// GetStatus — состояние пула и сервиса.
func (h *APIHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.health.GetStatus(w, r)
}

// GetHealth — liveness без обращения к backend.
func (h *APIHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.health.GetHealth(w, r)
}

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса; при ошибке отвечает 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Неожиданные ошибки логируются и возвращаются как 500 без деталей.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string, attrs ...slog.Attr) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Ресурс не найден")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Доступ запрещён")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, "У пользователя уже есть активный запрос")
	case errors.Is(err, service.ErrServiceUnavailable):
		apierrors.ServiceUnavailable(w, "Нет доступных backend-клиентов")
	default:
		h.logger.LogAttrs(r.Context(), slog.LevelError, "Ошибка операции "+op,
			append(attrs, slog.String("error", err.Error()))...)
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit, offset *int) (limitVal, offsetVal int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// ptrIfNotEmpty возвращает указатель на s или nil для пустой строки.
func ptrIfNotEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString возвращает значение указателя или пустую строку.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
