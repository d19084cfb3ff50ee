package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/stream-gateway/internal/api/openapi"
)

// GetUser — реализация GET /api/v1/users/{user_id}.
// Неизвестный пользователь возвращается с нулевыми счётчиками.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request, userID openapi.UserId) {
	u, err := h.registry.User(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "получения пользователя", slog.Int64("user_id", userID))
		return
	}
	writeJSON(w, http.StatusOK, openapi.UserResponse{
		UserId: u.UserID,
		Links:  u.Links,
		Banned: u.Banned,
	})
}

// ListUserFiles — реализация GET /api/v1/users/{user_id}/files.
func (h *APIHandler) ListUserFiles(w http.ResponseWriter, r *http.Request, userID openapi.UserId, params openapi.ListUserFilesParams) {
	limit, offset := paginationDefaults(params.Limit, params.Offset)

	records, total, err := h.registry.ListByOwner(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err, "получения списка файлов", slog.Int64("user_id", userID))
		return
	}

	items := make([]openapi.FileResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, h.fileToResponse(rec))
	}
	writeJSON(w, http.StatusOK, openapi.FileListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// BanUser — реализация PUT /api/v1/users/{user_id}/ban.
func (h *APIHandler) BanUser(w http.ResponseWriter, r *http.Request, userID openapi.UserId) {
	h.setBanned(w, r, userID, true)
}

// UnbanUser — реализация DELETE /api/v1/users/{user_id}/ban.
func (h *APIHandler) UnbanUser(w http.ResponseWriter, r *http.Request, userID openapi.UserId) {
	h.setBanned(w, r, userID, false)
}

func (h *APIHandler) setBanned(w http.ResponseWriter, r *http.Request, userID int64, banned bool) {
	if err := h.registry.SetBanned(r.Context(), userID, banned); err != nil {
		h.writeServiceError(w, r, err, "изменения блокировки",
			slog.Int64("user_id", userID),
			slog.Bool("banned", banned),
		)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
