package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/stream-gateway/internal/api/openapi"
	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
)

// AcquireRequest — реализация PUT /api/v1/requests/{user_id}.
// Живой запрос того же пользователя — 409.
func (h *APIHandler) AcquireRequest(w http.ResponseWriter, r *http.Request, userID openapi.UserId) {
	var body openapi.AcquireRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}

	var info *model.RequestFileInfo
	if body.FileInfo != nil {
		info = &model.RequestFileInfo{
			FileName: derefString(body.FileInfo.FileName),
			MimeType: derefString(body.FileInfo.MimeType),
		}
		if body.FileInfo.FileSize != nil {
			info.FileSize = *body.FileInfo.FileSize
		}
	}

	req, err := h.tracker.Acquire(r.Context(), userID, body.RequestType, info)
	if err != nil {
		h.writeServiceError(w, r, err, "захвата запроса",
			slog.Int64("user_id", userID),
			slog.String("request_type", body.RequestType),
		)
		return
	}
	writeJSON(w, http.StatusCreated, requestToResponse(req))
}

// GetRequest — реализация GET /api/v1/requests/{user_id}.
func (h *APIHandler) GetRequest(w http.ResponseWriter, r *http.Request, userID openapi.UserId) {
	req, err := h.tracker.Get(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "получения запроса", slog.Int64("user_id", userID))
		return
	}
	writeJSON(w, http.StatusOK, requestToResponse(req))
}

// UpdateRequestStatus — реализация PATCH /api/v1/requests/{user_id}.
func (h *APIHandler) UpdateRequestStatus(w http.ResponseWriter, r *http.Request, userID openapi.UserId) {
	var body openapi.UpdateRequestStatusBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.tracker.SetStatus(r.Context(), userID, model.RequestStatus(body.Status)); err != nil {
		h.writeServiceError(w, r, err, "изменения статуса запроса",
			slog.Int64("user_id", userID),
			slog.String("status", string(body.Status)),
		)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReleaseRequest — реализация DELETE /api/v1/requests/{user_id}.
// С revoke=true возвращает, существовал ли запрос.
func (h *APIHandler) ReleaseRequest(w http.ResponseWriter, r *http.Request, userID openapi.UserId, params openapi.ReleaseRequestParams) {
	if params.Revoke != nil && *params.Revoke {
		revoked, err := h.tracker.Revoke(r.Context(), userID)
		if err != nil {
			h.writeServiceError(w, r, err, "отмены запроса", slog.Int64("user_id", userID))
			return
		}
		writeJSON(w, http.StatusOK, openapi.RevokeResponse{Revoked: revoked})
		return
	}

	if err := h.tracker.Release(r.Context(), userID); err != nil {
		h.writeServiceError(w, r, err, "освобождения запроса", slog.Int64("user_id", userID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestToResponse конвертирует активный запрос в API-ответ.
func requestToResponse(req *model.ActiveRequest) openapi.ActiveRequestResponse {
	resp := openapi.ActiveRequestResponse{
		UserId:      req.UserID,
		RequestType: req.RequestType,
		Status:      openapi.RequestStatus(req.Status),
		StartTime:   req.StartTime,
		UpdatedTime: req.UpdatedTime,
	}
	if req.FileInfo != nil {
		resp.FileInfo = &openapi.RequestFileInfo{
			FileName: ptrIfNotEmpty(req.FileInfo.FileName),
			MimeType: ptrIfNotEmpty(req.FileInfo.MimeType),
		}
		if req.FileInfo.FileSize > 0 {
			size := req.FileInfo.FileSize
			resp.FileInfo.FileSize = &size
		}
	}
	return resp
}
