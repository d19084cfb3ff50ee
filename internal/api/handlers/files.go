package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/stream-gateway/internal/api/openapi"
	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
)

// RegisterFile — реализация POST /api/v1/files.
// Новая запись — 201, повторная регистрация той же пары — 200 с существующей записью.
func (h *APIHandler) RegisterFile(w http.ResponseWriter, r *http.Request) {
	var body openapi.RegisterFileRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	meta := model.FileMeta{
		OwnerUserID:     body.OwnerUserId,
		DedupKey:        body.DedupKey,
		SourceKey:       body.SourceKey,
		MimeType:        derefString(body.MimeType),
		FileName:        body.FileName,
		FileSize:        body.FileSize,
		SourceChannelID: body.SourceChannelId,
	}
	if body.FromAuthSource != nil {
		meta.FromAuthSource = *body.FromAuthSource
	}

	rec, created, err := h.registry.Insert(r.Context(), meta)
	if err != nil {
		h.writeServiceError(w, r, err, "регистрации файла",
			slog.Int64("owner_user_id", body.OwnerUserId),
			slog.String("dedup_key", body.DedupKey),
		)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, h.fileToResponse(rec))
}

// GetFile — реализация GET /api/v1/files/{id}.
// Просроченная запись удаляется и возвращается 404.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request, id openapi.FileId) {
	rec, err := h.registry.Resolve(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "получения файла", slog.String("file_id", id))
		return
	}
	writeJSON(w, http.StatusOK, h.fileToResponse(rec))
}

// DeleteFile — реализация DELETE /api/v1/files/{id}.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request, id openapi.FileId) {
	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err, "удаления файла", slog.String("file_id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fileToResponse конвертирует доменную запись в API-ответ.
func (h *APIHandler) fileToResponse(rec *model.FileRecord) openapi.FileResponse {
	resp := openapi.FileResponse{
		Id:              rec.ID,
		OwnerUserId:     rec.OwnerUserID,
		DedupKey:        rec.DedupKey,
		SourceKey:       rec.SourceKey,
		MimeType:        ptrIfNotEmpty(rec.MimeType),
		FileName:        rec.FileName,
		FileSize:        rec.FileSize,
		SourceChannelId: rec.SourceChannelID,
		CreatedAt:       rec.CreatedAt,
		ExpiresAt:       rec.ExpiresAt,
		WatchUrl:        h.publicURL + "/watch/" + rec.ID,
		DownloadUrl:     h.publicURL + "/dl/" + rec.ID,
	}
	if rec.FromAuthSource {
		v := true
		resp.FromAuthSource = &v
	}
	if len(rec.StreamDescriptors) > 0 {
		resp.StreamDescriptors = make(map[string]openapi.StreamDescriptor, len(rec.StreamDescriptors))
		for clientID, d := range rec.StreamDescriptors {
			resp.StreamDescriptors[clientID] = openapi.StreamDescriptor{
				Key:         d.Key,
				Size:        d.Size,
				ContentType: ptrIfNotEmpty(d.ContentType),
			}
		}
	}
	return resp
}
