// download.go — обработчики публичной выдачи: GET /dl/{id} и GET /watch/{id}.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/goartstore/stream-gateway/internal/api/errors"
	"github.com/bigkaa/goartstore/stream-gateway/internal/api/openapi"
	"github.com/bigkaa/goartstore/stream-gateway/internal/service"
)

// downloadCacheControl — Cache-Control ответа выдачи.
const downloadCacheControl = "public, max-age=86400"

// DownloadFile — реализация GET /dl/{id} (и HEAD через chi GetHead).
// Без Range — 200 и файл целиком, с Range — 206 и запрошенный диапазон.
// Захваченный клиент освобождается при любом исходе, включая отключение клиента.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request, id openapi.FileId, params openapi.DownloadFileParams) {
	d, err := h.downloads.Open(r.Context(), id, derefString(params.Range))
	if err != nil {
		h.writeDownloadError(w, r, id, err)
		return
	}
	defer d.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", d.MimeType)
	if d.Partial {
		hdr.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", d.From, d.Until, d.Size))
	}
	hdr.Set("Content-Length", strconv.FormatInt(d.Length(), 10))
	hdr.Set("Content-Disposition", contentDisposition(d.Record.FileName))
	hdr.Set("Accept-Ranges", "bytes")
	hdr.Set("Cache-Control", downloadCacheControl)
	hdr.Set("ETag", fmt.Sprintf(`"%s-%d"`, d.Record.ID, d.Size))
	hdr.Set("Connection", "keep-alive")

	status := http.StatusOK
	if d.Partial {
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	written, err := d.WriteTo(r.Context(), w)
	if err != nil {
		// Заголовки уже отправлены: остаётся только прервать поток.
		if errors.Is(err, context.Canceled) || r.Context().Err() != nil {
			h.logger.Debug("Клиент отключился во время выдачи",
				slog.String("file_id", id),
				slog.Int64("bytes", written),
			)
			return
		}
		h.logger.Error("Ошибка потоковой выдачи",
			slog.String("file_id", id),
			slog.String("client", d.ClientID()),
			slog.Int64("bytes", written),
			slog.Int64("expected", d.Length()),
			slog.String("error", err.Error()),
		)
		panic(http.ErrAbortHandler)
	}
}

// writeDownloadError переводит ошибку подготовки выдачи в HTTP-ответ.
func (h *APIHandler) writeDownloadError(w http.ResponseWriter, r *http.Request, id string, err error) {
	var rangeErr *service.RangeError
	switch {
	case errors.As(err, &rangeErr):
		apierrors.RangeNotSatisfiable(w, rangeErr.Size, "Запрошенный диапазон недопустим")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Файл не найден или срок действия ссылки истёк")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Доступ к файлу ограничен")
	case errors.Is(err, service.ErrServiceUnavailable):
		apierrors.ServiceUnavailable(w, "Нет доступных backend-клиентов")
	default:
		h.logger.LogAttrs(r.Context(), slog.LevelError, "Ошибка подготовки выдачи",
			slog.String("file_id", id),
			slog.String("range", r.Header.Get("Range")),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при выдаче файла")
	}
}

// WatchFile — реализация GET /watch/{id}: HTML-страница просмотра.
func (h *APIHandler) WatchFile(w http.ResponseWriter, r *http.Request, id openapi.FileId) {
	page, err := h.viewer.Render(r.Context(), id)
	if err != nil {
		status, body := h.viewer.ErrorPage(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Ошибка отрисовки страницы просмотра",
				slog.String("file_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeHTML(w, status, body)
		return
	}
	writeHTML(w, http.StatusOK, page)
}

// writeHTML записывает HTML-ответ.
func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// contentDisposition формирует Content-Disposition: attachment.
// Имена вне печатного ASCII кодируются по RFC 2231.
func contentDisposition(name string) string {
	if name == "" {
		return "attachment"
	}
	if isPlainASCII(name) {
		return `attachment; filename="` + name + `"`
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

// isPlainASCII — печатный ASCII без кавычек и обратной косой черты.
func isPlainASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}
