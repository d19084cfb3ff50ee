// Пакет render — HTML-страница просмотра файла (/watch/{id}).
//
// Перед отрисовкой страница сама проверяет срок жизни записи: просроченная
// запись удаляется и вместо плеера показывается страница «срок истёк».
// Видео открывается во встроенном плеере, прочие типы — страницей скачивания.
package render

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/stream-gateway/internal/clock"
	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
	"github.com/bigkaa/goartstore/stream-gateway/internal/service"
)

//go:embed templates/*.html
var templatesFS embed.FS

// ErrExpired — срок жизни записи истёк (запись удалена при отрисовке).
var ErrExpired = fmt.Errorf("срок жизни ссылки истёк: %w", service.ErrNotFound)

// Registry — операции реестра, нужные странице просмотра.
type Registry interface {
	Get(ctx context.Context, id string) (*model.FileRecord, error)
	Expire(ctx context.Context, rec *model.FileRecord) error
	IsBanned(ctx context.Context, userID int64) (bool, error)
}

// pageData — данные шаблонов play.html и dl.html.
type pageData struct {
	FileName      string
	FileURL       string
	FileSize      string
	MimeType      string
	TimeRemaining string
}

// errorData — данные шаблона error.html.
type errorData struct {
	Title   string
	Message string
}

// Viewer отрисовывает страницы просмотра.
type Viewer struct {
	registry  Registry
	clock     clock.Clock
	publicURL string
	templates *template.Template
	logger    *slog.Logger
}

// NewViewer создаёт Viewer. publicURL — внешний адрес шлюза для ссылок /dl/{id}.
func NewViewer(registry Registry, clk clock.Clock, publicURL string, logger *slog.Logger) (*Viewer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("разбор шаблонов: %w", err)
	}
	return &Viewer{
		registry:  registry,
		clock:     clk,
		publicURL: strings.TrimRight(publicURL, "/"),
		templates: tmpl,
		logger:    logger.With(slog.String("component", "viewer")),
	}, nil
}

// Render возвращает HTML страницы просмотра файла id.
// Ошибки: service.ErrNotFound, ErrExpired, service.ErrForbidden, прочие — внутренние.
func (v *Viewer) Render(ctx context.Context, id string) ([]byte, error) {
	rec, err := v.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := v.clock.Now()
	if rec.Expired(now) {
		if err := v.registry.Expire(ctx, rec); err != nil {
			v.logger.Warn("Не удалось удалить просроченную запись",
				slog.String("file_id", id),
				slog.String("error", err.Error()),
			)
		}
		return nil, ErrExpired
	}

	banned, err := v.registry.IsBanned(ctx, rec.OwnerUserID)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, service.ErrForbidden
	}

	data := pageData{
		FileName:      strings.ReplaceAll(rec.FileName, "_", " "),
		FileURL:       v.publicURL + "/dl/" + rec.ID,
		FileSize:      HumanBytes(rec.FileSize),
		MimeType:      rec.MimeType,
		TimeRemaining: TimeRemaining(rec.ExpiresAt.Sub(now)),
	}

	name := "dl.html"
	if isVideo(rec.MimeType) {
		name = "play.html"
	}

	var buf bytes.Buffer
	if err := v.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("отрисовка %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// ErrorPage возвращает HTTP-статус и HTML страницы ошибки для err.
func (v *Viewer) ErrorPage(err error) (int, []byte) {
	status, data := http.StatusInternalServerError, errorData{
		Title:   "Внутренняя ошибка",
		Message: "Не удалось открыть страницу файла. Попробуйте позже.",
	}
	switch {
	case errors.Is(err, ErrExpired):
		status, data = http.StatusNotFound, errorData{
			Title:   "Срок действия ссылки истёк",
			Message: "Файл был автоматически удалён по истечении срока хранения.",
		}
	case errors.Is(err, service.ErrNotFound):
		status, data = http.StatusNotFound, errorData{
			Title:   "Файл не найден",
			Message: "Запрошенный файл не найден.",
		}
	case errors.Is(err, service.ErrForbidden):
		status, data = http.StatusForbidden, errorData{
			Title:   "Доступ запрещён",
			Message: "Доступ к файлу ограничен.",
		}
	}

	var buf bytes.Buffer
	if execErr := v.templates.ExecuteTemplate(&buf, "error.html", data); execErr != nil {
		return status, []byte(data.Title)
	}
	return status, buf.Bytes()
}

func isVideo(mimeType string) bool {
	major, _, _ := strings.Cut(mimeType, "/")
	return strings.TrimSpace(major) == "video"
}

// HumanBytes форматирует размер в двоичных единицах: 1.50 MiB.
func HumanBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(size)/float64(div), "KMGTP"[exp])
}

// TimeRemaining форматирует оставшееся время: "1h 5m" или "42m".
func TimeRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	if hours := minutes / 60; hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	}
	return fmt.Sprintf("%dm", minutes)
}
