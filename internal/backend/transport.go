// Пакет backend — транспорт к backend-хранилищам, из которых шлюз
// читает байты файлов диапазонами.
//
// Реализации выбираются по схеме URL:
//   - http, https — объектный HTTP-сервер (GET с заголовком Range);
//   - mem, file, s3, gs — бакеты gocloud.dev/blob.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// ErrObjectNotFound — объект отсутствует в backend.
var ErrObjectNotFound = errors.New("объект не найден в backend")

// ObjectInfo — сведения об объекте в backend.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// Transport — соединение с одним backend.
type Transport interface {
	// Start устанавливает соединение и проверяет доступность backend.
	Start(ctx context.Context) error
	// ID возвращает идентичность клиента (уникальна в пуле).
	ID() string
	// Stat возвращает сведения об объекте по ключу.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	// FetchRange читает length байт начиная с offset.
	// В конце объекта результат может быть короче length.
	FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	// Stop закрывает соединение.
	Stop(ctx context.Context) error
}

// TransientError — backend требует паузу перед повтором операции.
type TransientError struct {
	Wait time.Duration
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("backend требует паузу %s: %v", e.Wait, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Options — общие параметры транспортов.
type Options struct {
	// CACertPath — CA-сертификат для HTTPS backend (пусто — системный пул)
	CACertPath string
	// Token — статический bearer-токен для HTTP backend
	Token string
	// HealthPath — путь проверки доступности HTTP backend при Start
	HealthPath string
	// DefaultWait — пауза при throttling без явной длительности
	DefaultWait time.Duration
	// Logger — логгер
	Logger *slog.Logger
}

// Spec — описание клиента из конфигурации: "name=url" или "url".
type Spec struct {
	Name string
	URL  string
}

// ParseSpec разбирает описание клиента. Без явного имени идентичностью
// становится host URL (или сам URL, если host пуст).
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	name, rawURL, found := strings.Cut(raw, "=")
	if !found || strings.Contains(name, "://") {
		name, rawURL = "", raw
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return Spec{}, fmt.Errorf("некорректный URL backend %q", raw)
	}
	if name == "" {
		name = u.Host
		if name == "" {
			name = rawURL
		}
	}
	return Spec{Name: name, URL: rawURL}, nil
}

// Open создаёт транспорт по схеме URL. Соединение устанавливается в Start.
func Open(spec Spec, opts Options) (Transport, error) {
	u, err := url.Parse(spec.URL)
	if err != nil {
		return nil, fmt.Errorf("некорректный URL backend %q: %w", spec.URL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPTransport(spec.Name, spec.URL, opts)
	case "mem", "file", "s3", "gs":
		return NewBlobTransport(spec.Name, spec.URL, opts), nil
	default:
		return nil, fmt.Errorf("неподдерживаемая схема backend %q", u.Scheme)
	}
}

// withDefaults заполняет незаданные параметры.
func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.DefaultWait <= 0 {
		o.DefaultWait = time.Second
	}
	if o.HealthPath == "" {
		o.HealthPath = "/health/live"
	}
	return o
}
