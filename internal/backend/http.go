package backend

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// HTTPTransport — транспорт к объектному HTTP-серверу.
// Объект с ключом key доступен по адресу {baseURL}/{key}.
type HTTPTransport struct {
	id         string
	baseURL    string
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPTransport создаёт HTTP-транспорт.
// opts.CACertPath — CA-сертификат для TLS (пустая строка — стандартный пул).
func NewHTTPTransport(id, baseURL string, opts Options) (*HTTPTransport, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With(slog.String("component", "http_backend"), slog.String("client", id))

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // Range-запросам нужны сырые байты
	}

	if opts.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата backend: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат backend добавлен в пул доверия",
			slog.String("ca_cert", opts.CACertPath),
		)
	}

	return &HTTPTransport{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}, nil
}

// Start проверяет доступность backend запросом к health-пути.
func (t *HTTPTransport) Start(ctx context.Context) error {
	resp, err := t.do(ctx, http.MethodGet, t.baseURL+t.opts.HealthPath, "")
	if err != nil {
		return fmt.Errorf("проверка доступности %s: %w", t.baseURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // дочитываем для переиспользования соединения

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend %s не готов: HTTP %d", t.baseURL, resp.StatusCode)
	}
	return nil
}

// ID возвращает идентичность клиента.
func (t *HTTPTransport) ID() string { return t.id }

// Stat выполняет HEAD-запрос к объекту.
func (t *HTTPTransport) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	resp, err := t.do(ctx, http.MethodHead, t.objectURL(key), "")
	if err != nil {
		return nil, fmt.Errorf("HEAD %s: %w", key, err)
	}
	resp.Body.Close()

	if err := t.checkStatus(resp, key); err != nil {
		return nil, err
	}
	return &ObjectInfo{
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// FetchRange выполняет GET с заголовком Range: bytes=offset-(offset+length-1).
// Если сервер проигнорировал Range (200 без Content-Range), лишние байты отбрасываются.
func (t *HTTPTransport) FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	resp, err := t.do(ctx, http.MethodGet, t.objectURL(key), rangeHeader)
	if err != nil {
		return nil, fmt.Errorf("GET %s [%s]: %w", key, rangeHeader, err)
	}
	defer resp.Body.Close()

	if err := t.checkStatus(resp, key); err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK && resp.Header.Get("Content-Range") == "" && offset > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			return nil, fmt.Errorf("пропуск %d байт %s: %w", offset, key, err)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, length))
	if err != nil {
		return nil, fmt.Errorf("чтение %s [%s]: %w", key, rangeHeader, err)
	}
	return data, nil
}

// Stop закрывает простаивающие соединения.
func (t *HTTPTransport) Stop(_ context.Context) error {
	t.httpClient.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) do(ctx context.Context, method, reqURL, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	if t.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.opts.Token)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return t.httpClient.Do(req) //nolint:gosec // URL из конфигурации backend
}

// checkStatus переводит HTTP-статус в ошибку пакета.
func (t *HTTPTransport) checkStatus(resp *http.Response, key string) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return &TransientError{
			Wait: retryAfter(resp.Header.Get("Retry-After"), t.opts.DefaultWait),
			Err:  fmt.Errorf("HTTP %d для %s", resp.StatusCode, key),
		}
	default:
		return fmt.Errorf("неожиданный ответ backend для %s: HTTP %d", key, resp.StatusCode)
	}
}

func (t *HTTPTransport) objectURL(key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return t.baseURL + "/" + strings.Join(segments, "/")
}

// retryAfter разбирает Retry-After в секундах; иначе возвращает fallback.
func retryAfter(header string, fallback time.Duration) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
