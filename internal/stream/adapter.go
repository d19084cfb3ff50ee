package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/stream-gateway/internal/backend"
	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
)

// ErrBackendExhausted — backend продолжает требовать паузу после повтора.
var ErrBackendExhausted = errors.New("backend недоступен после повторной попытки")

// Prometheus-метрики загрузки чанков.
var (
	chunkFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_chunk_fetch_total",
		Help: "Количество загрузок чанков из backend",
	}, []string{"client", "result"})

	chunkFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sg_chunk_fetch_duration_seconds",
		Help:    "Длительность загрузки чанка из backend",
		Buckets: prometheus.DefBuckets,
	}, []string{"client"})

	transientRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_backend_transient_retries_total",
		Help: "Количество повторов после требования паузы от backend",
	}, []string{"client"})
)

// AdapterOptions — параметры адаптеров.
type AdapterOptions struct {
	// ChunkTimeout — таймаут загрузки одного чанка (0 — без таймаута)
	ChunkTimeout time.Duration
	// Sleep — ожидание перед повтором; nil — ожидание с учётом ctx
	Sleep func(ctx context.Context, d time.Duration) error
}

// Adapter читает чанки файлов через транспорт одного backend-клиента.
type Adapter struct {
	transport backend.Transport
	opts      AdapterOptions
	logger    *slog.Logger
}

// NewAdapter создаёт адаптер для транспорта.
func NewAdapter(tr backend.Transport, opts AdapterOptions, logger *slog.Logger) *Adapter {
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Adapter{
		transport: tr,
		opts:      opts,
		logger:    logger.With(slog.String("component", "stream_adapter"), slog.String("client", tr.ID())),
	}
}

// ClientID возвращает идентичность backend-клиента адаптера.
func (a *Adapter) ClientID() string { return a.transport.ID() }

// Describe запрашивает у backend сведения об объекте и возвращает
// дескриптор для этого клиента.
func (a *Adapter) Describe(ctx context.Context, key string) (model.StreamDescriptor, error) {
	var info *backend.ObjectInfo
	err := a.withRetry(ctx, "stat", func(ctx context.Context) error {
		var err error
		info, err = a.transport.Stat(ctx, key)
		return err
	})
	if err != nil {
		return model.StreamDescriptor{}, err
	}
	return model.StreamDescriptor{Key: key, Size: info.Size, ContentType: info.ContentType}, nil
}

// FetchChunk загружает length байт объекта desc начиная с offset.
func (a *Adapter) FetchChunk(ctx context.Context, desc model.StreamDescriptor, offset, length int64) ([]byte, error) {
	start := time.Now()
	var data []byte
	err := a.withRetry(ctx, "fetch", func(ctx context.Context) error {
		if a.opts.ChunkTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.opts.ChunkTimeout)
			defer cancel()
		}
		var err error
		data, err = a.transport.FetchRange(ctx, desc.Key, offset, length)
		return err
	})
	chunkFetchDuration.WithLabelValues(a.ClientID()).Observe(time.Since(start).Seconds())

	if err != nil {
		chunkFetchTotal.WithLabelValues(a.ClientID(), "error").Inc()
		return nil, err
	}
	chunkFetchTotal.WithLabelValues(a.ClientID(), "success").Inc()
	return data, nil
}

// Fetcher возвращает FetchFunc плана для объекта desc.
func (a *Adapter) Fetcher(desc model.StreamDescriptor) FetchFunc {
	return func(ctx context.Context, offset, length int64) ([]byte, error) {
		return a.FetchChunk(ctx, desc, offset, length)
	}
}

// withRetry выполняет op; если backend требует паузу, ждёт указанное время
// и повторяет op один раз.
func (a *Adapter) withRetry(ctx context.Context, opName string, op func(ctx context.Context) error) error {
	err := op(ctx)

	var transient *backend.TransientError
	if !errors.As(err, &transient) {
		return err
	}

	transientRetriesTotal.WithLabelValues(a.ClientID()).Inc()
	a.logger.Warn("Backend требует паузу, повтор операции",
		slog.String("op", opName),
		slog.Duration("wait", transient.Wait),
	)
	if err := a.opts.Sleep(ctx, transient.Wait); err != nil {
		return err
	}

	err = op(ctx)
	if errors.As(err, &transient) {
		return fmt.Errorf("%w: %s: %v", ErrBackendExhausted, opName, err)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
