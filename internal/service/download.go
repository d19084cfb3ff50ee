// download.go — выдача файла по /dl/{id}.
// Pipeline: FileRecord (кэш/БД) → проверка блокировки владельца →
// захват наименее загруженного клиента → адаптер клиента →
// дескриптор объекта → план чанков → потоковая запись ответа.
// Захваченный клиент освобождается ровно один раз на любом пути выхода.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/stream-gateway/internal/backend"
	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
	"github.com/bigkaa/goartstore/stream-gateway/internal/pool"
	"github.com/bigkaa/goartstore/stream-gateway/internal/stream"
)

// Prometheus-метрики download.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sg_download_duration_seconds",
		Help:    "Длительность потоковой выдачи (от запроса до завершения записи).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sg_download_bytes_total",
		Help: "Общее количество переданных байт при скачивании.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sg_active_downloads",
		Help: "Количество активных потоковых выдач.",
	})
)

// RangeError — диапазон не может быть удовлетворён для файла размером Size.
type RangeError struct {
	Size int64
	Err  error
}

func (e *RangeError) Error() string { return e.Err.Error() }

func (e *RangeError) Unwrap() error { return e.Err }

// DownloadService — сервис потоковой выдачи файлов.
type DownloadService struct {
	registry  *RegistryService
	pool      *pool.Pool
	adapters  *stream.AdapterCache
	chunkSize int64
	logger    *slog.Logger
}

// NewDownloadService создаёт сервис выдачи.
func NewDownloadService(
	registry *RegistryService,
	clients *pool.Pool,
	adapters *stream.AdapterCache,
	chunkSize int64,
	logger *slog.Logger,
) *DownloadService {
	if chunkSize <= 0 {
		chunkSize = stream.DefaultChunkSize
	}
	return &DownloadService{
		registry:  registry,
		pool:      clients,
		adapters:  adapters,
		chunkSize: chunkSize,
		logger:    logger.With(slog.String("component", "download_service")),
	}
}

// Download — подготовленная выдача. Вызывающий обязан вызвать Close.
type Download struct {
	Record   *model.FileRecord
	Size     int64
	MimeType string
	From     int64
	Until    int64
	// Partial — запрошен диапазон (ответ 206)
	Partial bool

	plan    *stream.Plan
	adapter *stream.Adapter
	desc    model.StreamDescriptor
	lease   *pool.Lease
	start   time.Time
	logger  *slog.Logger
}

// Length возвращает длину тела ответа.
func (d *Download) Length() int64 {
	if d.plan == nil {
		return 0
	}
	return d.plan.Length()
}

// ClientID возвращает идентичность клиента, обслуживающего выдачу.
func (d *Download) ClientID() string {
	return d.lease.Client.ID()
}

// Open выполняет все шаги до записи тела: разрешение записи, проверку
// блокировки, захват клиента, получение дескриптора и построение плана.
//
// Ошибки: ErrNotFound, ErrForbidden, ErrServiceUnavailable, *RangeError
// (оборачивает stream.ErrInvalidRange), прочие — внутренние.
func (ds *DownloadService) Open(ctx context.Context, fileID, rangeHeader string) (*Download, error) {
	// 1. Запись файла (просроченная удаляется и считается отсутствующей)
	rec, err := ds.registry.Resolve(ctx, fileID)
	if err != nil {
		ds.countFailure(err)
		return nil, err
	}

	banned, err := ds.registry.IsBanned(ctx, rec.OwnerUserID)
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if banned {
		downloadsTotal.WithLabelValues("forbidden").Inc()
		return nil, fmt.Errorf("владелец файла %s заблокирован: %w", fileID, ErrForbidden)
	}

	// 2. Захват наименее загруженного клиента
	lease, err := ds.pool.Acquire()
	if err != nil {
		downloadsTotal.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("выдача файла %s: %w: %v", fileID, ErrServiceUnavailable, err)
	}

	d, err := ds.prepare(ctx, rec, rangeHeader, lease)
	if err != nil {
		lease.Release()
		ds.countFailure(err)
		return nil, err
	}
	activeDownloads.Inc()
	return d, nil
}

// prepare строит выдачу для захваченного клиента.
func (ds *DownloadService) prepare(ctx context.Context, rec *model.FileRecord, rangeHeader string, lease *pool.Lease) (*Download, error) {
	// 3. Адаптер клиента
	adapter := ds.adapters.Get(lease.Client)

	// 4. Дескриптор объекта для этого клиента
	desc, err := ds.descriptor(ctx, rec, adapter)
	if err != nil {
		return nil, err
	}

	// 5. Размер и MIME-тип
	size := rec.FileSize
	if size == 0 {
		size = desc.Size
	}
	mimeType := resolveMimeType(rec.MimeType, desc.ContentType, rec.FileName)

	// 6. Диапазон и план
	from, until, partial, err := stream.ParseRange(rangeHeader, size)
	if err != nil {
		return nil, &RangeError{Size: size, Err: err}
	}

	d := &Download{
		Record:   rec,
		Size:     size,
		MimeType: mimeType,
		From:     from,
		Until:    until,
		Partial:  partial,
		adapter:  adapter,
		desc:     desc,
		lease:    lease,
		start:    time.Now(),
		logger:   ds.logger,
	}
	if size > 0 {
		d.plan, err = stream.NewPlan(size, from, until, ds.chunkSize)
		if err != nil {
			return nil, &RangeError{Size: size, Err: err}
		}
	}
	return d, nil
}

// descriptor возвращает дескриптор объекта для клиента адаптера.
// Неизвестный дескриптор запрашивается у backend и сохраняется в записи.
// Объект, отсутствующий в backend, приводит к удалению записи.
func (ds *DownloadService) descriptor(ctx context.Context, rec *model.FileRecord, adapter *stream.Adapter) (model.StreamDescriptor, error) {
	if desc, ok := rec.StreamDescriptors[adapter.ClientID()]; ok {
		return desc, nil
	}

	desc, err := adapter.Describe(ctx, rec.SourceKey)
	if err != nil {
		if errors.Is(err, backend.ErrObjectNotFound) {
			ds.logger.Warn("Объект не найден в backend, выполняется lazy cleanup",
				slog.String("file_id", rec.ID),
				slog.String("source_key", rec.SourceKey),
				slog.String("client", adapter.ClientID()),
			)
			if delErr := ds.registry.Expire(ctx, rec); delErr != nil {
				ds.logger.Error("Ошибка lazy cleanup", slog.String("error", delErr.Error()))
			}
			return model.StreamDescriptor{}, fmt.Errorf("файл %s отсутствует в backend: %w", rec.ID, ErrNotFound)
		}
		return model.StreamDescriptor{}, fmt.Errorf("получение дескриптора %s: %w", rec.ID, err)
	}

	if err := ds.registry.AttachDescriptor(ctx, rec.ID, adapter.ClientID(), desc); err != nil {
		// Дескриптор будет запрошен повторно при следующей выдаче.
		ds.logger.Warn("Не удалось сохранить дескриптор",
			slog.String("file_id", rec.ID),
			slog.String("client", adapter.ClientID()),
			slog.String("error", err.Error()),
		)
	}
	return desc, nil
}

// WriteTo записывает тело ответа в w. Отмена ctx (отключение клиента)
// прекращает загрузку следующих чанков.
func (d *Download) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	if d.plan == nil {
		return 0, nil
	}

	written, err := d.plan.WriteTo(ctx, w, d.adapter.Fetcher(d.desc))
	downloadBytesTotal.Add(float64(written))
	if err != nil {
		status := "stream_error"
		if ctx.Err() != nil {
			status = "canceled"
		}
		downloadsTotal.WithLabelValues(status).Inc()
		return written, err
	}

	duration := time.Since(d.start)
	downloadsTotal.WithLabelValues("success").Inc()
	downloadDuration.Observe(duration.Seconds())

	d.logger.Debug("Выдача завершена",
		slog.String("file_id", d.Record.ID),
		slog.String("client", d.ClientID()),
		slog.Int64("bytes", written),
		slog.Duration("duration", duration),
	)
	return written, nil
}

// Close освобождает захваченного клиента. Повторные вызовы — no-op.
func (d *Download) Close() {
	if d.lease == nil {
		return
	}
	d.lease.Release()
	d.lease = nil
	activeDownloads.Dec()
}

// countFailure учитывает неудачную выдачу в метриках.
func (ds *DownloadService) countFailure(err error) {
	var rangeErr *RangeError
	switch {
	case errors.Is(err, ErrNotFound):
		downloadsTotal.WithLabelValues("not_found").Inc()
	case errors.As(err, &rangeErr):
		downloadsTotal.WithLabelValues("invalid_range").Inc()
	default:
		downloadsTotal.WithLabelValues("error").Inc()
	}
}

// resolveMimeType выбирает MIME-тип: из записи, от backend или по расширению.
func resolveMimeType(recorded, fromBackend, fileName string) string {
	switch {
	case recorded != "":
		return recorded
	case fromBackend != "":
		return fromBackend
	}
	if guessed := mime.TypeByExtension(filepath.Ext(fileName)); guessed != "" {
		return guessed
	}
	return "application/octet-stream"
}
