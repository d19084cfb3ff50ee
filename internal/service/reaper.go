// reaper.go — фоновая очистка просроченных записей файлов и устаревших
// активных запросов.
//
// Два независимых цикла с собственными тикерами:
//  1. файлы — каждые SG_FILE_SWEEP_INTERVAL (по умолчанию 5 минут);
//  2. активные запросы — каждые SG_REQUEST_SWEEP_INTERVAL (по умолчанию 1 минута).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики сборщика.
var (
	reaperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_reaper_runs_total",
		Help: "Общее количество запусков очистки.",
	}, []string{"target"})

	reaperRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_reaper_removed_total",
		Help: "Общее количество удалённых записей.",
	}, []string{"target"})

	reaperErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_reaper_errors_total",
		Help: "Общее количество ошибок очистки.",
	}, []string{"target"})

	reaperDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sg_reaper_duration_seconds",
		Help:    "Длительность очистки в секундах.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"target"})
)

const (
	targetFiles    = "files"
	targetRequests = "requests"
)

// SweepResult — результат одного запуска очистки.
type SweepResult struct {
	// FilesRemoved — удалено просроченных записей файлов
	FilesRemoved int `json:"files_removed"`
	// RequestsRemoved — удалено устаревших активных запросов
	RequestsRemoved int `json:"requests_removed"`
	// Errors — количество ошибок
	Errors int `json:"errors"`
	// Duration — длительность выполнения
	Duration time.Duration `json:"-"`
}

// ReaperService — фоновая очистка реестра и трекера.
type ReaperService struct {
	registry        *RegistryService
	tracker         *TrackerService
	fileInterval    time.Duration
	requestInterval time.Duration
	logger          *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска очистки одной цели
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaperService создаёт сборщик.
func NewReaperService(
	registry *RegistryService,
	tracker *TrackerService,
	fileInterval time.Duration,
	requestInterval time.Duration,
	logger *slog.Logger,
) *ReaperService {
	return &ReaperService{
		registry:        registry,
		tracker:         tracker,
		fileInterval:    fileInterval,
		requestInterval: requestInterval,
		logger:          logger.With(slog.String("component", "reaper")),
	}
}

// Start запускает оба цикла очистки. Вызывается один раз при старте.
func (r *ReaperService) Start(ctx context.Context) {
	reaperCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(2)
	go r.loop(reaperCtx, r.fileInterval, r.sweepFiles)
	go r.loop(reaperCtx, r.requestInterval, r.sweepRequests)

	r.logger.Info("Сборщик запущен",
		slog.String("file_interval", r.fileInterval.String()),
		slog.String("request_interval", r.requestInterval.String()),
	)
}

// Stop останавливает циклы и дожидается их завершения.
func (r *ReaperService) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("Сборщик остановлен")
}

// loop — цикл одной цели очистки.
func (r *ReaperService) loop(ctx context.Context, interval time.Duration, sweep func(ctx context.Context) (int, error)) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx) //nolint:errcheck // ошибки логируются и учитываются в метриках
		}
	}
}

// RunOnce выполняет обе очистки немедленно.
func (r *ReaperService) RunOnce(ctx context.Context) *SweepResult {
	start := time.Now()
	result := &SweepResult{}

	n, err := r.sweepFiles(ctx)
	result.FilesRemoved = n
	if err != nil {
		result.Errors++
	}

	n, err = r.sweepRequests(ctx)
	result.RequestsRemoved = n
	if err != nil {
		result.Errors++
	}

	result.Duration = time.Since(start)
	return result
}

func (r *ReaperService) sweepFiles(ctx context.Context) (int, error) {
	return r.sweep(ctx, targetFiles, r.registry.Sweep)
}

func (r *ReaperService) sweepRequests(ctx context.Context) (int, error) {
	return r.sweep(ctx, targetRequests, r.tracker.Sweep)
}

// sweep выполняет очистку одной цели с учётом метрик.
func (r *ReaperService) sweep(ctx context.Context, target string, fn func(ctx context.Context) (int, error)) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	removed, err := fn(ctx)
	duration := time.Since(start)

	reaperRunsTotal.WithLabelValues(target).Inc()
	reaperDurationSeconds.WithLabelValues(target).Observe(duration.Seconds())

	if err != nil {
		reaperErrorsTotal.WithLabelValues(target).Inc()
		r.logger.Error("Ошибка очистки",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, err
	}

	reaperRemovedTotal.WithLabelValues(target).Add(float64(removed))
	if removed > 0 {
		r.logger.Info("Очистка завершена",
			slog.String("target", target),
			slog.Int("removed", removed),
			slog.Duration("duration", duration),
		)
	}
	return removed, nil
}
