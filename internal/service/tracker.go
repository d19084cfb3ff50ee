// tracker.go — эксклюзивность запросов: не более одного живого активного
// запроса на пользователя. Запрос живёт, пока now − start_time < TTL.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/stream-gateway/internal/clock"
	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
	"github.com/bigkaa/goartstore/stream-gateway/internal/repository"
)

var trackerAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sg_request_acquire_total",
	Help: "Попытки захвата активного запроса (acquired, conflict, error).",
}, []string{"result"})

// TrackerService — учёт активных запросов пользователей.
type TrackerService struct {
	repo   repository.RequestRepository
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger
}

// NewTrackerService создаёт трекер с TTL эксклюзивности ttl.
func NewTrackerService(repo repository.RequestRepository, clk clock.Clock, ttl time.Duration, logger *slog.Logger) *TrackerService {
	return &TrackerService{
		repo:   repo,
		clock:  clk,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "request_tracker")),
	}
}

// TTL возвращает время жизни активного запроса.
func (s *TrackerService) TTL() time.Duration { return s.ttl }

// Acquire создаёт активный запрос со статусом processing.
// Живой запрос того же пользователя — ErrConflict; устаревший заменяется.
func (s *TrackerService) Acquire(ctx context.Context, userID int64, requestType string, info *model.RequestFileInfo) (*model.ActiveRequest, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: user_id обязателен", ErrValidation)
	}
	if strings.TrimSpace(requestType) == "" {
		return nil, fmt.Errorf("%w: request_type обязателен", ErrValidation)
	}

	now := s.clock.Now()
	req := &model.ActiveRequest{
		UserID:      userID,
		RequestType: requestType,
		Status:      model.RequestProcessing,
		StartTime:   now,
		UpdatedTime: now,
		FileInfo:    info,
	}

	if err := s.repo.Acquire(ctx, req, now.Add(-s.ttl)); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			trackerAcquireTotal.WithLabelValues("conflict").Inc()
			return nil, fmt.Errorf("пользователь %d: %w", userID, ErrConflict)
		}
		trackerAcquireTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("захват запроса пользователя %d: %w", userID, err)
	}

	trackerAcquireTotal.WithLabelValues("acquired").Inc()
	s.logger.Debug("Активный запрос создан",
		slog.Int64("user_id", userID),
		slog.String("request_type", requestType),
	)
	return req, nil
}

// SetStatus меняет статус активного запроса. Отсутствие запроса — не ошибка.
func (s *TrackerService) SetStatus(ctx context.Context, userID int64, status model.RequestStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: неизвестный статус %q", ErrValidation, status)
	}
	if err := s.repo.UpdateStatus(ctx, userID, status, s.clock.Now()); err != nil {
		return fmt.Errorf("изменение статуса запроса пользователя %d: %w", userID, err)
	}
	return nil
}

// Get возвращает живой активный запрос пользователя.
// Отсутствующий или устаревший запрос — ErrNotFound.
func (s *TrackerService) Get(ctx context.Context, userID int64) (*model.ActiveRequest, error) {
	req, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("активный запрос пользователя %d: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("получение запроса пользователя %d: %w", userID, err)
	}
	if !req.Live(s.clock.Now(), s.ttl) {
		return nil, fmt.Errorf("активный запрос пользователя %d устарел: %w", userID, ErrNotFound)
	}
	return req, nil
}

// Release удаляет активный запрос пользователя.
func (s *TrackerService) Release(ctx context.Context, userID int64) error {
	if _, err := s.repo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("освобождение запроса пользователя %d: %w", userID, err)
	}
	return nil
}

// Revoke отменяет активный запрос пользователя.
// Возвращает true, если запрос существовал.
func (s *TrackerService) Revoke(ctx context.Context, userID int64) (bool, error) {
	existed, err := s.repo.Delete(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("отмена запроса пользователя %d: %w", userID, err)
	}
	if existed {
		s.logger.Info("Активный запрос отменён", slog.Int64("user_id", userID))
	}
	return existed, nil
}

// Sweep удаляет устаревшие запросы и возвращает их количество.
func (s *TrackerService) Sweep(ctx context.Context) (int, error) {
	removed, err := s.repo.DeleteStale(ctx, s.clock.Now().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("удаление устаревших запросов: %w", err)
	}
	return removed, nil
}
