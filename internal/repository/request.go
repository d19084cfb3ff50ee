package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
)

// requestColumns — список столбцов таблицы active_requests.
const requestColumns = `user_id, request_type, status, start_time, updated_time, file_info`

// RequestRepository — хранилище активных запросов пользователей (не более одного на user_id).
type RequestRepository interface {
	// Acquire атомарно создаёт запрос или заменяет устаревший (start_time <= staleBefore).
	// Если существует живой запрос — ErrConflict.
	Acquire(ctx context.Context, req *model.ActiveRequest, staleBefore time.Time) error
	// GetByUserID возвращает запрос пользователя (живой или нет) либо ErrNotFound.
	GetByUserID(ctx context.Context, userID int64) (*model.ActiveRequest, error)
	// UpdateStatus меняет статус и updated_time; отсутствие записи — не ошибка.
	UpdateStatus(ctx context.Context, userID int64, status model.RequestStatus, now time.Time) error
	// Delete удаляет запрос. Возвращает true, если запись существовала.
	Delete(ctx context.Context, userID int64) (bool, error)
	// DeleteStale удаляет запросы с start_time <= staleBefore. Возвращает количество удалённых.
	DeleteStale(ctx context.Context, staleBefore time.Time) (int, error)
}

// requestRepo — реализация RequestRepository через pgx.
type requestRepo struct {
	db DBTX
}

// NewRequestRepository создаёт репозиторий активных запросов.
func NewRequestRepository(db DBTX) RequestRepository {
	return &requestRepo{db: db}
}

// Acquire — условный upsert: первичный ключ user_id гарантирует единственность,
// а WHERE в DO UPDATE пропускает замену только устаревшей записи.
func (r *requestRepo) Acquire(ctx context.Context, req *model.ActiveRequest, staleBefore time.Time) error {
	var userID int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO active_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			request_type = EXCLUDED.request_type,
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			updated_time = EXCLUDED.updated_time,
			file_info = EXCLUDED.file_info
		WHERE active_requests.start_time <= $6
		RETURNING user_id`,
		req.UserID, req.RequestType, req.Status, req.StartTime, req.FileInfo, staleBefore,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: у пользователя %d есть активный запрос", ErrConflict, req.UserID)
	}
	if err != nil {
		return fmt.Errorf("ошибка захвата запроса пользователя %d: %w", req.UserID, err)
	}
	return nil
}

func (r *requestRepo) GetByUserID(ctx context.Context, userID int64) (*model.ActiveRequest, error) {
	var req model.ActiveRequest
	err := r.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM active_requests WHERE user_id = $1`, userID,
	).Scan(&req.UserID, &req.RequestType, &req.Status, &req.StartTime, &req.UpdatedTime, &req.FileInfo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения запроса пользователя %d: %w", userID, err)
	}
	return &req, nil
}

func (r *requestRepo) UpdateStatus(ctx context.Context, userID int64, status model.RequestStatus, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE active_requests SET status = $2, updated_time = $3 WHERE user_id = $1`,
		userID, status, now,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса запроса пользователя %d: %w", userID, err)
	}
	return nil
}

func (r *requestRepo) Delete(ctx context.Context, userID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM active_requests WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления запроса пользователя %d: %w", userID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *requestRepo) DeleteStale(ctx context.Context, staleBefore time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM active_requests WHERE start_time <= $1`, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки устаревших запросов: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
