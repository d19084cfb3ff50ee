package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
)

// UserRepository — счётчики ссылок и блокировки пользователей.
type UserRepository interface {
	// GetByID возвращает пользователя или ErrNotFound.
	GetByID(ctx context.Context, userID int64) (*model.User, error)
	// SetBanned блокирует или разблокирует пользователя (создаёт запись при необходимости).
	SetBanned(ctx context.Context, userID int64, banned bool) error
	// IsBanned сообщает, заблокирован ли пользователь. Неизвестный пользователь не заблокирован.
	IsBanned(ctx context.Context, userID int64) (bool, error)
}

// userRepo — реализация UserRepository через pgx.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	var u model.User
	err := r.db.QueryRow(ctx,
		`SELECT user_id, links, banned, created_at FROM users WHERE user_id = $1`, userID,
	).Scan(&u.UserID, &u.Links, &u.Banned, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователя %d: %w", userID, err)
	}
	return &u, nil
}

func (r *userRepo) SetBanned(ctx context.Context, userID int64, banned bool) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (user_id, banned) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET banned = EXCLUDED.banned`,
		userID, banned,
	)
	if err != nil {
		return fmt.Errorf("ошибка изменения блокировки пользователя %d: %w", userID, err)
	}
	return nil
}

func (r *userRepo) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var banned bool
	err := r.db.QueryRow(ctx,
		`SELECT banned FROM users WHERE user_id = $1`, userID,
	).Scan(&banned)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки блокировки пользователя %d: %w", userID, err)
	}
	return banned, nil
}
