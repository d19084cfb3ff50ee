package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
)

// fileColumns — список столбцов таблицы file_records для SELECT-запросов.
const fileColumns = `id, owner_user_id, dedup_key, source_key, mime_type, file_name, file_size,
	from_auth_source, source_channel_id, stream_descriptors, created_at, expires_at`

// FileRepository — интерфейс доступа к записям потоковых файлов.
type FileRepository interface {
	// Insert регистрирует файл с дедупликацией по (owner, dedup_key).
	// Если живая запись с той же парой существует — возвращает её ID и created=false.
	// Просроченная, но ещё не удалённая запись заменяется новой.
	// При создании увеличивает счётчик ссылок владельца.
	Insert(ctx context.Context, meta model.FileMeta, now time.Time, ttl time.Duration) (rec *model.FileRecord, created bool, err error)
	// GetByID возвращает запись по ID. Некорректный ID — ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// Delete удаляет запись (если есть) и уменьшает счётчик ссылок владельца.
	// Возвращает true, если запись существовала.
	Delete(ctx context.Context, id string) (bool, error)
	// DeleteExpired удаляет записи с expires_at < now, уменьшая счётчики
	// ссылок владельцев на одну за каждую запись. Возвращает количество удалённых.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// SetDescriptor присоединяет дескриптор потока клиента clientID к записи.
	SetDescriptor(ctx context.Context, id, clientID string, desc model.StreamDescriptor) error
	// ListByOwner возвращает страницу записей владельца (новые первыми) и общее количество.
	ListByOwner(ctx context.Context, ownerUserID int64, limit, offset int) ([]*model.FileRecord, int, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
	tx *TxRunner
}

// NewFileRepository создаёт репозиторий записей файлов.
func NewFileRepository(db TxBeginner) FileRepository {
	return &fileRepo{db: db, tx: NewTxRunner(db)}
}

// Insert выполняет дедупликацию и вставку в одной транзакции.
// Конкурентная вставка той же пары приводит к unique violation → ErrConflict,
// повторный вызов вернёт запись, победившую в гонке.
func (r *fileRepo) Insert(ctx context.Context, meta model.FileMeta, now time.Time, ttl time.Duration) (*model.FileRecord, bool, error) {
	var (
		rec     *model.FileRecord
		created bool
	)

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		existing, err := scanFileRecord(tx.QueryRow(ctx,
			`SELECT `+fileColumns+` FROM file_records
			WHERE owner_user_id = $1 AND dedup_key = $2
			FOR UPDATE`,
			meta.OwnerUserID, meta.DedupKey,
		))
		switch {
		case err == nil && !existing.Expired(now):
			rec = existing
			return nil
		case err == nil:
			// Просроченная запись ещё не удалена очисткой — заменяем.
			if _, err := tx.Exec(ctx, `DELETE FROM file_records WHERE id = $1`, existing.ID); err != nil {
				return fmt.Errorf("ошибка удаления просроченной записи: %w", err)
			}
			if err := addLinks(ctx, tx, existing.OwnerUserID, -1); err != nil {
				return err
			}
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("ошибка поиска дубликата: %w", err)
		}

		rec, err = scanFileRecord(tx.QueryRow(ctx,
			`INSERT INTO file_records (owner_user_id, dedup_key, source_key, mime_type, file_name,
				file_size, from_auth_source, source_channel_id, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+fileColumns,
			meta.OwnerUserID, meta.DedupKey, meta.SourceKey, meta.MimeType, meta.FileName,
			meta.FileSize, meta.FromAuthSource, meta.SourceChannelID, now, now.Add(ttl),
		))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: файл уже регистрируется конкурентно", ErrConflict)
			}
			return fmt.Errorf("ошибка вставки записи файла: %w", err)
		}
		created = true

		return addLinks(ctx, tx, meta.OwnerUserID, 1)
	})
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}

// GetByID возвращает запись по UUID или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	rec, err := scanFileRecord(r.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM file_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи файла %s: %w", id, err)
	}
	return rec, nil
}

// Delete удаляет запись и уменьшает счётчик ссылок владельца.
func (r *fileRepo) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	var deleted bool
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var owner int64
		err := tx.QueryRow(ctx,
			`DELETE FROM file_records WHERE id = $1 RETURNING owner_user_id`, id,
		).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ошибка удаления записи файла %s: %w", id, err)
		}
		deleted = true
		return addLinks(ctx, tx, owner, -1)
	})
	return deleted, err
}

// DeleteExpired удаляет просроченные записи и корректирует счётчики ссылок.
func (r *fileRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var removed int

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`DELETE FROM file_records WHERE expires_at < $1 RETURNING owner_user_id`, now)
		if err != nil {
			return fmt.Errorf("ошибка удаления просроченных записей: %w", err)
		}
		owners, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("ошибка чтения владельцев: %w", err)
		}

		perOwner := make(map[int64]int64, len(owners))
		for _, owner := range owners {
			perOwner[owner]++
		}
		for owner, n := range perOwner {
			if err := addLinks(ctx, tx, owner, -n); err != nil {
				return err
			}
		}
		removed = len(owners)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// SetDescriptor присоединяет дескриптор клиента к stream_descriptors.
func (r *fileRepo) SetDescriptor(ctx context.Context, id, clientID string, desc model.StreamDescriptor) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE file_records
		SET stream_descriptors = stream_descriptors || jsonb_build_object($2::text, $3::jsonb)
		WHERE id = $1`,
		id, clientID, desc,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения дескриптора %s/%s: %w", id, clientID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByOwner возвращает страницу записей владельца.
func (r *fileRepo) ListByOwner(ctx context.Context, ownerUserID int64, limit, offset int) ([]*model.FileRecord, int, error) {
	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM file_records WHERE owner_user_id = $1`, ownerUserID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей владельца: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+fileColumns+` FROM file_records
		WHERE owner_user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		ownerUserID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения записей владельца: %w", err)
	}
	defer rows.Close()

	var records []*model.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка чтения записи: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации записей: %w", err)
	}
	return records, total, nil
}

// scanFileRecord сканирует строку в FileRecord. pgx.ErrNoRows → ErrNotFound.
func scanFileRecord(row pgx.Row) (*model.FileRecord, error) {
	var rec model.FileRecord
	err := row.Scan(
		&rec.ID, &rec.OwnerUserID, &rec.DedupKey, &rec.SourceKey, &rec.MimeType, &rec.FileName,
		&rec.FileSize, &rec.FromAuthSource, &rec.SourceChannelID, &rec.StreamDescriptors,
		&rec.CreatedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// addLinks изменяет счётчик ссылок пользователя на delta (не ниже нуля).
// Пользователь создаётся при первом обращении.
func addLinks(ctx context.Context, db DBTX, userID, delta int64) error {
	_, err := db.Exec(ctx,
		`INSERT INTO users (user_id, links) VALUES ($1, GREATEST($2::bigint, 0))
		ON CONFLICT (user_id) DO UPDATE SET links = GREATEST(users.links + $2::bigint, 0)`,
		userID, delta,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления счётчика ссылок пользователя %d: %w", userID, err)
	}
	return nil
}
