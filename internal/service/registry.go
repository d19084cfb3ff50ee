// registry.go — реестр потоковых файлов с TTL и дедупликацией.
// Записи создаются внутренним API, читаются горячим путём /dl и /watch
// (через кэш), удаляются фоновым сборщиком или лениво при чтении
// просроченной записи.
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

// Prometheus-метрики реестра.
var (
	filesRegisteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_files_registered_total",
		Help: "Регистрации файлов (created — новая запись, dedup — существующая).",
	}, []string{"result"})

	lazyEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sg_lazy_evictions_total",
		Help: "Количество просроченных записей, удалённых при чтении.",
	})
)

// RegistryService — реестр записей файлов.
type RegistryService struct {
	files  repository.FileRepository
	users  repository.UserRepository
	cache  *RecordCache
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger
}

// NewRegistryService создаёт реестр. cache может быть nil.
func NewRegistryService(
	files repository.FileRepository,
	users repository.UserRepository,
	cache *RecordCache,
	clk clock.Clock,
	ttl time.Duration,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		files:  files,
		users:  users,
		cache:  cache,
		clock:  clk,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "file_registry")),
	}
}

// TTL возвращает время жизни записи.
func (s *RegistryService) TTL() time.Duration { return s.ttl }

// Now возвращает текущее время часов реестра.
func (s *RegistryService) Now() time.Time { return s.clock.Now() }

// Insert регистрирует файл. Повторная регистрация той же пары
// (владелец, ключ дедупликации) возвращает существующую запись
// с created=false, не продлевая срок жизни.
func (s *RegistryService) Insert(ctx context.Context, meta model.FileMeta) (*model.FileRecord, bool, error) {
	if err := validateMeta(meta); err != nil {
		return nil, false, err
	}

	rec, created, err := s.files.Insert(ctx, meta, s.clock.Now(), s.ttl)
	if errors.Is(err, repository.ErrConflict) {
		// Параллельная вставка той же пары: повтор вернёт победившую запись.
		rec, created, err = s.files.Insert(ctx, meta, s.clock.Now(), s.ttl)
	}
	if err != nil {
		return nil, false, fmt.Errorf("регистрация файла: %w", err)
	}

	if created {
		filesRegisteredTotal.WithLabelValues("created").Inc()
		s.logger.Info("Файл зарегистрирован",
			slog.String("file_id", rec.ID),
			slog.Int64("owner_user_id", rec.OwnerUserID),
			slog.String("file_name", rec.FileName),
			slog.Int64("file_size", rec.FileSize),
			slog.Time("expires_at", rec.ExpiresAt),
		)
	} else {
		filesRegisteredTotal.WithLabelValues("dedup").Inc()
		s.logger.Debug("Файл уже зарегистрирован",
			slog.String("file_id", rec.ID),
			slog.Int64("owner_user_id", rec.OwnerUserID),
		)
	}
	return rec, created, nil
}

// Get возвращает запись по ID (в том числе просроченную, но ещё не удалённую).
// Некорректный или неизвестный ID — ErrNotFound.
func (s *RegistryService) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	if rec, ok := s.cache.Get(id); ok {
		return rec, nil
	}

	rec, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("файл %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("получение файла %s: %w", id, err)
	}
	s.cache.Set(rec)
	return rec, nil
}

// Resolve возвращает живую запись. Просроченная запись удаляется
// на месте и считается отсутствующей.
func (s *RegistryService) Resolve(ctx context.Context, id string) (*model.FileRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Expired(s.clock.Now()) {
		if err := s.Expire(ctx, rec); err != nil {
			s.logger.Warn("Не удалось удалить просроченную запись",
				slog.String("file_id", id),
				slog.String("error", err.Error()),
			)
		}
		return nil, fmt.Errorf("файл %s: срок жизни истёк: %w", id, ErrNotFound)
	}
	return rec, nil
}

// Expire удаляет просроченную запись до её удаления сборщиком.
func (s *RegistryService) Expire(ctx context.Context, rec *model.FileRecord) error {
	s.cache.Delete(rec.ID)
	existed, err := s.files.Delete(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("удаление просроченной записи %s: %w", rec.ID, err)
	}
	if existed {
		lazyEvictionsTotal.Inc()
		s.logger.Info("Просроченная запись удалена при чтении",
			slog.String("file_id", rec.ID),
			slog.Time("expires_at", rec.ExpiresAt),
		)
	}
	return nil
}

// Delete удаляет запись по ID. Отсутствующая запись — ErrNotFound.
func (s *RegistryService) Delete(ctx context.Context, id string) error {
	s.cache.Delete(id)
	existed, err := s.files.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("удаление файла %s: %w", id, err)
	}
	if !existed {
		return fmt.Errorf("файл %s: %w", id, ErrNotFound)
	}
	s.logger.Info("Файл удалён", slog.String("file_id", id))
	return nil
}

// Sweep удаляет все записи с expires_at < now и возвращает их количество.
func (s *RegistryService) Sweep(ctx context.Context) (int, error) {
	removed, err := s.files.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("удаление просроченных файлов: %w", err)
	}
	if removed > 0 {
		s.cache.Purge()
	}
	return removed, nil
}

// AttachDescriptor сохраняет дескриптор потока клиента clientID в записи.
func (s *RegistryService) AttachDescriptor(ctx context.Context, id, clientID string, desc model.StreamDescriptor) error {
	s.cache.Delete(id)
	if err := s.files.SetDescriptor(ctx, id, clientID, desc); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("файл %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("сохранение дескриптора %s/%s: %w", id, clientID, err)
	}
	return nil
}

// ListByOwner возвращает страницу записей владельца и их общее количество.
func (s *RegistryService) ListByOwner(ctx context.Context, ownerUserID int64, limit, offset int) ([]*model.FileRecord, int, error) {
	if limit <= 0 || limit > 1000 {
		return nil, 0, fmt.Errorf("%w: limit должен быть в диапазоне 1..1000", ErrValidation)
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset не может быть отрицательным", ErrValidation)
	}
	records, total, err := s.files.ListByOwner(ctx, ownerUserID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("список файлов пользователя %d: %w", ownerUserID, err)
	}
	return records, total, nil
}

// User возвращает пользователя. Неизвестный пользователь — нулевые счётчики.
func (s *RegistryService) User(ctx context.Context, userID int64) (*model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &model.User{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("получение пользователя %d: %w", userID, err)
	}
	return u, nil
}

// Links возвращает счётчик ссылок пользователя.
func (s *RegistryService) Links(ctx context.Context, userID int64) (int64, error) {
	u, err := s.User(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Links, nil
}

// IsBanned сообщает, заблокирован ли пользователь.
func (s *RegistryService) IsBanned(ctx context.Context, userID int64) (bool, error) {
	banned, err := s.users.IsBanned(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("проверка блокировки пользователя %d: %w", userID, err)
	}
	return banned, nil
}

// SetBanned блокирует или разблокирует пользователя.
func (s *RegistryService) SetBanned(ctx context.Context, userID int64, banned bool) error {
	if err := s.users.SetBanned(ctx, userID, banned); err != nil {
		return fmt.Errorf("изменение блокировки пользователя %d: %w", userID, err)
	}
	s.logger.Info("Блокировка пользователя изменена",
		slog.Int64("user_id", userID),
		slog.Bool("banned", banned),
	)
	return nil
}

// validateMeta проверяет входные данные регистрации.
func validateMeta(meta model.FileMeta) error {
	switch {
	case meta.OwnerUserID == 0:
		return fmt.Errorf("%w: owner_user_id обязателен", ErrValidation)
	case strings.TrimSpace(meta.DedupKey) == "":
		return fmt.Errorf("%w: dedup_key обязателен", ErrValidation)
	case strings.TrimSpace(meta.SourceKey) == "":
		return fmt.Errorf("%w: source_key обязателен", ErrValidation)
	case meta.FileSize < 0:
		return fmt.Errorf("%w: file_size не может быть отрицательным", ErrValidation)
	}
	return nil
}
