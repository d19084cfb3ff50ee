// Пакет memstore — хранилище в памяти процесса с той же семантикой,
// что и PostgreSQL-репозитории. Используется в режиме SG_STORE=memory и в тестах.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
	"github.com/bigkaa/goartstore/stream-gateway/internal/repository"
)

// Store — общее состояние: записи файлов, пользователи, активные запросы.
// Все операции выполняются под одним мьютексом.
type Store struct {
	mu       sync.Mutex
	files    map[string]*model.FileRecord
	dedup    map[dedupKey]string
	users    map[int64]*model.User
	requests map[int64]*model.ActiveRequest
}

type dedupKey struct {
	owner int64
	key   string
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		files:    make(map[string]*model.FileRecord),
		dedup:    make(map[dedupKey]string),
		users:    make(map[int64]*model.User),
		requests: make(map[int64]*model.ActiveRequest),
	}
}

// Files возвращает репозиторий записей файлов.
func (s *Store) Files() repository.FileRepository { return (*fileRepo)(s) }

// Users возвращает репозиторий пользователей.
func (s *Store) Users() repository.UserRepository { return (*userRepo)(s) }

// Requests возвращает репозиторий активных запросов.
func (s *Store) Requests() repository.RequestRepository { return (*requestRepo)(s) }

// addLinksLocked изменяет счётчик ссылок (не ниже нуля). Вызывается под s.mu.
func (s *Store) addLinksLocked(userID, delta int64, now time.Time) {
	u, ok := s.users[userID]
	if !ok {
		u = &model.User{UserID: userID, CreatedAt: now}
		s.users[userID] = u
	}
	u.Links = max(u.Links+delta, 0)
}

// deleteFileLocked удаляет запись и уменьшает счётчик владельца. Вызывается под s.mu.
func (s *Store) deleteFileLocked(rec *model.FileRecord, now time.Time) {
	delete(s.files, rec.ID)
	delete(s.dedup, dedupKey{owner: rec.OwnerUserID, key: rec.DedupKey})
	s.addLinksLocked(rec.OwnerUserID, -1, now)
}

// --- Файлы ---

type fileRepo Store

func (r *fileRepo) Insert(_ context.Context, meta model.FileMeta, now time.Time, ttl time.Duration) (*model.FileRecord, bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	k := dedupKey{owner: meta.OwnerUserID, key: meta.DedupKey}
	if id, ok := s.dedup[k]; ok {
		existing := s.files[id]
		if !existing.Expired(now) {
			return cloneFile(existing), false, nil
		}
		s.deleteFileLocked(existing, now)
	}

	rec := &model.FileRecord{
		ID:                uuid.NewString(),
		OwnerUserID:       meta.OwnerUserID,
		DedupKey:          meta.DedupKey,
		SourceKey:         meta.SourceKey,
		MimeType:          meta.MimeType,
		FileName:          meta.FileName,
		FileSize:          meta.FileSize,
		FromAuthSource:    meta.FromAuthSource,
		SourceChannelID:   meta.SourceChannelID,
		StreamDescriptors: map[string]model.StreamDescriptor{},
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}
	s.files[rec.ID] = rec
	s.dedup[k] = rec.ID
	s.addLinksLocked(meta.OwnerUserID, 1, now)

	return cloneFile(rec), true, nil
}

func (r *fileRepo) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneFile(rec), nil
}

func (r *fileRepo) Delete(_ context.Context, id string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.files[id]
	if !ok {
		return false, nil
	}
	s.deleteFileLocked(rec, time.Now().UTC())
	return true, nil
}

func (r *fileRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, rec := range s.files {
		if rec.ExpiresAt.Before(now) {
			s.deleteFileLocked(rec, now)
			removed++
		}
	}
	return removed, nil
}

func (r *fileRepo) SetDescriptor(_ context.Context, id, clientID string, desc model.StreamDescriptor) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.files[id]
	if !ok {
		return repository.ErrNotFound
	}
	rec.StreamDescriptors[clientID] = desc
	return nil
}

func (r *fileRepo) ListByOwner(_ context.Context, ownerUserID int64, limit, offset int) ([]*model.FileRecord, int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var owned []*model.FileRecord
	for _, rec := range s.files {
		if rec.OwnerUserID == ownerUserID {
			owned = append(owned, rec)
		}
	}
	slices.SortFunc(owned, func(a, b *model.FileRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})

	total := len(owned)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)

	page := make([]*model.FileRecord, 0, end-offset)
	for _, rec := range owned[offset:end] {
		page = append(page, cloneFile(rec))
	}
	return page, total, nil
}

// cloneFile возвращает копию записи, чтобы вызывающий не менял состояние хранилища.
func cloneFile(rec *model.FileRecord) *model.FileRecord {
	c := *rec
	c.StreamDescriptors = make(map[string]model.StreamDescriptor, len(rec.StreamDescriptors))
	for k, v := range rec.StreamDescriptors {
		c.StreamDescriptors[k] = v
	}
	return &c
}

// --- Пользователи ---

type userRepo Store

func (r *userRepo) GetByID(_ context.Context, userID int64) (*model.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *userRepo) SetBanned(_ context.Context, userID int64, banned bool) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = &model.User{UserID: userID, CreatedAt: time.Now().UTC()}
		s.users[userID] = u
	}
	u.Banned = banned
	return nil
}

func (r *userRepo) IsBanned(_ context.Context, userID int64) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	return ok && u.Banned, nil
}

// --- Активные запросы ---

type requestRepo Store

func (r *requestRepo) Acquire(_ context.Context, req *model.ActiveRequest, staleBefore time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.requests[req.UserID]; ok && existing.StartTime.After(staleBefore) {
		return repository.ErrConflict
	}

	c := *req
	c.UpdatedTime = c.StartTime
	if req.FileInfo != nil {
		fi := *req.FileInfo
		c.FileInfo = &fi
	}
	s.requests[req.UserID] = &c
	return nil
}

func (r *requestRepo) GetByUserID(_ context.Context, userID int64) (*model.ActiveRequest, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *req
	return &c, nil
}

func (r *requestRepo) UpdateStatus(_ context.Context, userID int64, status model.RequestStatus, now time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if req, ok := s.requests[userID]; ok {
		req.Status = status
		req.UpdatedTime = now
	}
	return nil
}

func (r *requestRepo) Delete(_ context.Context, userID int64) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.requests[userID]
	delete(s.requests, userID)
	return ok, nil
}

func (r *requestRepo) DeleteStale(_ context.Context, staleBefore time.Time) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, req := range s.requests {
		if !req.StartTime.After(staleBefore) {
			delete(s.requests, userID)
			removed++
		}
	}
	return removed, nil
}
