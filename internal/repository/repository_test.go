package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/stream-gateway/internal/database"
	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
	"github.com/bigkaa/goartstore/stream-gateway/internal/testutil"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	cfg := testutil.StartPostgres(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}
	pool, err := database.Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func testMeta(owner int64, key string) model.FileMeta {
	return model.FileMeta{
		OwnerUserID: owner,
		DedupKey:    key,
		SourceKey:   "objects/" + key,
		MimeType:    "video/mp4",
		FileName:    key + ".mp4",
		FileSize:    1024,
	}
}

func links(t *testing.T, users UserRepository, owner int64) int64 {
	t.Helper()
	u, err := users.GetByID(context.Background(), owner)
	if errors.Is(err, ErrNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("GetByID(%d) вернул ошибку: %v", owner, err)
	}
	return u.Links
}

// TestFileRepository_InsertDedup проверяет дедупликацию по (owner, dedup_key).
func TestFileRepository_InsertDedup(t *testing.T) {
	pool := setupTestDB(t)
	files := NewFileRepository(pool)
	users := NewUserRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first, created, err := files.Insert(ctx, testMeta(42, "abc"), now, time.Hour)
	if err != nil || !created {
		t.Fatalf("первый Insert: created=%v, err=%v", created, err)
	}
	second, created, err := files.Insert(ctx, testMeta(42, "abc"), now.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("второй Insert вернул ошибку: %v", err)
	}
	if created {
		t.Error("второй Insert создал дубликат")
	}
	if second.ID != first.ID {
		t.Errorf("ID = %s, ожидался %s", second.ID, first.ID)
	}
	if !second.ExpiresAt.Equal(first.ExpiresAt) {
		t.Errorf("expires_at изменился: %v → %v", first.ExpiresAt, second.ExpiresAt)
	}
	if got := links(t, users, 42); got != 1 {
		t.Errorf("links = %d, ожидался 1", got)
	}
}

// TestFileRepository_InsertReplacesExpired проверяет замену просроченной записи.
func TestFileRepository_InsertReplacesExpired(t *testing.T) {
	pool := setupTestDB(t)
	files := NewFileRepository(pool)
	users := NewUserRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	old, _, err := files.Insert(ctx, testMeta(7, "k"), now.Add(-2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("Insert вернул ошибку: %v", err)
	}
	fresh, created, err := files.Insert(ctx, testMeta(7, "k"), now, time.Hour)
	if err != nil || !created {
		t.Fatalf("повторный Insert: created=%v, err=%v", created, err)
	}
	if fresh.ID == old.ID {
		t.Error("просроченная запись не заменена")
	}
	if _, err := files.GetByID(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("старая запись осталась: err=%v", err)
	}
	if got := links(t, users, 7); got != 1 {
		t.Errorf("links = %d, ожидался 1", got)
	}
}

// TestFileRepository_InsertConcurrent проверяет, что конкурентные вставки одной пары
// дают одну запись; проигравшие получают ErrConflict или существующий ID.
func TestFileRepository_InsertConcurrent(t *testing.T) {
	pool := setupTestDB(t)
	files := NewFileRepository(pool)
	users := NewUserRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := files.Insert(ctx, testMeta(9, "race"), now, time.Hour)
			if err != nil && !errors.Is(err, ErrConflict) {
				t.Errorf("Insert вернул ошибку: %v", err)
			}
		}()
	}
	wg.Wait()

	_, total, err := files.ListByOwner(ctx, 9, 10, 0)
	if err != nil {
		t.Fatalf("ListByOwner вернул ошибку: %v", err)
	}
	if total != 1 {
		t.Errorf("записей = %d, ожидалась 1", total)
	}
	if got := links(t, users, 9); got != 1 {
		t.Errorf("links = %d, ожидался 1", got)
	}
}

// TestFileRepository_GetByID_Malformed проверяет, что некорректный ID — ErrNotFound.
func TestFileRepository_GetByID_Malformed(t *testing.T) {
	pool := setupTestDB(t)
	files := NewFileRepository(pool)

	for _, id := range []string{"", "not-a-uuid", "00000000-0000-0000-0000-000000000000"} {
		if _, err := files.GetByID(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByID(%q) err = %v, ожидался ErrNotFound", id, err)
		}
	}
}

// TestFileRepository_DeleteExpired проверяет очистку и корректировку счётчиков.
func TestFileRepository_DeleteExpired(t *testing.T) {
	pool := setupTestDB(t)
	files := NewFileRepository(pool)
	users := NewUserRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, key := range []string{"e1", "e2"} {
		if _, _, err := files.Insert(ctx, testMeta(1, key), now.Add(-2*time.Hour), time.Hour); err != nil {
			t.Fatalf("Insert вернул ошибку: %v", err)
		}
	}
	if _, _, err := files.Insert(ctx, testMeta(2, "e3"), now.Add(-2*time.Hour), time.Hour); err != nil {
		t.Fatalf("Insert вернул ошибку: %v", err)
	}
	live, _, err := files.Insert(ctx, testMeta(1, "live"), now, time.Hour)
	if err != nil {
		t.Fatalf("Insert вернул ошибку: %v", err)
	}

	removed, err := files.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired вернул ошибку: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, ожидалось 3", removed)
	}
	if _, err := files.GetByID(ctx, live.ID); err != nil {
		t.Errorf("живая запись удалена: %v", err)
	}
	if got := links(t, users, 1); got != 1 {
		t.Errorf("links(1) = %d, ожидался 1", got)
	}
	if got := links(t, users, 2); got != 0 {
		t.Errorf("links(2) = %d, ожидался 0", got)
	}
}

// TestFileRepository_SetDescriptor проверяет присоединение дескрипторов клиентов.
func TestFileRepository_SetDescriptor(t *testing.T) {
	pool := setupTestDB(t)
	files := NewFileRepository(pool)
	ctx := context.Background()

	rec, _, err := files.Insert(ctx, testMeta(3, "d"), time.Now().UTC(), time.Hour)
	if err != nil {
		t.Fatalf("Insert вернул ошибку: %v", err)
	}

	desc := model.StreamDescriptor{Key: "objects/d", Size: 1024, ContentType: "video/mp4"}
	if err := files.SetDescriptor(ctx, rec.ID, "p1", desc); err != nil {
		t.Fatalf("SetDescriptor вернул ошибку: %v", err)
	}
	if err := files.SetDescriptor(ctx, rec.ID, "p2", model.StreamDescriptor{Key: "other", Size: 1}); err != nil {
		t.Fatalf("SetDescriptor вернул ошибку: %v", err)
	}

	got, err := files.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID вернул ошибку: %v", err)
	}
	if got.StreamDescriptors["p1"] != desc {
		t.Errorf("дескриптор p1 = %+v, ожидался %+v", got.StreamDescriptors["p1"], desc)
	}
	if len(got.StreamDescriptors) != 2 {
		t.Errorf("дескрипторов = %d, ожидалось 2", len(got.StreamDescriptors))
	}

	if err := files.SetDescriptor(ctx, "00000000-0000-0000-0000-000000000000", "p1", desc); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetDescriptor для отсутствующей записи: err = %v, ожидался ErrNotFound", err)
	}
}

// TestRequestRepository_Acquire проверяет условный захват эксклюзивности.
func TestRequestRepository_Acquire(t *testing.T) {
	pool := setupTestDB(t)
	requests := NewRequestRepository(pool)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Microsecond)
	ttl := 5 * time.Minute

	req := &model.ActiveRequest{
		UserID:      100,
		RequestType: "file_upload",
		Status:      model.RequestProcessing,
		StartTime:   start,
		FileInfo:    &model.RequestFileInfo{FileName: "a.mp4", FileSize: 10},
	}
	if err := requests.Acquire(ctx, req, start.Add(-ttl)); err != nil {
		t.Fatalf("Acquire вернул ошибку: %v", err)
	}

	// Через 4 минуты — конфликт.
	again := *req
	again.StartTime = start.Add(4 * time.Minute)
	if err := requests.Acquire(ctx, &again, again.StartTime.Add(-ttl)); !errors.Is(err, ErrConflict) {
		t.Fatalf("Acquire через 4m: err = %v, ожидался ErrConflict", err)
	}

	// Через 6 минут — устаревшая запись заменяется.
	again.StartTime = start.Add(6 * time.Minute)
	again.FileInfo = nil
	if err := requests.Acquire(ctx, &again, again.StartTime.Add(-ttl)); err != nil {
		t.Fatalf("Acquire через 6m вернул ошибку: %v", err)
	}

	got, err := requests.GetByUserID(ctx, 100)
	if err != nil {
		t.Fatalf("GetByUserID вернул ошибку: %v", err)
	}
	if !got.StartTime.Equal(again.StartTime) {
		t.Errorf("start_time = %v, ожидался %v", got.StartTime, again.StartTime)
	}
	if got.FileInfo != nil {
		t.Errorf("file_info = %+v, ожидался nil", got.FileInfo)
	}
}

// TestRequestRepository_StatusAndDelete проверяет смену статуса, удаление и очистку.
func TestRequestRepository_StatusAndDelete(t *testing.T) {
	pool := setupTestDB(t)
	requests := NewRequestRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, start := range []time.Time{now, now.Add(-10 * time.Minute)} {
		req := &model.ActiveRequest{UserID: int64(200 + i), RequestType: "link", Status: model.RequestProcessing, StartTime: start}
		if err := requests.Acquire(ctx, req, start.Add(-5*time.Minute)); err != nil {
			t.Fatalf("Acquire вернул ошибку: %v", err)
		}
	}

	if err := requests.UpdateStatus(ctx, 200, model.RequestGeneratingLink, now.Add(time.Second)); err != nil {
		t.Fatalf("UpdateStatus вернул ошибку: %v", err)
	}
	got, err := requests.GetByUserID(ctx, 200)
	if err != nil {
		t.Fatalf("GetByUserID вернул ошибку: %v", err)
	}
	if got.Status != model.RequestGeneratingLink {
		t.Errorf("status = %q, ожидался generating_link", got.Status)
	}
	// Отсутствующая запись — no-op.
	if err := requests.UpdateStatus(ctx, 999, model.RequestCompleted, now); err != nil {
		t.Errorf("UpdateStatus для отсутствующей записи вернул ошибку: %v", err)
	}

	removed, err := requests.DeleteStale(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("DeleteStale вернул ошибку: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, ожидалось 1", removed)
	}

	deleted, err := requests.Delete(ctx, 200)
	if err != nil || !deleted {
		t.Errorf("Delete(200) = %v, %v; ожидалось true, nil", deleted, err)
	}
	deleted, err = requests.Delete(ctx, 200)
	if err != nil || deleted {
		t.Errorf("повторный Delete(200) = %v, %v; ожидалось false, nil", deleted, err)
	}
}

// TestUserRepository_Ban проверяет блокировку и разблокировку.
func TestUserRepository_Ban(t *testing.T) {
	pool := setupTestDB(t)
	users := NewUserRepository(pool)
	ctx := context.Background()

	banned, err := users.IsBanned(ctx, 5)
	if err != nil || banned {
		t.Fatalf("IsBanned(неизвестный) = %v, %v", banned, err)
	}
	if err := users.SetBanned(ctx, 5, true); err != nil {
		t.Fatalf("SetBanned вернул ошибку: %v", err)
	}
	if banned, _ := users.IsBanned(ctx, 5); !banned {
		t.Error("пользователь не заблокирован")
	}
	if err := users.SetBanned(ctx, 5, false); err != nil {
		t.Fatalf("SetBanned вернул ошибку: %v", err)
	}
	if banned, _ := users.IsBanned(ctx, 5); banned {
		t.Error("пользователь не разблокирован")
	}
}
