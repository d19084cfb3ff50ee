package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
	"github.com/bigkaa/goartstore/stream-gateway/internal/repository/memstore"
	"github.com/bigkaa/goartstore/stream-gateway/internal/testutil"
)

func newTestTracker(t *testing.T) (*TrackerService, *testutil.StubClock) {
	t.Helper()
	clk := testutil.FixedClock()
	return NewTrackerService(memstore.New().Requests(), clk, 5*time.Minute, testLogger()), clk
}

// TestTracker_AcquireWithinTTL — повторный захват через 4 минуты отклоняется,
// через 6 минут устаревший запрос заменяется.
func TestTracker_AcquireWithinTTL(t *testing.T) {
	tr, clk := newTestTracker(t)
	ctx := context.Background()
	info := &model.RequestFileInfo{FileName: "a.mp4", FileSize: 10}

	if _, err := tr.Acquire(ctx, 100, "download", info); err != nil {
		t.Fatalf("первый Acquire: %v", err)
	}

	clk.Advance(4 * time.Minute)
	if _, err := tr.Acquire(ctx, 100, "download", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("Acquire через 4 минуты: err = %v, ожидался ErrConflict", err)
	}

	clk.Advance(2 * time.Minute)
	req, err := tr.Acquire(ctx, 100, "stream", nil)
	if err != nil {
		t.Fatalf("Acquire через 6 минут: %v", err)
	}
	if req.Status != model.RequestProcessing || !req.StartTime.Equal(clk.Now()) {
		t.Errorf("новый запрос = %+v", req)
	}

	got, err := tr.Get(ctx, 100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RequestType != "stream" || got.FileInfo != nil {
		t.Errorf("Get = %+v, ожидался новый запрос stream", got)
	}
}

// TestTracker_ReleaseAllowsAcquire проверяет захват сразу после освобождения.
func TestTracker_ReleaseAllowsAcquire(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	tr.Acquire(ctx, 1, "download", nil) //nolint:errcheck
	if err := tr.Release(ctx, 1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := tr.Release(ctx, 1); err != nil {
		t.Errorf("повторный Release: %v", err)
	}
	if _, err := tr.Acquire(ctx, 1, "download", nil); err != nil {
		t.Errorf("Acquire после Release: %v", err)
	}
}

func TestTracker_SetStatus(t *testing.T) {
	tr, clk := newTestTracker(t)
	ctx := context.Background()

	tr.Acquire(ctx, 1, "download", nil) //nolint:errcheck
	clk.Advance(time.Second)

	if err := tr.SetStatus(ctx, 1, model.RequestGeneratingLink); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, _ := tr.Get(ctx, 1)
	if got.Status != model.RequestGeneratingLink || !got.UpdatedTime.Equal(clk.Now()) {
		t.Errorf("Get = %+v", got)
	}

	if err := tr.SetStatus(ctx, 1, "finished"); !errors.Is(err, ErrValidation) {
		t.Errorf("SetStatus(finished): err = %v, ожидался ErrValidation", err)
	}
	if err := tr.SetStatus(ctx, 404, model.RequestCompleted); err != nil {
		t.Errorf("SetStatus отсутствующего запроса: %v", err)
	}
}

func TestTracker_GetStale(t *testing.T) {
	tr, clk := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.Get(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get без запроса: err = %v, ожидался ErrNotFound", err)
	}

	tr.Acquire(ctx, 1, "download", nil) //nolint:errcheck
	clk.Advance(5 * time.Minute)
	if _, err := tr.Get(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get устаревшего запроса: err = %v, ожидался ErrNotFound", err)
	}
}

func TestTracker_Revoke(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	tr.Acquire(ctx, 1, "download", nil) //nolint:errcheck
	if revoked, err := tr.Revoke(ctx, 1); err != nil || !revoked {
		t.Errorf("Revoke = %v, %v; ожидалось true", revoked, err)
	}
	if revoked, _ := tr.Revoke(ctx, 1); revoked {
		t.Error("повторный Revoke вернул true")
	}
}

func TestTracker_Sweep(t *testing.T) {
	tr, clk := newTestTracker(t)
	ctx := context.Background()

	tr.Acquire(ctx, 1, "download", nil) //nolint:errcheck
	clk.Advance(3 * time.Minute)
	tr.Acquire(ctx, 2, "download", nil) //nolint:errcheck
	clk.Advance(3 * time.Minute)

	removed, err := tr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, ожидалось 1", removed)
	}
	if _, err := tr.Get(ctx, 2); err != nil {
		t.Errorf("живой запрос удалён: %v", err)
	}
}

func TestTracker_AcquireValidation(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Acquire(context.Background(), 0, "download", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("user_id=0: err = %v, ожидался ErrValidation", err)
	}
	if _, err := tr.Acquire(context.Background(), 1, " ", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("пустой request_type: err = %v, ожидался ErrValidation", err)
	}
}

// TestTracker_ConcurrentAcquire проверяет, что из параллельных захватов
// одного пользователя успешен ровно один.
func TestTracker_ConcurrentAcquire(t *testing.T) {
	tr, _ := newTestTracker(t)

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Acquire(context.Background(), 77, "download", nil); err == nil {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if acquired.Load() != 1 {
		t.Errorf("успешных захватов %d, ожидался 1", acquired.Load())
	}
}
