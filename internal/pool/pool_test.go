package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bigkaa/goartstore/stream-gateway/internal/backend"
)

// fakeTransport — транспорт-заглушка с поля-функциями.
type fakeTransport struct {
	id      string
	startFn func(ctx context.Context) error
	stopped atomic.Int32
}

func (f *fakeTransport) Start(ctx context.Context) error {
	if f.startFn != nil {
		return f.startFn(ctx)
	}
	return nil
}
func (f *fakeTransport) ID() string { return f.id }
func (f *fakeTransport) Stat(context.Context, string) (*backend.ObjectInfo, error) {
	return &backend.ObjectInfo{}, nil
}
func (f *fakeTransport) FetchRange(context.Context, string, int64, int64) ([]byte, error) {
	return nil, nil
}
func (f *fakeTransport) Stop(context.Context) error {
	f.stopped.Add(1)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPool создаёт пул с основным клиентом и обработчиками p1..pN.
func newTestPool(t *testing.T, processors ...string) (*Pool, *fakeTransport, map[string]*fakeTransport) {
	t.Helper()
	primary := &fakeTransport{id: "primary"}
	p := New(primary, testLogger())

	created := make(map[string]*fakeTransport)
	var mu sync.Mutex
	specs := make([]backend.Spec, 0, len(processors))
	for _, name := range processors {
		specs = append(specs, backend.Spec{Name: name, URL: "mem://"})
	}
	p.Initialize(context.Background(), specs, func(spec backend.Spec) (backend.Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		tr := &fakeTransport{id: spec.Name}
		created[spec.Name] = tr
		return tr, nil
	})
	return p, primary, created
}

// TestPool_InactiveFallsBackToPrimary проверяет откат на основного клиента без обработчиков.
func TestPool_InactiveFallsBackToPrimary(t *testing.T) {
	p, _, _ := newTestPool(t)

	if p.Stats().Active {
		t.Error("пул без обработчиков активен")
	}
	if c := p.LeastLoaded(); c == nil || !c.Primary() {
		t.Errorf("LeastLoaded() = %v, ожидался основной клиент", c)
	}
	if c := p.RandomPick(); c == nil || !c.Primary() {
		t.Errorf("RandomPick() = %v, ожидался основной клиент", c)
	}
}

// TestPool_InitializeExcludesFailed проверяет исключение клиентов, не сумевших запуститься.
func TestPool_InitializeExcludesFailed(t *testing.T) {
	p := New(&fakeTransport{id: "primary"}, testLogger())
	specs := []backend.Spec{{Name: "ok"}, {Name: "broken"}, {Name: "unbuildable"}}

	p.Initialize(context.Background(), specs, func(spec backend.Spec) (backend.Transport, error) {
		switch spec.Name {
		case "broken":
			return &fakeTransport{id: spec.Name, startFn: func(context.Context) error {
				return errors.New("connection refused")
			}}, nil
		case "unbuildable":
			return nil, errors.New("bad url")
		}
		return &fakeTransport{id: spec.Name}, nil
	})

	st := p.Stats()
	if !st.Active || st.Processors != 1 || st.Loads[0].Client != "ok" {
		t.Errorf("Stats() = %+v, ожидался один активный обработчик ok", st)
	}
}

// TestPool_LeastLoadedDeterministicTieBreak проверяет выбор первого по порядку регистрации при равенстве.
func TestPool_LeastLoadedDeterministicTieBreak(t *testing.T) {
	p, _, _ := newTestPool(t, "p1", "p2", "p3")

	for range 10 {
		if c := p.LeastLoaded(); c.ID() != "p1" {
			t.Fatalf("LeastLoaded() = %s, ожидался p1", c.ID())
		}
	}

	p1 := p.LeastLoaded()
	p.Lease(p1)
	if c := p.LeastLoaded(); c.ID() != "p2" {
		t.Errorf("после Lease(p1) LeastLoaded() = %s, ожидался p2", c.ID())
	}
}

// TestPool_LeastLoadedIsMinimal проверяет минимальность нагрузки выбранного клиента
// и возврат счётчиков после парных Lease/Release.
func TestPool_LeastLoadedIsMinimal(t *testing.T) {
	p, _, _ := newTestPool(t, "p1", "p2", "p3")

	var leases []*Lease
	for range 7 {
		l, err := p.Acquire()
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		leases = append(leases, l)

		chosen := p.LeastLoaded()
		for _, e := range p.Stats().Loads {
			if e.Load < p.Load(chosen) {
				t.Fatalf("LeastLoaded() = %s (%d), но у %s нагрузка %d", chosen.ID(), p.Load(chosen), e.Client, e.Load)
			}
		}
	}

	// 7 захватов на 3 клиентах распределяются 3/2/2.
	loads := p.Stats().Loads
	if loads[0].Load != 3 || loads[1].Load != 2 || loads[2].Load != 2 {
		t.Errorf("нагрузка = %+v, ожидалось 3/2/2", loads)
	}

	for _, l := range leases {
		l.Release()
		l.Release() // повторный Release — no-op
	}
	for _, e := range p.Stats().Loads {
		if e.Load != 0 {
			t.Errorf("нагрузка %s = %d после освобождения, ожидался 0", e.Client, e.Load)
		}
	}
}

// TestPool_ReleaseFloorsAtZero проверяет, что счётчик не уходит ниже нуля.
func TestPool_ReleaseFloorsAtZero(t *testing.T) {
	p, _, _ := newTestPool(t, "p1")
	c := p.LeastLoaded()

	p.Release(c)
	p.Release(c)
	if got := p.Load(c); got != 0 {
		t.Errorf("Load = %d, ожидался 0", got)
	}
	p.Lease(c)
	if got := p.Load(c); got != 1 {
		t.Errorf("Load = %d, ожидался 1", got)
	}
}

// TestPool_RandomPickCoversProcessors проверяет, что RandomPick выбирает только обработчиков.
func TestPool_RandomPickCoversProcessors(t *testing.T) {
	p, _, _ := newTestPool(t, "p1", "p2")

	seen := map[string]bool{}
	for range 200 {
		c := p.RandomPick()
		if c.Primary() {
			t.Fatal("RandomPick() вернул основного клиента при активном пуле")
		}
		seen[c.ID()] = true
	}
	if !seen["p1"] || !seen["p2"] {
		t.Errorf("RandomPick() за 200 попыток выбрал только %v", seen)
	}
}

// TestPool_AcquireEmpty проверяет ErrNoClients для пустого пула.
func TestPool_AcquireEmpty(t *testing.T) {
	p := New(nil, testLogger())
	if _, err := p.Acquire(); !errors.Is(err, ErrNoClients) {
		t.Errorf("Acquire() err = %v, ожидался ErrNoClients", err)
	}
}

// TestPool_ShutdownAll проверяет остановку обработчиков и сохранение основного клиента.
func TestPool_ShutdownAll(t *testing.T) {
	p, primary, created := newTestPool(t, "p1", "p2")

	lease, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	stopped := p.ShutdownAll(context.Background())
	if len(stopped) != 2 {
		t.Errorf("остановлено %d клиентов, ожидалось 2", len(stopped))
	}
	if again := p.ShutdownAll(context.Background()); len(again) != 0 {
		t.Errorf("повторный ShutdownAll остановил %d клиентов", len(again))
	}
	for name, tr := range created {
		if tr.stopped.Load() != 1 {
			t.Errorf("клиент %s остановлен %d раз, ожидался 1", name, tr.stopped.Load())
		}
	}
	if primary.stopped.Load() != 0 {
		t.Error("основной клиент остановлен")
	}

	// Захват до остановки освобождается без паники.
	lease.Release()

	// Захваченный до остановки клиент больше не в пуле; выбор откатывается на основного.
	if p.Contains(lease.Client) {
		t.Error("остановленный клиент всё ещё в пуле")
	}
	l2, err := p.Acquire()
	if err != nil || !l2.Client.Primary() {
		t.Errorf("Acquire() после остановки = %v, %v; ожидался основной клиент", l2, err)
	}
	l2.Release()
}

// TestPool_ConcurrentLeases проверяет согласованность счётчиков при параллельных захватах.
func TestPool_ConcurrentLeases(t *testing.T) {
	p, _, _ := newTestPool(t, "p1", "p2", "p3", "p4")

	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				l, err := p.Acquire()
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				l.Release()
			}
		}()
	}
	wg.Wait()

	for _, e := range p.Stats().Loads {
		if e.Load != 0 {
			t.Errorf("нагрузка %s = %d, ожидался 0", e.Client, e.Load)
		}
	}
}
