// Пакет pool — пул backend-клиентов шлюза.
//
// Пул держит один основной клиент (primary) и ноль или более клиентов-обработчиков
// (processors), которые выполняют только загрузку байтов. Для каждого клиента
// ведётся счётчик запросов в работе; он меняется только через Lease и Release.
// Порядок обхода обработчиков фиксирован порядком регистрации, поэтому
// при равной нагрузке LeastLoaded детерминированно выбирает первого.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/stream-gateway/internal/backend"
)

// ErrNoClients — в пуле нет ни одного клиента.
var ErrNoClients = errors.New("нет доступных backend-клиентов")

// Prometheus-метрики пула.
var (
	clientInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sg_backend_client_inflight",
		Help: "Количество запросов в работе по backend-клиентам",
	}, []string{"client"})

	clientStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_backend_client_starts_total",
		Help: "Результаты запуска клиентов-обработчиков",
	}, []string{"status"})
)

// Client — backend-клиент в пуле.
type Client struct {
	backend.Transport
	primary bool
}

// Primary сообщает, является ли клиент основным.
func (c *Client) Primary() bool { return c.primary }

// Factory создаёт транспорт клиента-обработчика по описанию из конфигурации.
type Factory func(spec backend.Spec) (backend.Transport, error)

// LoadEntry — снимок нагрузки клиента.
type LoadEntry struct {
	Client string `json:"client"`
	Load   int64  `json:"load"`
}

// Stats — состояние пула.
type Stats struct {
	Active     bool        `json:"active"`
	Primary    string      `json:"primary"`
	Processors int         `json:"processors"`
	Loads      []LoadEntry `json:"loads"`
}

// Pool — пул backend-клиентов с учётом нагрузки.
type Pool struct {
	mu         sync.Mutex
	primary    *Client
	processors []*Client
	loads      map[string]int64
	active     bool
	rnd        *rand.Rand
	logger     *slog.Logger
}

// New создаёт пул с основным клиентом. primary может быть nil,
// если все запросы обслуживают обработчики.
func New(primary backend.Transport, logger *slog.Logger) *Pool {
	p := &Pool{
		loads:  make(map[string]int64),
		rnd:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // балансировка, не криптография
		logger: logger.With(slog.String("component", "client_pool")),
	}
	if primary != nil {
		p.primary = &Client{Transport: primary, primary: true}
		p.loads[primary.ID()] = 0
	}
	return p
}

// Initialize запускает клиентов-обработчиков конкурентно. Клиент, который
// не удалось создать или запустить, логируется и исключается из пула.
// Пул активен, если запустился хотя бы один обработчик.
func (p *Pool) Initialize(ctx context.Context, specs []backend.Spec, factory Factory) {
	started := make([]*Client, len(specs))

	var g errgroup.Group
	for i, spec := range specs {
		g.Go(func() error {
			tr, err := factory(spec)
			if err == nil {
				err = tr.Start(ctx)
			}
			if err != nil {
				clientStartsTotal.WithLabelValues("error").Inc()
				p.logger.Error("Не удалось запустить клиента-обработчика",
					slog.String("client", spec.Name),
					slog.String("url", spec.URL),
					slog.String("error", err.Error()),
				)
				return nil
			}
			clientStartsTotal.WithLabelValues("success").Inc()
			started[i] = &Client{Transport: tr}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // ошибки запуска обрабатываются по клиентам

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range started {
		if c == nil {
			continue
		}
		if _, dup := p.loads[c.ID()]; dup {
			p.logger.Warn("Дублирующаяся идентичность клиента, клиент исключён",
				slog.String("client", c.ID()),
			)
			c.Stop(ctx) //nolint:errcheck
			continue
		}
		p.processors = append(p.processors, c)
		p.loads[c.ID()] = 0
	}
	p.active = len(p.processors) > 0

	p.logger.Info("Пул клиентов инициализирован",
		slog.Int("configured", len(specs)),
		slog.Int("started", len(p.processors)),
		slog.Bool("active", p.active),
	)
}

// LeastLoaded возвращает обработчика с минимальной нагрузкой или основного
// клиента, если пул неактивен. nil — клиентов нет.
func (p *Pool) LeastLoaded() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leastLoadedLocked()
}

func (p *Pool) leastLoadedLocked() *Client {
	if !p.active || len(p.processors) == 0 {
		return p.primary
	}
	best := p.processors[0]
	for _, c := range p.processors[1:] {
		if p.loads[c.ID()] < p.loads[best.ID()] {
			best = c
		}
	}
	return best
}

// RandomPick возвращает равновероятно выбранного обработчика
// с тем же правилом отката на основного клиента.
func (p *Pool) RandomPick() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active || len(p.processors) == 0 {
		return p.primary
	}
	return p.processors[p.rnd.IntN(len(p.processors))]
}

// PrimaryClient возвращает основного клиента (может быть nil).
func (p *Pool) PrimaryClient() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.primary
}

// Contains сообщает, состоит ли клиент в пуле.
func (p *Pool) Contains(c *Client) bool {
	if c == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.containsLocked(c)
}

func (p *Pool) containsLocked(c *Client) bool {
	if c == p.primary {
		return true
	}
	for _, pc := range p.processors {
		if pc == c {
			return true
		}
	}
	return false
}

// Lease увеличивает счётчик клиента. Клиент вне пула игнорируется.
func (p *Pool) Lease(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c == nil || !p.containsLocked(c) {
		return
	}
	p.loads[c.ID()]++
	clientInflight.WithLabelValues(c.ID()).Inc()
}

// Release уменьшает счётчик клиента, не опуская его ниже нуля.
func (p *Pool) Release(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c == nil {
		return
	}
	n, ok := p.loads[c.ID()]
	if !ok || n == 0 {
		return
	}
	p.loads[c.ID()] = n - 1
	clientInflight.WithLabelValues(c.ID()).Dec()
}

// Load возвращает текущий счётчик клиента.
func (p *Pool) Load(c *Client) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads[c.ID()]
}

// Lease — захват клиента на одну единицу работы. Release идемпотентен.
type Lease struct {
	Client *Client
	once   sync.Once
	pool   *Pool
}

// Release освобождает клиента. Повторные вызовы — no-op.
func (l *Lease) Release() {
	l.once.Do(func() { l.pool.Release(l.Client) })
}

// Acquire выбирает наименее загруженного клиента и захватывает его.
// Если выбранный клиент уже не состоит в пуле, берётся любой доступный.
// Вызывающий обязан вызвать Lease.Release на всех путях выхода.
func (p *Pool) Acquire() (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.leastLoadedLocked()
	if c == nil || !p.containsLocked(c) {
		c = p.anyLocked()
	}
	if c == nil {
		return nil, ErrNoClients
	}

	p.loads[c.ID()]++
	clientInflight.WithLabelValues(c.ID()).Inc()
	return &Lease{Client: c, pool: p}, nil
}

func (p *Pool) anyLocked() *Client {
	if len(p.processors) > 0 {
		return p.processors[0]
	}
	return p.primary
}

// Size возвращает общее число клиентов (основной + обработчики).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.processors)
	if p.primary != nil {
		n++
	}
	return n
}

// Stats возвращает снимок состояния пула. Нагрузка — по обработчикам
// в порядке регистрации.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Active:     p.active,
		Processors: len(p.processors),
		Loads:      make([]LoadEntry, 0, len(p.processors)),
	}
	if p.primary != nil {
		s.Primary = p.primary.ID()
	}
	for _, c := range p.processors {
		s.Loads = append(s.Loads, LoadEntry{Client: c.ID(), Load: p.loads[c.ID()]})
	}
	return s
}

// ShutdownAll останавливает всех обработчиков и очищает их состояние.
// Основной клиент не останавливается. Повторный вызов — no-op.
// Возвращает идентичности остановленных клиентов.
func (p *Pool) ShutdownAll(ctx context.Context) []string {
	p.mu.Lock()
	processors := p.processors
	p.processors = nil
	p.active = false
	for _, c := range processors {
		delete(p.loads, c.ID())
		clientInflight.DeleteLabelValues(c.ID())
	}
	p.mu.Unlock()

	stopped := make([]string, 0, len(processors))
	for _, c := range processors {
		if err := c.Stop(ctx); err != nil {
			p.logger.Warn("Ошибка остановки клиента-обработчика",
				slog.String("client", c.ID()),
				slog.String("error", err.Error()),
			)
		}
		stopped = append(stopped, c.ID())
	}
	if len(stopped) > 0 {
		p.logger.Info("Клиенты-обработчики остановлены", slog.Int("count", len(stopped)))
	}
	return stopped
}

// String — краткое описание пула для логов.
func (s Stats) String() string {
	return fmt.Sprintf("active=%t primary=%s processors=%d", s.Active, s.Primary, s.Processors)
}
