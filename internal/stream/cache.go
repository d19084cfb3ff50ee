package stream

import (
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/goartstore/stream-gateway/internal/backend"
)

// AdapterCache — ограниченный LRU-кэш адаптеров по идентичности клиента.
// Одновременные построения адаптера для одного клиента объединяются.
type AdapterCache struct {
	cache  *lru.Cache[string, *Adapter]
	group  singleflight.Group
	opts   AdapterOptions
	base   *slog.Logger
	logger *slog.Logger
}

// NewAdapterCache создаёт кэш на size адаптеров.
func NewAdapterCache(size int, opts AdapterOptions, logger *slog.Logger) (*AdapterCache, error) {
	c := &AdapterCache{
		opts:   opts,
		base:   logger,
		logger: logger.With(slog.String("component", "adapter_cache")),
	}

	cache, err := lru.NewWithEvict(size, func(clientID string, _ *Adapter) {
		c.logger.Debug("Адаптер вытеснен из кэша", slog.String("client", clientID))
	})
	if err != nil {
		return nil, fmt.Errorf("создание кэша адаптеров: %w", err)
	}
	c.cache = cache
	return c, nil
}

// Get возвращает адаптер клиента, создавая его при первом обращении.
// Если под той же идентичностью зарегистрирован другой транспорт,
// адаптер пересоздаётся.
func (c *AdapterCache) Get(tr backend.Transport) *Adapter {
	id := tr.ID()
	if a, ok := c.cache.Get(id); ok && a.transport == tr {
		return a
	}

	v, _, _ := c.group.Do(id, func() (any, error) {
		if a, ok := c.cache.Get(id); ok && a.transport == tr {
			return a, nil
		}
		a := NewAdapter(tr, c.opts, c.base)
		c.cache.Add(id, a)
		return a, nil
	})
	a := v.(*Adapter)
	if a.transport != tr {
		// Параллельное построение для другого транспорта с той же идентичностью.
		a = NewAdapter(tr, c.opts, c.base)
		c.cache.Add(id, a)
	}
	return a
}

// Purge удаляет адаптеры указанных клиентов.
func (c *AdapterCache) Purge(clientIDs []string) {
	for _, id := range clientIDs {
		c.cache.Remove(id)
	}
}

// Len возвращает количество адаптеров в кэше.
func (c *AdapterCache) Len() int {
	return c.cache.Len()
}
