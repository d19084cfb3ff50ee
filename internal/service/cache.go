// cache.go — LRU-кэш записей файлов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/stream-gateway/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sg_record_cache_hits_total",
		Help: "Общее количество попаданий в кэш записей файлов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sg_record_cache_misses_total",
		Help: "Общее количество промахов кэша записей файлов.",
	})
)

// RecordCache — кэш записей файлов для горячего пути /dl и /watch.
// Каждый экземпляр шлюза держит собственный in-memory кэш; TTL кэша
// ограничивает время, в течение которого удаление в другом экземпляре
// остаётся незамеченным.
type RecordCache struct {
	cache *expirable.LRU[string, *model.FileRecord]
}

// NewRecordCache создаёт кэш на maxSize записей с временем жизни ttl.
func NewRecordCache(maxSize int, ttl time.Duration) *RecordCache {
	return &RecordCache{cache: expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl)}
}

// Get возвращает запись из кэша.
func (c *RecordCache) Get(id string) (*model.FileRecord, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись.
func (c *RecordCache) Set(rec *model.FileRecord) {
	if c == nil {
		return
	}
	c.cache.Add(rec.ID, rec)
}

// Delete удаляет запись (инвалидация при изменении или удалении).
func (c *RecordCache) Delete(id string) {
	if c == nil {
		return
	}
	c.cache.Remove(id)
}

// Purge очищает кэш.
func (c *RecordCache) Purge() {
	if c == nil {
		return
	}
	c.cache.Purge()
}

// Len возвращает количество записей в кэше.
func (c *RecordCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
