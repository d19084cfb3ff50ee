// Пакет testutil — общие тестовые помощники.
package testutil

import (
	"sync"
	"time"
)

// StubClock возвращает фиксированное время. Безопасен для конкурентного использования.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock создаёт StubClock, установленный на указанное время.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock возвращает StubClock на 2026-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC))
}

// Now возвращает текущее время часов.
func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает часы вперёд на d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
