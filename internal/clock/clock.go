// Пакет clock — источник текущего времени для TTL-логики.
// В тестах подменяется на testutil.StubClock.
package clock

import "time"

// Clock возвращает текущее время.
type Clock interface {
	Now() time.Time
}

// Real — системные часы (UTC).
type Real struct{}

// Now возвращает текущее время в UTC.
func (Real) Now() time.Time { return time.Now().UTC() }
