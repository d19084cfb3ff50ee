package model

import "time"

// User — пользователь шлюза: счётчик активных ссылок и признак блокировки.
type User struct {
	UserID    int64
	Links     int64
	Banned    bool
	CreatedAt time.Time
}
