// Пакет model — доменные модели Stream Gateway.
package model

import "time"

// FileRecord — запись потокового файла в таблице file_records.
// Создаётся при приёме файла, изменяется только присоединением
// производных полей (StreamDescriptors), удаляется по истечении TTL
// или явным запросом.
type FileRecord struct {
	// ID — UUID записи (назначается хранилищем)
	ID string
	// OwnerUserID — идентификатор владельца
	OwnerUserID int64
	// DedupKey — ключ дедупликации (уникальный идентификатор содержимого у провайдера)
	DedupKey string
	// SourceKey — ключ объекта в backend
	SourceKey string
	// MimeType — MIME-тип (может быть пустым)
	MimeType string
	// FileName — имя файла
	FileName string
	// FileSize — размер в байтах (>= 0)
	FileSize int64
	// FromAuthSource — файл получен из авторизованного канала
	FromAuthSource bool
	// SourceChannelID — идентификатор канала-источника (опционально)
	SourceChannelID *int64
	// StreamDescriptors — разрешённые дескрипторы по идентификатору клиента
	StreamDescriptors map[string]StreamDescriptor
	// CreatedAt — время создания
	CreatedAt time.Time
	// ExpiresAt — время истечения (CreatedAt + TTL)
	ExpiresAt time.Time
}

// Expired сообщает, истекла ли запись на момент now.
func (r *FileRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// StreamDescriptor — результат разрешения объекта конкретным backend-клиентом.
type StreamDescriptor struct {
	// Key — ключ объекта в backend клиента
	Key string `json:"key"`
	// Size — размер объекта по данным backend
	Size int64 `json:"size"`
	// ContentType — MIME-тип по данным backend
	ContentType string `json:"content_type,omitempty"`
}

// FileMeta — входные данные для регистрации файла.
type FileMeta struct {
	OwnerUserID     int64
	DedupKey        string
	SourceKey       string
	MimeType        string
	FileName        string
	FileSize        int64
	FromAuthSource  bool
	SourceChannelID *int64
}
