package openapi

import "time"

// FileId — идентификатор записи файла в пути.
type FileId = string //nolint:revive // имя параметра из контракта

// UserId — идентификатор пользователя в пути.
type UserId = int64 //nolint:revive // имя параметра из контракта

// RequestStatus — статус активного запроса.
type RequestStatus string

// Допустимые значения RequestStatus.
const (
	RequestStatusProcessing     RequestStatus = "processing"
	RequestStatusGeneratingLink RequestStatus = "generating_link"
	RequestStatusCompleted      RequestStatus = "completed"
	RequestStatusRevoked        RequestStatus = "revoked"
)

// DownloadFileParams — параметры GET /dl/{id}.
type DownloadFileParams struct {
	// Range — заголовок Range (bytes=start-end)
	Range *string
}

// ListUserFilesParams — параметры GET /api/v1/users/{user_id}/files.
type ListUserFilesParams struct {
	Limit  *int `form:"limit,omitempty" json:"limit,omitempty"`
	Offset *int `form:"offset,omitempty" json:"offset,omitempty"`
}

// ReleaseRequestParams — параметры DELETE /api/v1/requests/{user_id}.
type ReleaseRequestParams struct {
	Revoke *bool `form:"revoke,omitempty" json:"revoke,omitempty"`
}

// RootResponse — ответ GET /.
type RootResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HealthResponse — ответ GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Clients   int       `json:"clients"`
	Service   string    `json:"service"`
}

// LoadEntry — нагрузка одного клиента пула.
type LoadEntry struct {
	Client string `json:"client"`
	Load   int64  `json:"load"`
}

// PoolStats — состояние пула клиентов.
type PoolStats struct {
	Active     bool        `json:"active"`
	Primary    string      `json:"primary,omitempty"`
	Processors int         `json:"processors"`
	Loads      []LoadEntry `json:"loads"`
}

// StatusResponse — ответ GET /status.
type StatusResponse struct {
	ServerStatus     string    `json:"server_status"`
	Uptime           string    `json:"uptime"`
	Version          string    `json:"version"`
	ConnectedClients int       `json:"connected_clients"`
	Pool             PoolStats `json:"pool"`
}

// RegisterFileRequest — тело POST /api/v1/files.
type RegisterFileRequest struct {
	OwnerUserId     int64   `json:"owner_user_id"` //nolint:revive // имя поля из контракта
	DedupKey        string  `json:"dedup_key"`
	SourceKey       string  `json:"source_key"`
	MimeType        *string `json:"mime_type,omitempty"`
	FileName        string  `json:"file_name"`
	FileSize        int64   `json:"file_size"`
	FromAuthSource  *bool   `json:"from_auth_source,omitempty"`
	SourceChannelId *int64  `json:"source_channel_id,omitempty"` //nolint:revive // имя поля из контракта
}

// StreamDescriptor — разрешённый объект backend-клиента.
type StreamDescriptor struct {
	Key         string  `json:"key"`
	Size        int64   `json:"size"`
	ContentType *string `json:"content_type,omitempty"`
}

// FileResponse — запись файла.
type FileResponse struct {
	Id                string                      `json:"id"`            //nolint:revive // имя поля из контракта
	OwnerUserId       int64                       `json:"owner_user_id"` //nolint:revive // имя поля из контракта
	DedupKey          string                      `json:"dedup_key"`
	SourceKey         string                      `json:"source_key"`
	MimeType          *string                     `json:"mime_type,omitempty"`
	FileName          string                      `json:"file_name"`
	FileSize          int64                       `json:"file_size"`
	FromAuthSource    *bool                       `json:"from_auth_source,omitempty"`
	SourceChannelId   *int64                      `json:"source_channel_id,omitempty"` //nolint:revive // имя поля из контракта
	StreamDescriptors map[string]StreamDescriptor `json:"stream_descriptors,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	ExpiresAt         time.Time                   `json:"expires_at"`
	WatchUrl          string                      `json:"watch_url"`    //nolint:revive // имя поля из контракта
	DownloadUrl       string                      `json:"download_url"` //nolint:revive // имя поля из контракта
}

// FileListResponse — страница записей владельца.
type FileListResponse struct {
	Items  []FileResponse `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// UserResponse — пользователь шлюза.
type UserResponse struct {
	UserId int64 `json:"user_id"` //nolint:revive // имя поля из контракта
	Links  int64 `json:"links"`
	Banned bool  `json:"banned"`
}

// RequestFileInfo — сведения о файле активного запроса.
type RequestFileInfo struct {
	FileName *string `json:"file_name,omitempty"`
	FileSize *int64  `json:"file_size,omitempty"`
	MimeType *string `json:"mime_type,omitempty"`
}

// AcquireRequestBody — тело PUT /api/v1/requests/{user_id}.
type AcquireRequestBody struct {
	RequestType string           `json:"request_type"`
	FileInfo    *RequestFileInfo `json:"file_info,omitempty"`
}

// ActiveRequestResponse — активный запрос пользователя.
type ActiveRequestResponse struct {
	UserId      int64            `json:"user_id"` //nolint:revive // имя поля из контракта
	RequestType string           `json:"request_type"`
	Status      RequestStatus    `json:"status"`
	StartTime   time.Time        `json:"start_time"`
	UpdatedTime time.Time        `json:"updated_time"`
	FileInfo    *RequestFileInfo `json:"file_info,omitempty"`
}

// UpdateRequestStatusBody — тело PATCH /api/v1/requests/{user_id}.
type UpdateRequestStatusBody struct {
	Status RequestStatus `json:"status"`
}

// RevokeResponse — результат отзыва запроса.
type RevokeResponse struct {
	Revoked bool `json:"revoked"`
}

// SweepResponse — результат POST /api/v1/maintenance/sweep.
type SweepResponse struct {
	FilesRemoved    int   `json:"files_removed"`
	RequestsRemoved int   `json:"requests_removed"`
	Errors          int   `json:"errors"`
	DurationMs      int64 `json:"duration_ms"`
}
