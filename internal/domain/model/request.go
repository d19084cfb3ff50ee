package model

import "time"

// RequestStatus — статус активного запроса пользователя.
type RequestStatus string

const (
	RequestProcessing     RequestStatus = "processing"
	RequestGeneratingLink RequestStatus = "generating_link"
	RequestCompleted      RequestStatus = "completed"
	RequestRevoked        RequestStatus = "revoked"
)

// Valid сообщает, является ли статус допустимым.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestProcessing, RequestGeneratingLink, RequestCompleted, RequestRevoked:
		return true
	}
	return false
}

// ActiveRequest — активная операция пользователя (не более одной на user_id).
type ActiveRequest struct {
	UserID      int64
	RequestType string
	Status      RequestStatus
	StartTime   time.Time
	UpdatedTime time.Time
	FileInfo    *RequestFileInfo
}

// Live сообщает, удерживает ли запрос эксклюзивность на момент now.
func (r *ActiveRequest) Live(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.StartTime) < ttl
}

// RequestFileInfo — снимок сведений о файле, с которым работает запрос.
type RequestFileInfo struct {
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}
