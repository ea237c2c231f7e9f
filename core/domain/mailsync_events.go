package domain

import (
	"time"
)

// =============================================================================
// RealtimeEvent - SSE로 UI에 전송되는 이벤트
// =============================================================================

type RealtimeEvent struct {
	Type      EventType   `json:"type"`
	Seq       int64       `json:"seq"`        // 순서 보장용 시퀀스 번호
	AccountID int64       `json:"account_id"` // 전송 대상 계정 스트림
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type EventType string

const (
	// Sync lifecycle events
	EventSyncStarted   EventType = "sync.started"
	EventSyncProgress  EventType = "sync.progress"
	EventSyncCompleted EventType = "sync.completed"
	EventSyncError     EventType = "sync.error"
	EventSyncRetry     EventType = "sync.retry" // 재시도 예약됨

	// Account events
	EventAccountQuarantined EventType = "account.quarantined"
	EventReconnectRequired  EventType = "account.reconnect_required" // 토큰 만료

	// Email events
	EventNewEmail EventType = "email.new"

	// Folder events
	EventFolderNeedsReview EventType = "folder.needs_review"

	// System events
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// SyncProgressData - {status, progress, total, lastError} 스냅샷
type SyncProgressData struct {
	Status    AccountStatus `json:"status"`
	Mode      SyncMode      `json:"mode,omitempty"`
	Progress  int           `json:"progress"`
	Total     int           `json:"total,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// NewEmailData - 새 메일 이벤트 데이터
type NewEmailData struct {
	EmailID   int64  `json:"email_id"`
	Subject   string `json:"subject"`
	From      string `json:"from"`
	FromName  string `json:"from_name,omitempty"`
	Snippet   string `json:"snippet"`
	Folder    string `json:"folder"`
	IsRead    bool   `json:"is_read"`
	HasAttach bool   `json:"has_attachments"`
}

// FolderReviewData - 신뢰도 미달 폴더 알림
type FolderReviewData struct {
	FolderID   int64   `json:"folder_id"`
	RemoteName string  `json:"remote_name"`
	Canonical  string  `json:"canonical"`
	Confidence float64 `json:"confidence"`
}
