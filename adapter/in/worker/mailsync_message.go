package worker

import (
	"time"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobType represents the type of a job.
type JobType = string

// Job types
const (
	// Mail jobs
	JobMailSync JobType = "mail.sync"

	// Webhook jobs
	JobWebhookRenew = "webhook.renew"

	// Folder jobs
	JobFolderRefresh = "folder.refresh"

	// In-process jobs (스트림을 타지 않음)
	JobSyncAttempt = "sync.attempt"
)

// taskPayloadKey carries an in-process closure for JobSyncAttempt
// messages. A func cannot be serialized, so these messages must never
// cross the Redis stream boundary.
const taskPayloadKey = "task"

// NewTaskMessage wraps a closure as an in-process job.
func NewTaskMessage(jobType string, task func()) *Message {
	return NewMessage(jobType, map[string]any{taskPayloadKey: task})
}

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// NewPriorityMessage creates a message with specific priority.
func NewPriorityMessage(jobType string, payload map[string]any, priority Priority) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// IsPriority checks if message should go to priority queue.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// Mail payloads
type MailSyncPayload struct {
	AccountID int64              `json:"account_id"`
	Trigger   domain.SyncTrigger `json:"trigger"`
	FullSync  bool               `json:"full_sync"` // 커서 무시, initial 모드 강제
}

// Webhook payloads
type WebhookRenewPayload struct {
	SubscriptionID int64 `json:"subscription_id,omitempty"`
	RenewAll       bool  `json:"renew_all"` // If true, renew all expiring subscriptions
}

// Folder payloads
type FolderRefreshPayload struct {
	AccountID int64 `json:"account_id"`
}
