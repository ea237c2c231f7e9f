package domain

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// =============================================================================
// Sync Triggers & Results
// =============================================================================

// SyncTrigger records what initiated a sync attempt. All three funnel
// through the same orchestrator entry point.
type SyncTrigger string

const (
	TriggerScheduled SyncTrigger = "scheduled"
	TriggerWebhook   SyncTrigger = "webhook"
	TriggerManual    SyncTrigger = "manual"
)

type SyncResult string

const (
	SyncResultSuccess SyncResult = "success"
	SyncResultPartial SyncResult = "partial" // 일부 배치만 커밋됨, 커서는 실패 지점 이전
	SyncResultFailed  SyncResult = "failed"
)

// =============================================================================
// Orchestrator Errors
// =============================================================================

var (
	// ErrAlreadySyncing means a sync is in flight for the account. Not a
	// failure: callers treat it as a no-op.
	ErrAlreadySyncing = errors.New("sync already running for account")

	// ErrAccountQuarantined means the account needs an explicit reconnect.
	ErrAccountQuarantined = errors.New("account quarantined")

	// ErrAccountNotFound for unknown or soft-deleted accounts.
	ErrAccountNotFound = errors.New("account not found")

	// ErrWebhookUnsupported is returned by adapters without a push channel.
	ErrWebhookUnsupported = errors.New("provider does not support webhooks")

	// ErrValidationFailed means an inbound webhook push failed the
	// client-state check. The push is dropped, never synced.
	ErrValidationFailed = errors.New("webhook validation failed")

	// ErrUnsupportedProvider for a provider with no registered adapter.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrFolderNotFound for unknown folders or folders of another account.
	ErrFolderNotFound = errors.New("folder not found")
)

// =============================================================================
// Backoff - base 30s, doubling, capped at 1h
// =============================================================================

const (
	DefaultBackoffBase     = 30 * time.Second
	DefaultBackoffCap      = time.Hour
	DefaultQuarantineAfter = 5
)

// BackoffDelay returns the wait before the next attempt after
// consecutiveErrors failures. First failure waits base, then doubles.
func BackoffDelay(consecutiveErrors int, base, cap time.Duration) time.Duration {
	if consecutiveErrors < 1 {
		return 0
	}
	d := base
	for i := 1; i < consecutiveErrors; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// =============================================================================
// SyncExecution - append-only 감사 기록
// =============================================================================

type SyncExecution struct {
	ID        int64       `json:"id"`
	AccountID int64       `json:"account_id"`
	Trigger   SyncTrigger `json:"trigger"`
	Mode      SyncMode    `json:"mode"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Result      SyncResult `json:"result,omitempty"`
	ErrorDetail string     `json:"error_detail,omitempty"`

	// Item counts
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// ExecutionRepository is append-only: rows are created open and finished
// exactly once, never mutated afterwards.
type ExecutionRepository interface {
	Create(exec *SyncExecution) error
	Finish(exec *SyncExecution) error
	ListByAccount(accountID int64, limit int) ([]*SyncExecution, error)
	LastByAccount(accountID int64) (*SyncExecution, error)
}

// =============================================================================
// SyncJob - Redis Stream에 발행되는 동기화 작업
// =============================================================================

type SyncJob struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type"`
	AccountID  int64           `json:"account_id"`
	Trigger    SyncTrigger     `json:"trigger"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

type JobType string

const (
	JobMailSync     JobType = "mail.sync"
	JobMailSyncFull JobType = "mail.sync.full" // 커서 무시하고 initial 모드
	JobWebhookRenew JobType = "webhook.renew"
)
