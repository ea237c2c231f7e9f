package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Provider & Account Status
// =============================================================================

type Provider string

const (
	ProviderGmail     Provider = "gmail"
	ProviderMicrosoft Provider = "microsoft"
	ProviderIMAP      Provider = "imap" // 서드파티 릴레이 경유
)

// SupportsWebhook reports whether the provider can push change notifications.
// The IMAP relay has no push channel, so those accounts poll only.
func (p Provider) SupportsWebhook() bool {
	return p == ProviderGmail || p == ProviderMicrosoft
}

// AccountStatus is the orchestrator-owned sync state of an account.
//
//	idle → syncing → (idle | error)
//	error → quarantined (연속 실패 임계 도달)
//	quarantined → idle (사용자 재연결로만 해제)
type AccountStatus string

const (
	AccountStatusIdle        AccountStatus = "idle"
	AccountStatusSyncing     AccountStatus = "syncing"
	AccountStatusError       AccountStatus = "error"
	AccountStatusQuarantined AccountStatus = "quarantined"
)

// =============================================================================
// Account - 연결된 메일박스
// =============================================================================

type Account struct {
	ID          int64     `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Provider    Provider  `json:"provider"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`

	// 동기화 상태 (Orchestrator만 변경)
	Status            AccountStatus `json:"status"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	LastError         string        `json:"last_error,omitempty"`
	ReconnectRequired bool          `json:"reconnect_required"`
	NextRetryAt       *time.Time    `json:"next_retry_at,omitempty"`
	LastSyncedAt      *time.Time    `json:"last_synced_at,omitempty"`

	// Webhook (없으면 폴링 전용)
	WebhookSubscriptionID *int64 `json:"webhook_subscription_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsSyncable reports whether the orchestrator may schedule this account.
func (a *Account) IsSyncable() bool {
	return a.DeletedAt == nil && a.Status != AccountStatusQuarantined
}

// RetryDue reports whether the backoff window has elapsed.
func (a *Account) RetryDue(now time.Time) bool {
	if a.NextRetryAt == nil {
		return true
	}
	return now.After(*a.NextRetryAt)
}

// =============================================================================
// Credential - Credential Store 소유, 저장 시 AES-GCM 암호화
// =============================================================================

type Credential struct {
	AccountID int64 `json:"account_id"`

	// OAuth (gmail, microsoft)
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`

	// IMAP relay
	RelayAccessKey string `json:"-"`

	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// Repositories
// =============================================================================

// AccountRepository defines account persistence operations.
// Status mutations flow through UpdateSyncState so every transition is
// recorded with its error context in one write.
type AccountRepository interface {
	GetByID(id int64) (*Account, error)
	GetByProviderEmail(provider Provider, email string) (*Account, error)
	ListByUserID(userID uuid.UUID) ([]*Account, error)
	ListSyncable(now time.Time) ([]*Account, error)
	ListActive() ([]*Account, error)
	Create(account *Account) error
	Update(account *Account) error
	SoftDelete(id int64) error

	UpdateSyncState(id int64, status AccountStatus, consecutiveErrors int, lastError string, reconnectRequired bool, nextRetryAt *time.Time) error
	UpdateLastSynced(id int64, at time.Time) error
	SetWebhookSubscription(id int64, subscriptionID *int64) error
}

// CredentialRepository stores encrypted account secrets.
type CredentialRepository interface {
	Get(accountID int64) (*Credential, error)
	Save(cred *Credential) error
	Delete(accountID int64) error
}
