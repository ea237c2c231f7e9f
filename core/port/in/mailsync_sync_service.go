package in

import (
	"context"

	"mailsync_server/core/domain"
)

// SyncOrchestrator is the single authority over account sync state.
// RequestSync returns immediately; the attempt runs on the worker pool.
type SyncOrchestrator interface {
	// RequestSync starts or coalesces a sync. Returns
	// domain.ErrAlreadySyncing while one is in flight and
	// domain.ErrAccountQuarantined for quarantined accounts
	// (단, webhook 트리거는 coalesce되어 에러 없이 흡수됨).
	RequestSync(ctx context.Context, accountID int64, trigger domain.SyncTrigger) error

	// RequestFullSync clears the cursor first (initial 모드 강제).
	RequestFullSync(ctx context.Context, accountID int64, trigger domain.SyncTrigger) error

	// Reconnect is the only exit from quarantine: resets the error count
	// and returns the account to idle.
	Reconnect(ctx context.Context, accountID int64) error

	// Status returns the current account sync snapshot.
	Status(ctx context.Context, accountID int64) (*AccountSyncStatus, error)
}

// AccountSyncStatus is the UI-facing snapshot.
type AccountSyncStatus struct {
	AccountID         int64                 `json:"account_id"`
	Provider          domain.Provider       `json:"provider"`
	Status            domain.AccountStatus  `json:"status"`
	ConsecutiveErrors int                   `json:"consecutive_errors"`
	LastError         string                `json:"last_error,omitempty"`
	ReconnectRequired bool                  `json:"reconnect_required"`
	LastSyncedAt      string                `json:"last_synced_at,omitempty"`
	NextRetryAt       string                `json:"next_retry_at,omitempty"`
	LastExecution     *domain.SyncExecution `json:"last_execution,omitempty"`
}

// WebhookManager owns subscription lifecycle and inbound push routing.
type WebhookManager interface {
	CreateSubscription(ctx context.Context, accountID int64) (*domain.WebhookSubscription, error)
	StopSubscription(ctx context.Context, accountID int64) error

	// RenewExpiring renews every subscription expiring within the
	// configured window. Failed renewals back off; past the failure
	// limit the account falls back to polling.
	RenewExpiring(ctx context.Context) error

	// Inbound pushes. Validation failures return
	// domain.ErrValidationFailed and never trigger a sync.
	HandleGmailPush(ctx context.Context, emailAddress string, historyID uint64, messageID string) error
	HandleGraphPush(ctx context.Context, subscriptionID, clientState string) error
}

// FolderService classifies and manages per-account folders.
type FolderService interface {
	RefreshFolders(ctx context.Context, accountID int64) ([]*domain.Folder, error)
	ListFolders(ctx context.Context, accountID int64) ([]*domain.Folder, error)

	// ConfirmFolder resolves a needs-review folder: the user picks the
	// canonical category and whether to sync it.
	ConfirmFolder(ctx context.Context, accountID, folderID int64, canonical domain.CanonicalFolder, enabled bool) error
}
