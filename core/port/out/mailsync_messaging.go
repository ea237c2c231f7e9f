package out

import (
	"context"

	"mailsync_server/core/domain"
)

// MessageProducer defines the outbound port for the job stream. The API
// process publishes; the worker process consumes and executes.
type MessageProducer interface {
	// PublishSync enqueues a sync attempt for one account.
	PublishSync(ctx context.Context, job *SyncJobMessage) error

	// PublishWebhookRenew enqueues a subscription renewal.
	PublishWebhookRenew(ctx context.Context, job *WebhookRenewMessage) error

	// PublishFolderRefresh enqueues a folder rescan for one account.
	PublishFolderRefresh(ctx context.Context, job *FolderRefreshMessage) error
}

// SyncJobMessage is the wire form of a sync request.
type SyncJobMessage struct {
	AccountID int64              `json:"account_id"`
	Trigger   domain.SyncTrigger `json:"trigger"`
	FullSync  bool               `json:"full_sync"` // 커서 무시, initial 모드 강제
}

// WebhookRenewMessage is the wire form of a renewal job.
type WebhookRenewMessage struct {
	SubscriptionID int64 `json:"subscription_id"`
}

// FolderRefreshMessage is the wire form of a folder rescan job.
type FolderRefreshMessage struct {
	AccountID int64 `json:"account_id"`
}
