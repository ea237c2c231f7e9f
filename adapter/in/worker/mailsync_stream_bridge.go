package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"mailsync_server/adapter/out/messaging"
	"mailsync_server/core/port/out"
)

// StreamBridge feeds Redis Stream jobs into the worker pool. It
// implements messaging.JobHandler; a submit failure returns an error so
// the consumer leaves the message pending for reclaim.
type StreamBridge struct {
	pool *Pool
}

// NewStreamBridge creates a stream-to-pool bridge.
func NewStreamBridge(pool *Pool) *StreamBridge {
	return &StreamBridge{pool: pool}
}

// Handle converts a stream message into a pool job.
func (b *StreamBridge) Handle(ctx context.Context, stream string, data []byte) error {
	switch stream {
	case messaging.StreamMailSync:
		var job out.SyncJobMessage
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to decode sync job: %w", err)
		}
		msg := NewMessage(JobMailSync, map[string]any{
			"account_id": job.AccountID,
			"trigger":    string(job.Trigger),
			"full_sync":  job.FullSync,
		})
		if !b.pool.Submit(msg) {
			return fmt.Errorf("pool rejected sync job for account %d", job.AccountID)
		}
		return nil

	case messaging.StreamWebhookRenew:
		var job out.WebhookRenewMessage
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to decode renew job: %w", err)
		}
		msg := NewPriorityMessage(JobWebhookRenew, map[string]any{
			"subscription_id": job.SubscriptionID,
			"renew_all":       job.SubscriptionID == 0,
		}, PriorityHigh)
		if !b.pool.SubmitPriority(msg) {
			return fmt.Errorf("pool rejected renew job %d", job.SubscriptionID)
		}
		return nil

	case messaging.StreamFolderRefresh:
		var job out.FolderRefreshMessage
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to decode folder refresh job: %w", err)
		}
		msg := NewMessage(JobFolderRefresh, map[string]any{
			"account_id": job.AccountID,
		})
		if !b.pool.Submit(msg) {
			return fmt.Errorf("pool rejected folder refresh for account %d", job.AccountID)
		}
		return nil

	default:
		return fmt.Errorf("unknown stream: %s", stream)
	}
}

var _ messaging.JobHandler = (*StreamBridge)(nil)
