// Package messaging provides the Redis Streams job bridge between the
// API process and the sync worker process.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"mailsync_server/core/port/out"

	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamMailSync      = "mail:sync"
	StreamWebhookRenew  = "webhook:renew"
	StreamFolderRefresh = "folder:refresh"
)

// RedisProducer implements out.MessageProducer using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishSync publishes a sync request for one account.
func (p *RedisProducer) PublishSync(ctx context.Context, job *out.SyncJobMessage) error {
	return p.publish(ctx, StreamMailSync, job)
}

// PublishWebhookRenew publishes a subscription renewal job.
func (p *RedisProducer) PublishWebhookRenew(ctx context.Context, job *out.WebhookRenewMessage) error {
	return p.publish(ctx, StreamWebhookRenew, job)
}

// PublishFolderRefresh publishes a folder rescan job.
func (p *RedisProducer) PublishFolderRefresh(ctx context.Context, job *out.FolderRefreshMessage) error {
	return p.publish(ctx, StreamFolderRefresh, job)
}

// publish publishes a job to a stream using go-redis.
func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

var _ out.MessageProducer = (*RedisProducer)(nil)
