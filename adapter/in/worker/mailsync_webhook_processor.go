package worker

import (
	"context"
	"fmt"

	portin "mailsync_server/core/port/in"
	"mailsync_server/pkg/logger"
)

// WebhookProcessor processes webhook-related jobs.
type WebhookProcessor struct {
	webhookManager portin.WebhookManager
}

// NewWebhookProcessor creates a new webhook processor.
func NewWebhookProcessor(webhookManager portin.WebhookManager) *WebhookProcessor {
	return &WebhookProcessor{
		webhookManager: webhookManager,
	}
}

// ProcessRenew handles webhook renewal jobs.
func (p *WebhookProcessor) ProcessRenew(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[WebhookRenewPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	if p.webhookManager == nil {
		return fmt.Errorf("webhook manager not initialized")
	}

	// Renew all expiring subscriptions
	if payload.RenewAll {
		if err := p.webhookManager.RenewExpiring(ctx); err != nil {
			return fmt.Errorf("failed to renew expiring subscriptions: %w", err)
		}
		logger.Info("[WebhookProcessor.ProcessRenew] renewed expiring subscriptions")
		return nil
	}

	// 개별 갱신 작업도 만료 임박 구독 전체 갱신으로 처리
	// (RenewExpiring은 멱등이므로 중복 실행은 무해)
	if err := p.webhookManager.RenewExpiring(ctx); err != nil {
		return fmt.Errorf("failed to renew subscription %d: %w", payload.SubscriptionID, err)
	}
	return nil
}
