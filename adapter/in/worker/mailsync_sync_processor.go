package worker

import (
	"context"
	"errors"
	"fmt"

	"mailsync_server/core/domain"
	portin "mailsync_server/core/port/in"
	"mailsync_server/pkg/logger"
)

// SyncProcessor hands sync jobs to the orchestrator.
type SyncProcessor struct {
	orchestrator portin.SyncOrchestrator
}

// NewSyncProcessor creates a new sync processor.
func NewSyncProcessor(orchestrator portin.SyncOrchestrator) *SyncProcessor {
	return &SyncProcessor{orchestrator: orchestrator}
}

// ProcessSync handles mail sync jobs. The orchestrator owns the per-account
// lock, so a busy account is not a failure here.
func (p *SyncProcessor) ProcessSync(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[MailSyncPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	logger.Info("[SyncProcessor.ProcessSync] account=%d, trigger=%s, full=%v",
		payload.AccountID, payload.Trigger, payload.FullSync)

	trigger := payload.Trigger
	if trigger == "" {
		trigger = domain.TriggerScheduled
	}

	if payload.FullSync {
		err = p.orchestrator.RequestFullSync(ctx, payload.AccountID, trigger)
	} else {
		err = p.orchestrator.RequestSync(ctx, payload.AccountID, trigger)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrAlreadySyncing):
		// 이미 동기화 중이면 재시도하지 않음 (다음 스케줄에서 처리)
		logger.Debug("[SyncProcessor.ProcessSync] account %d already syncing, skipping", payload.AccountID)
		return nil
	case errors.Is(err, domain.ErrAccountQuarantined):
		// 격리된 계정은 재연결 전까지 동기화 대상이 아님
		logger.Warn("[SyncProcessor.ProcessSync] account %d quarantined, skipping", payload.AccountID)
		return nil
	case errors.Is(err, domain.ErrAccountNotFound):
		// 삭제된 계정의 잔여 작업은 버림
		logger.Warn("[SyncProcessor.ProcessSync] account %d not found, dropping job", payload.AccountID)
		return nil
	default:
		return fmt.Errorf("failed to request sync for account %d: %w", payload.AccountID, err)
	}
}
