package worker

import (
	"context"
	"time"

	"mailsync_server/core/port/out"
	"mailsync_server/pkg/logger"
)

// =============================================================================
// RenewScheduler - 웹훅 구독 갱신 스케줄러
// =============================================================================
//
// Gmail watch는 7일, Graph 구독은 약 3일마다 만료됩니다. 만료 24시간 전에
// 갱신되도록 매시간 체크합니다.

type RenewScheduler struct {
	messageProducer out.MessageProducer
	checkInterval   time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewRenewScheduler creates a new renew scheduler.
func NewRenewScheduler(messageProducer out.MessageProducer) *RenewScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &RenewScheduler{
		messageProducer: messageProducer,
		checkInterval:   1 * time.Hour, // 1시간마다 체크
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start starts the renew scheduler.
func (s *RenewScheduler) Start() {
	logger.Info("[RenewScheduler] Starting with interval %v", s.checkInterval)
	go s.run()
}

// Stop stops the renew scheduler.
func (s *RenewScheduler) Stop() {
	logger.Info("[RenewScheduler] Stopping...")
	s.cancel()
}

// run is the main loop that enqueues renewal sweeps.
func (s *RenewScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// 시작 시 즉시 한 번 체크
	s.enqueueRenewSweep()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[RenewScheduler] Stopped")
			return
		case <-ticker.C:
			s.enqueueRenewSweep()
		}
	}
}

// enqueueRenewSweep publishes a renew-all job to the stream.
func (s *RenewScheduler) enqueueRenewSweep() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	job := &out.WebhookRenewMessage{} // SubscriptionID 0 = 전체 스윕
	if err := s.messageProducer.PublishWebhookRenew(ctx, job); err != nil {
		logger.Error("[RenewScheduler] Failed to publish renew job: %v", err)
	}
}

// SetCheckInterval sets the check interval (for testing).
func (s *RenewScheduler) SetCheckInterval(interval time.Duration) {
	s.checkInterval = interval
}
