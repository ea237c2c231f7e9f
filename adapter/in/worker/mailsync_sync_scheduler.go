package worker

import (
	"context"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/logger"
)

// =============================================================================
// SyncScheduler - 주기 동기화 스케줄러
// =============================================================================
//
// ListSyncable이 백오프 창과 격리 상태를 이미 걸러주므로, 이 스케줄러는
// 정기 폴링과 에러 재시도를 하나의 루프로 처리합니다. 이미 동기화 중인
// 계정은 오케스트레이터의 계정별 락이 거릅니다.

const (
	SyncSchedulerInterval   = 1 * time.Minute
	SyncSchedulerMaxPerTick = 200 // 한 틱에 발행할 최대 작업 수
)

type SyncScheduler struct {
	accountRepo     domain.AccountRepository
	messageProducer out.MessageProducer
	checkInterval   time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewSyncScheduler creates a new sync scheduler.
func NewSyncScheduler(
	accountRepo domain.AccountRepository,
	messageProducer out.MessageProducer,
) *SyncScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncScheduler{
		accountRepo:     accountRepo,
		messageProducer: messageProducer,
		checkInterval:   SyncSchedulerInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start starts the sync scheduler.
func (s *SyncScheduler) Start() {
	logger.Info("[SyncScheduler] Starting with interval %v", s.checkInterval)
	go s.run()
}

// Stop stops the sync scheduler.
func (s *SyncScheduler) Stop() {
	logger.Info("[SyncScheduler] Stopping...")
	s.cancel()
}

// run is the main loop.
func (s *SyncScheduler) run() {
	// 시작 후 30초 대기 (서버 안정화)
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(30 * time.Second):
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.enqueueDueAccounts()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[SyncScheduler] Stopped")
			return
		case <-ticker.C:
			s.enqueueDueAccounts()
		}
	}
}

// enqueueDueAccounts publishes a sync job for every account whose
// polling interval or retry backoff has elapsed.
func (s *SyncScheduler) enqueueDueAccounts() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	accounts, err := s.accountRepo.ListSyncable(time.Now())
	if err != nil {
		logger.Error("[SyncScheduler] Failed to list syncable accounts: %v", err)
		return
	}

	if len(accounts) == 0 {
		return
	}

	if len(accounts) > SyncSchedulerMaxPerTick {
		// 오래 동기화되지 않은 계정부터 (ListSyncable 정렬 순서)
		accounts = accounts[:SyncSchedulerMaxPerTick]
	}

	logger.Info("[SyncScheduler] Enqueueing %d accounts", len(accounts))

	for _, account := range accounts {
		job := &out.SyncJobMessage{
			AccountID: account.ID,
			Trigger:   domain.TriggerScheduled,
		}
		if err := s.messageProducer.PublishSync(ctx, job); err != nil {
			logger.Error("[SyncScheduler] Failed to publish sync job for account %d: %v",
				account.ID, err)
		}
	}
}

// SetCheckInterval sets the check interval (for testing).
func (s *SyncScheduler) SetCheckInterval(interval time.Duration) {
	s.checkInterval = interval
}
