package worker

import (
	"context"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/logger"
)

// =============================================================================
// FolderScheduler - 폴더 재스캔 스케줄러
// =============================================================================
//
// 폴더 생성/삭제/이름 변경은 드물어서 하루 한 번 전 계정을 스윕합니다.
// 계정 연결 직후의 첫 스캔은 오케스트레이터가 처리하므로 여기서는
// 기존 분류의 드리프트만 따라잡습니다.

const FolderSchedulerInterval = 24 * time.Hour

type FolderScheduler struct {
	accountRepo     domain.AccountRepository
	messageProducer out.MessageProducer
	checkInterval   time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewFolderScheduler creates a new folder scheduler.
func NewFolderScheduler(
	accountRepo domain.AccountRepository,
	messageProducer out.MessageProducer,
) *FolderScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &FolderScheduler{
		accountRepo:     accountRepo,
		messageProducer: messageProducer,
		checkInterval:   FolderSchedulerInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start starts the folder scheduler.
func (s *FolderScheduler) Start() {
	logger.Info("[FolderScheduler] Starting with interval %v", s.checkInterval)
	go s.run()
}

// Stop stops the folder scheduler.
func (s *FolderScheduler) Stop() {
	logger.Info("[FolderScheduler] Stopping...")
	s.cancel()
}

// run is the main loop.
func (s *FolderScheduler) run() {
	// 시작 부하 분산: 동기화 스케줄러가 자리잡은 뒤에 첫 스윕
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(5 * time.Minute):
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.enqueueFolderSweep()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[FolderScheduler] Stopped")
			return
		case <-ticker.C:
			s.enqueueFolderSweep()
		}
	}
}

// enqueueFolderSweep publishes a folder refresh job for every active
// account.
func (s *FolderScheduler) enqueueFolderSweep() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	accounts, err := s.accountRepo.ListActive()
	if err != nil {
		logger.Error("[FolderScheduler] Failed to list accounts: %v", err)
		return
	}

	if len(accounts) == 0 {
		return
	}

	logger.Info("[FolderScheduler] Enqueueing folder refresh for %d accounts", len(accounts))

	for _, account := range accounts {
		job := &out.FolderRefreshMessage{AccountID: account.ID}
		if err := s.messageProducer.PublishFolderRefresh(ctx, job); err != nil {
			logger.Error("[FolderScheduler] Failed to publish folder refresh for account %d: %v",
				account.ID, err)
		}
	}
}

// SetCheckInterval sets the check interval (for testing).
func (s *FolderScheduler) SetCheckInterval(interval time.Duration) {
	s.checkInterval = interval
}
