package bootstrap

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"mailsync_server/adapter/in/worker"
	"mailsync_server/adapter/out/messaging"
	"mailsync_server/config"
	"mailsync_server/pkg/logger"
)

type Worker struct {
	pool            *worker.Pool
	consumer        *messaging.Consumer
	deps            *Dependencies
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	zlog            zerolog.Logger
	syncScheduler   *worker.SyncScheduler
	renewScheduler  *worker.RenewScheduler
	folderScheduler *worker.FolderScheduler
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := newZerolog().With().Str("component", "worker").Logger()

	// Processors
	syncProcessor := worker.NewSyncProcessor(deps.Orchestrator)
	webhookProcessor := worker.NewWebhookProcessor(deps.WebhookService)
	folderProcessor := worker.NewFolderProcessor(deps.FolderService)

	handler := worker.NewHandler(syncProcessor, webhookProcessor, folderProcessor)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerCount > 0 {
		poolConfig.MaxWorkers = cfg.WorkerCount
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}

	pool := worker.NewPool(handler, poolConfig, zlog)

	// 동기화 attempt를 풀 워커 위에서 실행해 동시성 상한 공유.
	// 풀이 거부하면 goroutine fallback: 계정 락이 syncing에 묶이면 안 됨
	deps.Orchestrator.SetSubmit(func(task func()) {
		if !pool.RunTask(task) {
			go task()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	// 스케줄러는 producer가 있어야 동작 (Redis 필수)
	if deps.MessageProducer != nil && cfg.SchedulerEnabled {
		w.syncScheduler = worker.NewSyncScheduler(deps.AccountRepo, deps.MessageProducer)
		w.renewScheduler = worker.NewRenewScheduler(deps.MessageProducer)
		w.folderScheduler = worker.NewFolderScheduler(deps.AccountRepo, deps.MessageProducer)
		logger.Info("Sync, renew and folder schedulers configured")
	}

	// Redis Stream Consumer
	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:    "mailsync-workers",
			Consumer: cfg.WorkerID,
			Streams: []string{
				messaging.StreamMailSync,
				messaging.StreamWebhookRenew,
				messaging.StreamFolderRefresh,
			},
			Handler: worker.NewStreamBridge(pool),
			Logger:  zlog,
		})
		logger.Info("Redis Stream Consumer configured")
	} else {
		logger.Warn("Redis not available, worker will only process direct submissions")
	}

	return w, cleanup, nil
}

func (w *Worker) Start() {
	w.pool.Start()

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("Starting Redis Stream Consumer...")
			if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
				w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
			}
		}()
	}

	if w.syncScheduler != nil {
		w.syncScheduler.Start()
		w.zlog.Info().Msg("Started Sync Scheduler")
	}
	if w.renewScheduler != nil {
		w.renewScheduler.Start()
		w.zlog.Info().Msg("Started Renew Scheduler")
	}
	if w.folderScheduler != nil {
		w.folderScheduler.Start()
		w.zlog.Info().Msg("Started Folder Scheduler")
	}

	// Block until context is cancelled
	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	if w.syncScheduler != nil {
		w.syncScheduler.Stop()
	}
	if w.renewScheduler != nil {
		w.renewScheduler.Stop()
	}
	if w.folderScheduler != nil {
		w.folderScheduler.Stop()
	}

	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) Submit(msg *worker.Message) bool {
	if msg.IsPriority() {
		return w.pool.SubmitPriority(msg)
	}
	return w.pool.Submit(msg)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
