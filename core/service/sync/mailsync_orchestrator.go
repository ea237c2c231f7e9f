// Package orchestrator is the single authority over account sync state.
// Every trigger (scheduled, webhook, manual) funnels through RequestSync
// and every status transition happens here, nowhere else.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mailsync_server/core/domain"
	portin "mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/logger"
	"mailsync_server/pkg/metrics"
	"mailsync_server/pkg/ratelimit"
)

const (
	// DefaultAttemptTimeout bounds one sync attempt, and with it the
	// worst-case per-account lock hold time.
	DefaultAttemptTimeout = 5 * time.Minute

	DefaultBatchSize = 100
)

// =============================================================================
// Orchestrator
// =============================================================================

// FolderDiscovery pulls the provider's folder list and persists it. The
// orchestrator invokes it once for accounts that have never had a folder
// scan so the first sync can classify instead of defaulting everything.
type FolderDiscovery interface {
	RefreshFolders(ctx context.Context, accountID int64) ([]*domain.Folder, error)
}

type Orchestrator struct {
	accountRepo domain.AccountRepository
	emailRepo   domain.EmailRepository
	bodyRepo    domain.EmailBodyRepository
	cursorRepo  domain.CursorRepository
	folderRepo  domain.FolderRepository
	execRepo    domain.ExecutionRepository
	credentials out.CredentialPort
	providers   out.ProviderRegistry
	realtime    out.RealtimePort
	discovery   FolderDiscovery

	// throttle guards outbound provider calls. Nil disables throttling
	// (tests, single-account deployments).
	throttle *ratelimit.ProviderThrottle

	// 계정별 락 + pending coalesce 플래그
	mu    sync.Mutex
	locks map[int64]*accountLock

	// submit hands the attempt to the worker pool. Injected so the
	// worker process can run attempts on its own pool.
	submit func(task func())

	attemptTimeout  time.Duration
	batchSize       int
	backoffBase     time.Duration
	backoffCap      time.Duration
	quarantineAfter int
}

// SetSubmit replaces the attempt runner. The worker pool is built after
// the orchestrator, so the worker process injects it here before Start.
func (o *Orchestrator) SetSubmit(submit func(task func())) {
	if submit != nil {
		o.submit = submit
	}
}

// accountLock tracks in-flight state for one account. pending absorbs
// webhook pushes arriving mid-sync: exactly one follow-up runs after.
type accountLock struct {
	syncing        bool
	pending        bool
	pendingTrigger domain.SyncTrigger
}

type Config struct {
	AttemptTimeout  time.Duration
	BatchSize       int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	QuarantineAfter int

	// Submit runs a sync attempt asynchronously. Defaults to a plain
	// goroutine; production wiring passes the worker pool.
	Submit func(task func())

	// Throttle limits concurrent and per-second provider API calls.
	Throttle *ratelimit.ProviderThrottle

	// FolderDiscovery seeds the folder table before an account's first
	// sync. Nil skips the seed; unclassified folders fall back to Other.
	FolderDiscovery FolderDiscovery
}

func New(
	accountRepo domain.AccountRepository,
	emailRepo domain.EmailRepository,
	bodyRepo domain.EmailBodyRepository,
	cursorRepo domain.CursorRepository,
	folderRepo domain.FolderRepository,
	execRepo domain.ExecutionRepository,
	credentials out.CredentialPort,
	providers out.ProviderRegistry,
	realtime out.RealtimePort,
	cfg *Config,
) *Orchestrator {
	if cfg == nil {
		cfg = &Config{}
	}
	o := &Orchestrator{
		accountRepo:     accountRepo,
		emailRepo:       emailRepo,
		bodyRepo:        bodyRepo,
		cursorRepo:      cursorRepo,
		folderRepo:      folderRepo,
		execRepo:        execRepo,
		credentials:     credentials,
		providers:       providers,
		realtime:        realtime,
		discovery:       cfg.FolderDiscovery,
		locks:           make(map[int64]*accountLock),
		throttle:        cfg.Throttle,
		submit:          cfg.Submit,
		attemptTimeout:  cfg.AttemptTimeout,
		batchSize:       cfg.BatchSize,
		backoffBase:     cfg.BackoffBase,
		backoffCap:      cfg.BackoffCap,
		quarantineAfter: cfg.QuarantineAfter,
	}
	if o.submit == nil {
		o.submit = func(task func()) { go task() }
	}
	if o.attemptTimeout == 0 {
		o.attemptTimeout = DefaultAttemptTimeout
	}
	if o.batchSize == 0 {
		o.batchSize = DefaultBatchSize
	}
	if o.backoffBase == 0 {
		o.backoffBase = domain.DefaultBackoffBase
	}
	if o.backoffCap == 0 {
		o.backoffCap = domain.DefaultBackoffCap
	}
	if o.quarantineAfter == 0 {
		o.quarantineAfter = domain.DefaultQuarantineAfter
	}
	return o
}

// =============================================================================
// RequestSync - 모든 트리거의 단일 진입점
// =============================================================================

func (o *Orchestrator) RequestSync(ctx context.Context, accountID int64, trigger domain.SyncTrigger) error {
	account, err := o.accountRepo.GetByID(accountID)
	if err != nil {
		return err
	}
	if account.DeletedAt != nil {
		return domain.ErrAccountNotFound
	}
	if account.Status == domain.AccountStatusQuarantined {
		return domain.ErrAccountQuarantined
	}

	if !o.acquire(accountID, trigger) {
		if trigger == domain.TriggerWebhook {
			// 진행 중 sync가 끝나면 coalesce된 후속 sync가 돈다
			return nil
		}
		return domain.ErrAlreadySyncing
	}

	o.submit(func() { o.runAttempt(accountID, trigger) })
	return nil
}

// RequestFullSync clears the cursor so the attempt runs in initial mode.
func (o *Orchestrator) RequestFullSync(ctx context.Context, accountID int64, trigger domain.SyncTrigger) error {
	if err := o.cursorRepo.Clear(accountID); err != nil {
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	return o.RequestSync(ctx, accountID, trigger)
}

// Reconnect resets error state after the user re-authenticated. The only
// way out of quarantine.
func (o *Orchestrator) Reconnect(ctx context.Context, accountID int64) error {
	account, err := o.accountRepo.GetByID(accountID)
	if err != nil {
		return err
	}

	if err := o.accountRepo.UpdateSyncState(accountID, domain.AccountStatusIdle, 0, "", false, nil); err != nil {
		return err
	}

	logger.Info("[Orchestrator] Account %d reconnected (was %s, %d consecutive errors)",
		accountID, account.Status, account.ConsecutiveErrors)
	return nil
}

// Status returns the UI-facing sync snapshot.
func (o *Orchestrator) Status(ctx context.Context, accountID int64) (*portin.AccountSyncStatus, error) {
	account, err := o.accountRepo.GetByID(accountID)
	if err != nil {
		return nil, err
	}

	status := &portin.AccountSyncStatus{
		AccountID:         account.ID,
		Provider:          account.Provider,
		Status:            account.Status,
		ConsecutiveErrors: account.ConsecutiveErrors,
		LastError:         account.LastError,
		ReconnectRequired: account.ReconnectRequired,
	}
	if account.LastSyncedAt != nil {
		status.LastSyncedAt = account.LastSyncedAt.Format(time.RFC3339)
	}
	if account.NextRetryAt != nil {
		status.NextRetryAt = account.NextRetryAt.Format(time.RFC3339)
	}

	if lastExec, err := o.execRepo.LastByAccount(accountID); err == nil {
		status.LastExecution = lastExec
	}

	return status, nil
}

// =============================================================================
// Lock map
// =============================================================================

// acquire takes the per-account lock. Returns false when a sync is
// already in flight (and records the coalesce flag for webhook pushes).
func (o *Orchestrator) acquire(accountID int64, trigger domain.SyncTrigger) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	l := o.locks[accountID]
	if l == nil {
		l = &accountLock{}
		o.locks[accountID] = l
	}

	if l.syncing {
		if trigger == domain.TriggerWebhook {
			l.pending = true
			l.pendingTrigger = trigger
			metrics.GlobalSync().Coalesced.Add(1)
		}
		return false
	}

	l.syncing = true
	return true
}

// release drops the lock and reports whether a coalesced follow-up is
// due (at most one, regardless of how many pushes arrived).
func (o *Orchestrator) release(accountID int64) (domain.SyncTrigger, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	l := o.locks[accountID]
	if l == nil {
		return "", false
	}

	l.syncing = false
	if l.pending {
		l.pending = false
		return l.pendingTrigger, true
	}

	delete(o.locks, accountID)
	return "", false
}

// =============================================================================
// Sync attempt
// =============================================================================

func (o *Orchestrator) runAttempt(accountID int64, trigger domain.SyncTrigger) {
	defer func() {
		if pendingTrigger, rerun := o.release(accountID); rerun {
			// coalesce된 webhook 후속 sync
			if o.acquire(accountID, pendingTrigger) {
				o.submit(func() { o.runAttempt(accountID, pendingTrigger) })
			}
		}
	}()

	// attempt 타임아웃은 요청 컨텍스트와 무관하게 적용
	ctx, cancel := context.WithTimeout(context.Background(), o.attemptTimeout)
	defer cancel()

	account, err := o.accountRepo.GetByID(accountID)
	if err != nil {
		logger.Error("[Orchestrator] Account %d load failed: %v", accountID, err)
		return
	}

	metrics.GlobalSync().Started.Add(1)
	attemptStart := time.Now()
	defer func() {
		metrics.RecordSyncLatency(string(account.Provider), time.Since(attemptStart))
	}()

	if err := o.accountRepo.UpdateSyncState(accountID, domain.AccountStatusSyncing,
		account.ConsecutiveErrors, account.LastError, account.ReconnectRequired, nil); err != nil {
		logger.Error("[Orchestrator] Account %d transition to syncing failed: %v", accountID, err)
		return
	}

	cursor, err := o.cursorRepo.Load(accountID)
	if err != nil {
		o.handleFailure(ctx, account, nil, fmt.Errorf("failed to load cursor: %w", err))
		return
	}

	mode := domain.SyncModeIncremental
	if cursor.IsInitial() {
		mode = domain.SyncModeInitial
	}

	exec := &domain.SyncExecution{
		AccountID: accountID,
		Trigger:   trigger,
		Mode:      mode,
		StartedAt: time.Now(),
	}
	if err := o.execRepo.Create(exec); err != nil {
		logger.Warn("[Orchestrator] Execution record create failed for account %d: %v", accountID, err)
	}

	o.pushEvent(ctx, accountID, domain.EventSyncStarted, &domain.SyncProgressData{
		Status: domain.AccountStatusSyncing,
		Mode:   mode,
	})

	err = o.fetchAndPersist(ctx, account, cursor, mode, exec)
	if err != nil {
		// 커서 무효화: 커서 비우고 같은 attempt 안에서 initial 모드로 1회 재실행
		if out.IsCursorInvalid(err) {
			logger.Warn("[Orchestrator] Cursor invalidated for account %d, falling back to full resync", accountID)
			if clearErr := o.cursorRepo.Clear(accountID); clearErr != nil {
				o.handleFailure(ctx, account, exec, clearErr)
				return
			}
			exec.Mode = domain.SyncModeInitial
			err = o.fetchAndPersist(ctx, account, nil, domain.SyncModeInitial, exec)
		}
	}
	if err != nil {
		o.handleFailure(ctx, account, exec, err)
		return
	}

	o.handleSuccess(ctx, account, exec)
}

// fetchAndPersist drives the page loop: fetch → upsert+cursor in one
// transaction → bodies to Mongo best effort.
func (o *Orchestrator) fetchAndPersist(ctx context.Context, account *domain.Account, cursor *domain.SyncCursor, mode domain.SyncMode, exec *domain.SyncExecution) error {
	adapter, err := o.providers.Adapter(account.Provider)
	if err != nil {
		return err
	}

	cred, err := o.credentials.Access(ctx, account)
	if err != nil {
		return err
	}

	// 계정 단위 throttle: 한 메일박스가 provider 전체 예산을 잠식하지 않게
	if o.throttle != nil {
		key := fmt.Sprintf("%s:%d", account.Provider, account.ID)
		result, release := o.throttle.AcquireWithWait(ctx, key, 5*time.Second)
		if !result.Allowed {
			wait := result.WaitDuration
			if wait <= 0 {
				wait = o.backoffBase
			}
			return out.NewRateLimitError(account.Provider, wait, fmt.Errorf("provider throttle: %s", result.Reason))
		}
		defer release()
	}

	cursorToken := ""
	if cursor != nil {
		cursorToken = cursor.Token
	}

	folderByRemoteID, err := o.loadFolders(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}

	pageToken := ""
	for {
		select {
		case <-ctx.Done():
			return out.NewProviderError(account.Provider, out.ProviderErrNetwork, "sync attempt timed out", ctx.Err(), true)
		default:
		}

		batch, err := adapter.FetchChanges(ctx, cred, &out.FetchRequest{
			Mode:      mode,
			Cursor:    cursorToken,
			PageToken: pageToken,
			BatchSize: o.batchSize,
		})
		if err != nil {
			return err
		}

		emails, bodies := o.convertBatch(account.ID, batch.Messages, folderByRemoteID)
		exec.Fetched += len(batch.Messages)

		newCursor := &domain.SyncCursor{
			AccountID: account.ID,
			Token:     batch.NextCursor,
			Watermark: time.Now(),
			Mode:      domain.SyncModeIncremental,
		}

		result, err := o.emailRepo.UpsertBatchWithCursor(account.ID, emails, newCursor)
		if err != nil {
			// 일부 배치는 이미 커밋됨: 커서는 마지막 커밋 지점에 남는다
			return err
		}
		exec.Created += result.Created
		exec.Updated += result.Updated

		// SQL 커밋 이후 본문 저장 (best effort, 재동기화로 복구 가능)
		o.saveBodies(emails, bodies)

		if len(batch.DeletedIDs) > 0 {
			if err := o.emailRepo.DeleteByProviderMessageIDs(account.ID, batch.DeletedIDs); err != nil {
				logger.Warn("[Orchestrator] Failed to delete %d removed messages for account %d: %v",
					len(batch.DeletedIDs), account.ID, err)
			}
		}

		o.pushEvent(ctx, account.ID, domain.EventSyncProgress, &domain.SyncProgressData{
			Status:   domain.AccountStatusSyncing,
			Mode:     mode,
			Progress: exec.Fetched,
		})

		if !batch.HasMore {
			return nil
		}
		pageToken = batch.NextPageToken
	}
}

// loadFolders returns the account's folder map keyed by remote ID. An
// account with no folder rows has never been scanned, so discovery runs
// first; a discovery failure is not fatal because unclassified messages
// still land in Other.
func (o *Orchestrator) loadFolders(ctx context.Context, account *domain.Account) (map[string]*domain.Folder, error) {
	folders, err := o.folderRepo.ListByAccount(account.ID)
	if err != nil {
		return nil, err
	}

	if len(folders) == 0 && o.discovery != nil {
		discovered, derr := o.discovery.RefreshFolders(ctx, account.ID)
		if derr != nil {
			logger.Warn("[Orchestrator] Folder discovery failed for account %d: %v", account.ID, derr)
		} else {
			folders = discovered
		}
	}

	folderByRemoteID := make(map[string]*domain.Folder, len(folders))
	for _, f := range folders {
		folderByRemoteID[f.RemoteID] = f
	}
	return folderByRemoteID, nil
}

// convertBatch maps provider messages onto canonical emails. Only folders
// the user explicitly disabled are skipped; a message in a folder we have
// no row for is kept as Other, because the cursor advances with this page
// and a dropped message never comes back.
func (o *Orchestrator) convertBatch(accountID int64, messages []out.RawMessage, folderByRemoteID map[string]*domain.Folder) ([]*domain.Email, map[string]*domain.EmailBody) {
	now := time.Now()
	emails := make([]*domain.Email, 0, len(messages))
	bodies := make(map[string]*domain.EmailBody, len(messages))

	for i := range messages {
		msg := &messages[i]

		canonical := domain.FolderOther
		confidence := 0.0
		if msg.FolderRemoteID != "" {
			if folder, known := folderByRemoteID[msg.FolderRemoteID]; known {
				if !folder.Enabled {
					continue // 사용자가 제외한 폴더
				}
				canonical = folder.Canonical
				confidence = folder.Confidence
			}
		}

		remoteSync := now
		emails = append(emails, &domain.Email{
			AccountID:          accountID,
			ProviderMessageID:  msg.ProviderMessageID,
			ThreadID:           msg.ThreadID,
			Folder:             canonical,
			FolderConfidence:   confidence,
			Subject:            msg.Subject,
			Snippet:            msg.Snippet,
			FromEmail:          msg.FromEmail,
			FromName:           msg.FromName,
			ToEmails:           msg.ToEmails,
			CcEmails:           msg.CcEmails,
			IsRead:             msg.IsRead,
			IsStarred:          msg.IsStarred,
			HasAttachments:     msg.HasAttachments,
			ReceivedAt:         msg.ReceivedAt,
			LastRemoteFlagSync: &remoteSync,
		})

		if msg.TextBody != "" || msg.HTMLBody != "" {
			bodies[msg.ProviderMessageID] = &domain.EmailBody{
				TextBody: msg.TextBody,
				HTMLBody: msg.HTMLBody,
			}
		}
	}

	return emails, bodies
}

// saveBodies writes full bodies to the body store. Email IDs are only
// known after the SQL commit, so this runs second.
func (o *Orchestrator) saveBodies(emails []*domain.Email, bodies map[string]*domain.EmailBody) {
	if o.bodyRepo == nil || len(bodies) == 0 {
		return
	}

	toSave := make([]*domain.EmailBody, 0, len(bodies))
	for _, email := range emails {
		if body, ok := bodies[email.ProviderMessageID]; ok && email.ID != 0 {
			body.EmailID = email.ID
			toSave = append(toSave, body)
		}
	}

	if err := o.bodyRepo.SaveBatch(toSave); err != nil {
		logger.Warn("[Orchestrator] Failed to save %d email bodies: %v", len(toSave), err)
	}
}

// =============================================================================
// Outcome handling
// =============================================================================

func (o *Orchestrator) handleSuccess(ctx context.Context, account *domain.Account, exec *domain.SyncExecution) {
	now := time.Now()

	metrics.GlobalSync().Succeeded.Add(1)
	metrics.GlobalSync().EmailsUpsert.Add(int64(exec.Created + exec.Updated))

	if err := o.accountRepo.UpdateSyncState(account.ID, domain.AccountStatusIdle, 0, "", false, nil); err != nil {
		logger.Error("[Orchestrator] Account %d transition to idle failed: %v", account.ID, err)
	}
	if err := o.accountRepo.UpdateLastSynced(account.ID, now); err != nil {
		logger.Warn("[Orchestrator] Account %d last_synced update failed: %v", account.ID, err)
	}

	exec.Result = domain.SyncResultSuccess
	finished := now
	exec.FinishedAt = &finished
	if err := o.execRepo.Finish(exec); err != nil {
		logger.Warn("[Orchestrator] Execution finish failed for account %d: %v", account.ID, err)
	}

	o.pushEvent(ctx, account.ID, domain.EventSyncCompleted, &domain.SyncProgressData{
		Status:   domain.AccountStatusIdle,
		Progress: exec.Fetched,
	})

	logger.Info("[Orchestrator] Account %d synced: %d fetched, %d created, %d updated",
		account.ID, exec.Fetched, exec.Created, exec.Updated)
}

// handleFailure classifies the error per the taxonomy and applies the
// matching transition. Partial batches are already committed; the cursor
// sits at the last committed point.
func (o *Orchestrator) handleFailure(ctx context.Context, account *domain.Account, exec *domain.SyncExecution, syncErr error) {
	logger.Error("[Orchestrator] Account %d sync failed: %v", account.ID, syncErr)

	if exec != nil {
		exec.Result = domain.SyncResultFailed
		if exec.Created > 0 || exec.Updated > 0 {
			exec.Result = domain.SyncResultPartial
			metrics.GlobalSync().Partial.Add(1)
			metrics.GlobalSync().EmailsUpsert.Add(int64(exec.Created + exec.Updated))
		} else {
			metrics.GlobalSync().Failed.Add(1)
		}
		exec.ErrorDetail = syncErr.Error()
		finished := time.Now()
		exec.FinishedAt = &finished
		if err := o.execRepo.Finish(exec); err != nil {
			logger.Warn("[Orchestrator] Execution finish failed for account %d: %v", account.ID, err)
		}
	}

	switch {
	case errors.Is(syncErr, context.DeadlineExceeded):
		o.failTransient(ctx, account, "sync attempt timed out")

	default:
		if retryAfter, limited := out.IsRateLimited(syncErr); limited {
			// 에러 카운트 증가 없이 재스케줄
			metrics.GlobalSync().RateLimited.Add(1)
			if retryAfter <= 0 {
				retryAfter = o.backoffBase
			}
			nextRetry := time.Now().Add(retryAfter)
			if err := o.accountRepo.UpdateSyncState(account.ID, domain.AccountStatusIdle,
				account.ConsecutiveErrors, account.LastError, account.ReconnectRequired, &nextRetry); err != nil {
				logger.Error("[Orchestrator] Account %d rate-limit reschedule failed: %v", account.ID, err)
			}
			o.pushEvent(ctx, account.ID, domain.EventSyncRetry, &domain.SyncProgressData{
				Status:    domain.AccountStatusIdle,
				LastError: "rate limited",
			})
			return
		}

		if out.IsAuthExpired(syncErr) {
			// error 상태 + reconnect 표시, 즉시 격리하지 않음
			if err := o.accountRepo.UpdateSyncState(account.ID, domain.AccountStatusError,
				account.ConsecutiveErrors, syncErr.Error(), true, nil); err != nil {
				logger.Error("[Orchestrator] Account %d auth-expired transition failed: %v", account.ID, err)
			}
			o.pushEvent(ctx, account.ID, domain.EventReconnectRequired, &domain.SyncProgressData{
				Status:    domain.AccountStatusError,
				LastError: syncErr.Error(),
			})
			return
		}

		o.failTransient(ctx, account, syncErr.Error())
	}
}

// failTransient counts the failure toward the quarantine threshold and
// schedules the backed-off retry.
func (o *Orchestrator) failTransient(ctx context.Context, account *domain.Account, errMsg string) {
	consecutive := account.ConsecutiveErrors + 1

	if consecutive >= o.quarantineAfter {
		if err := o.accountRepo.UpdateSyncState(account.ID, domain.AccountStatusQuarantined,
			consecutive, errMsg, true, nil); err != nil {
			logger.Error("[Orchestrator] Account %d quarantine transition failed: %v", account.ID, err)
		}
		metrics.GlobalSync().Quarantined.Add(1)
		o.pushEvent(ctx, account.ID, domain.EventAccountQuarantined, &domain.SyncProgressData{
			Status:    domain.AccountStatusQuarantined,
			LastError: errMsg,
		})
		logger.Warn("[Orchestrator] Account %d quarantined after %d consecutive errors", account.ID, consecutive)
		return
	}

	nextRetry := time.Now().Add(domain.BackoffDelay(consecutive, o.backoffBase, o.backoffCap))
	if err := o.accountRepo.UpdateSyncState(account.ID, domain.AccountStatusError,
		consecutive, errMsg, false, &nextRetry); err != nil {
		logger.Error("[Orchestrator] Account %d error transition failed: %v", account.ID, err)
	}

	o.pushEvent(ctx, account.ID, domain.EventSyncError, &domain.SyncProgressData{
		Status:    domain.AccountStatusError,
		LastError: errMsg,
	})
}

func (o *Orchestrator) pushEvent(ctx context.Context, accountID int64, eventType domain.EventType, data *domain.SyncProgressData) {
	if o.realtime == nil {
		return
	}
	_ = o.realtime.Push(ctx, accountID, &domain.RealtimeEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

var _ portin.SyncOrchestrator = (*Orchestrator)(nil)
