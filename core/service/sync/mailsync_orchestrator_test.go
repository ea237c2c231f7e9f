package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"

	"github.com/google/uuid"
)

// =============================================================================
// In-memory fakes
// =============================================================================

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[int64]*domain.Account
}

func newFakeAccountRepo(accounts ...*domain.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: make(map[int64]*domain.Account)}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) GetByID(id int64) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAccountRepo) GetByProviderEmail(provider domain.Provider, email string) (*domain.Account, error) {
	return nil, domain.ErrAccountNotFound
}
func (r *fakeAccountRepo) ListByUserID(_ uuid.UUID) ([]*domain.Account, error) { return nil, nil }
func (r *fakeAccountRepo) ListSyncable(now time.Time) ([]*domain.Account, error) {
	return nil, nil
}
func (r *fakeAccountRepo) ListActive() ([]*domain.Account, error) { return nil, nil }
func (r *fakeAccountRepo) Create(account *domain.Account) error { return nil }
func (r *fakeAccountRepo) Update(account *domain.Account) error { return nil }
func (r *fakeAccountRepo) SoftDelete(id int64) error            { return nil }

func (r *fakeAccountRepo) UpdateSyncState(id int64, status domain.AccountStatus, consecutiveErrors int, lastError string, reconnectRequired bool, nextRetryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.accounts[id]
	a.Status = status
	a.ConsecutiveErrors = consecutiveErrors
	a.LastError = lastError
	a.ReconnectRequired = reconnectRequired
	a.NextRetryAt = nextRetryAt
	return nil
}

func (r *fakeAccountRepo) UpdateLastSynced(id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[id].LastSyncedAt = &at
	return nil
}

func (r *fakeAccountRepo) SetWebhookSubscription(id int64, subscriptionID *int64) error { return nil }

type fakeEmailRepo struct {
	mu      sync.Mutex
	upserts int
	emails  []*domain.Email
	cursors []*domain.SyncCursor
}

func (r *fakeEmailRepo) GetByID(id int64) (*domain.Email, error) { return nil, nil }
func (r *fakeEmailRepo) GetByProviderMessageID(accountID int64, pmid string) (*domain.Email, error) {
	return nil, nil
}
func (r *fakeEmailRepo) ListByAccount(accountID int64, page *domain.PageRequest) ([]*domain.Email, error) {
	return nil, nil
}

func (r *fakeEmailRepo) UpsertBatchWithCursor(accountID int64, emails []*domain.Email, cursor *domain.SyncCursor) (*domain.BatchUpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	r.cursors = append(r.cursors, cursor)
	for i := range emails {
		emails[i].ID = int64(r.upserts*1000 + i)
	}
	r.emails = append(r.emails, emails...)
	return &domain.BatchUpsertResult{Created: len(emails)}, nil
}

func (r *fakeEmailRepo) UpdateFlags(id int64, isRead, isStarred bool, changedAt time.Time) error {
	return nil
}
func (r *fakeEmailRepo) DeleteByProviderMessageIDs(accountID int64, ids []string) error { return nil }
func (r *fakeEmailRepo) DeleteByAccount(accountID int64) error                          { return nil }
func (r *fakeEmailRepo) CountByAccount(accountID int64) (int64, error)                  { return 0, nil }

type fakeCursorRepo struct {
	mu     sync.Mutex
	cursor *domain.SyncCursor
	clears int
}

func (r *fakeCursorRepo) Load(accountID int64) (*domain.SyncCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor, nil
}

func (r *fakeCursorRepo) Clear(accountID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	r.cursor = nil
	return nil
}

func (r *fakeCursorRepo) Delete(accountID int64) error { return r.Clear(accountID) }

type fakeFolderRepo struct{ folders []*domain.Folder }

func (r *fakeFolderRepo) GetByID(id int64) (*domain.Folder, error) { return nil, nil }
func (r *fakeFolderRepo) GetByRemoteID(accountID int64, remoteID string) (*domain.Folder, error) {
	return nil, nil
}
func (r *fakeFolderRepo) ListByAccount(accountID int64) ([]*domain.Folder, error) {
	return r.folders, nil
}
func (r *fakeFolderRepo) ListEnabled(accountID int64) ([]*domain.Folder, error) {
	enabled := make([]*domain.Folder, 0, len(r.folders))
	for _, f := range r.folders {
		if f.Enabled {
			enabled = append(enabled, f)
		}
	}
	return enabled, nil
}
func (r *fakeFolderRepo) Upsert(folder *domain.Folder) error { return nil }
func (r *fakeFolderRepo) Confirm(id int64, canonical domain.CanonicalFolder, enabled bool) error {
	return nil
}
func (r *fakeFolderRepo) DeleteByAccount(accountID int64) error { return nil }

// fakeDiscovery stands in for the folder service's provider scan.
type fakeDiscovery struct {
	mu      sync.Mutex
	calls   int
	folders []*domain.Folder
}

func (d *fakeDiscovery) RefreshFolders(ctx context.Context, accountID int64) ([]*domain.Folder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.folders, nil
}

type fakeExecRepo struct {
	mu    sync.Mutex
	execs []*domain.SyncExecution
}

func (r *fakeExecRepo) Create(exec *domain.SyncExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec.ID = int64(len(r.execs) + 1)
	r.execs = append(r.execs, exec)
	return nil
}
func (r *fakeExecRepo) Finish(exec *domain.SyncExecution) error { return nil }
func (r *fakeExecRepo) ListByAccount(accountID int64, limit int) ([]*domain.SyncExecution, error) {
	return nil, nil
}
func (r *fakeExecRepo) LastByAccount(accountID int64) (*domain.SyncExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.execs) == 0 {
		return nil, nil
	}
	return r.execs[len(r.execs)-1], nil
}

type fakeCredentials struct{}

func (fakeCredentials) Access(ctx context.Context, account *domain.Account) (*out.AccessCredential, error) {
	return &out.AccessCredential{Mailbox: account.Email}, nil
}

// fakeAdapter delegates FetchChanges to a configurable func.
type fakeAdapter struct {
	mu      sync.Mutex
	calls   []*out.FetchRequest
	fetchFn func(req *out.FetchRequest) (*out.ChangeBatch, error)
}

func (a *fakeAdapter) ProviderType() domain.Provider { return domain.ProviderGmail }

func (a *fakeAdapter) FetchChanges(ctx context.Context, cred *out.AccessCredential, req *out.FetchRequest) (*out.ChangeBatch, error) {
	a.mu.Lock()
	cp := *req
	a.calls = append(a.calls, &cp)
	a.mu.Unlock()
	return a.fetchFn(req)
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAdapter) ListFolders(ctx context.Context, cred *out.AccessCredential) ([]out.ProviderFolder, error) {
	return nil, nil
}
func (a *fakeAdapter) CreateWebhook(ctx context.Context, cred *out.AccessCredential, req *out.WebhookRequest) (*out.WebhookResult, error) {
	return nil, domain.ErrWebhookUnsupported
}
func (a *fakeAdapter) RenewWebhook(ctx context.Context, cred *out.AccessCredential, id string) (*out.WebhookResult, error) {
	return nil, domain.ErrWebhookUnsupported
}
func (a *fakeAdapter) StopWebhook(ctx context.Context, cred *out.AccessCredential, id string) error {
	return nil
}

type fakeRegistry struct{ adapter out.ProviderAdapterPort }

func (r fakeRegistry) Adapter(provider domain.Provider) (out.ProviderAdapterPort, error) {
	return r.adapter, nil
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	orch     *Orchestrator
	accounts *fakeAccountRepo
	emails   *fakeEmailRepo
	cursors  *fakeCursorRepo
	folders  *fakeFolderRepo
	execs    *fakeExecRepo
	adapter  *fakeAdapter
}

func newHarness(t *testing.T, adapter *fakeAdapter, cfg *Config) *harness {
	t.Helper()

	accounts := newFakeAccountRepo(&domain.Account{
		ID:       1,
		Provider: domain.ProviderGmail,
		Email:    "user@example.com",
		Status:   domain.AccountStatusIdle,
	})
	emails := &fakeEmailRepo{}
	cursors := &fakeCursorRepo{}
	folders := &fakeFolderRepo{}
	execs := &fakeExecRepo{}

	orch := New(accounts, emails, nil, cursors, folders, execs,
		fakeCredentials{}, fakeRegistry{adapter}, nil, cfg)

	return &harness{orch: orch, accounts: accounts, emails: emails, cursors: cursors, folders: folders, execs: execs, adapter: adapter}
}

func syncConfig() *Config {
	// 동기 submit: RequestSync가 attempt 완료까지 블록되어 결정적 검증 가능
	return &Config{Submit: func(task func()) { task() }}
}

func successBatch() *out.ChangeBatch {
	return &out.ChangeBatch{
		Messages: []out.RawMessage{{
			ProviderMessageID: "m1",
			Subject:           "hello",
			FromEmail:         "a@b.c",
			ReceivedAt:        time.Now(),
		}},
		NextCursor: "cursor-1",
	}
}

func (h *harness) account(t *testing.T) *domain.Account {
	t.Helper()
	a, err := h.accounts.GetByID(1)
	if err != nil {
		t.Fatalf("account load: %v", err)
	}
	return a
}

// =============================================================================
// Tests
// =============================================================================

// TestRequestSyncAtMostOne verifies two concurrent requests yield one
// active sync; the second caller gets ErrAlreadySyncing.
func TestRequestSyncAtMostOne(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	adapter := &fakeAdapter{fetchFn: func(req *out.FetchRequest) (*out.ChangeBatch, error) {
		close(started)
		<-unblock
		return successBatch(), nil
	}}
	done := make(chan struct{})
	h := newHarness(t, adapter, &Config{Submit: func(task func()) {
		go func() { task(); close(done) }()
	}})

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerManual); err != nil {
		t.Fatalf("first RequestSync: %v", err)
	}
	<-started

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerManual); err != domain.ErrAlreadySyncing {
		t.Errorf("second RequestSync = %v, want ErrAlreadySyncing", err)
	}

	close(unblock)
	<-done

	if got := adapter.callCount(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
}

// TestWebhookCoalescing verifies webhook pushes during an active sync
// are absorbed into exactly one follow-up sync.
func TestWebhookCoalescing(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once

	attempts := make(chan struct{}, 4)
	adapter := &fakeAdapter{fetchFn: func(req *out.FetchRequest) (*out.ChangeBatch, error) {
		attempts <- struct{}{}
		once.Do(func() {
			close(started)
			<-unblock
		})
		return successBatch(), nil
	}}
	h := newHarness(t, adapter, nil) // 기본 submit (goroutine)

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerScheduled); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}
	<-started

	// 진행 중에 webhook push 3건: 모두 에러 없이 흡수
	for i := 0; i < 3; i++ {
		if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerWebhook); err != nil {
			t.Fatalf("webhook RequestSync #%d: %v", i, err)
		}
	}

	close(unblock)

	// 원래 attempt + coalesce된 후속 1회
	deadline := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-attempts:
		case <-deadline:
			t.Fatalf("expected 2 attempts, got %d", i)
		}
	}

	select {
	case <-attempts:
		t.Error("got a third attempt, webhook pushes were not coalesced")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestQuarantineBoundary verifies 4 transient failures leave status
// error, the 5th quarantines, and reconnect is the only exit.
func TestQuarantineBoundary(t *testing.T) {
	adapter := &fakeAdapter{fetchFn: func(req *out.FetchRequest) (*out.ChangeBatch, error) {
		return nil, out.NewProviderError(domain.ProviderGmail, out.ProviderErrNetwork, "connection reset", nil, true)
	}}
	h := newHarness(t, adapter, syncConfig())

	for i := 1; i <= 4; i++ {
		if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerScheduled); err != nil {
			t.Fatalf("RequestSync #%d: %v", i, err)
		}
		a := h.account(t)
		if a.Status != domain.AccountStatusError {
			t.Fatalf("after failure %d: status = %v, want error", i, a.Status)
		}
		if a.ConsecutiveErrors != i {
			t.Fatalf("after failure %d: consecutiveErrors = %d, want %d", i, a.ConsecutiveErrors, i)
		}
		if a.NextRetryAt == nil {
			t.Fatalf("after failure %d: nextRetryAt not set", i)
		}
	}

	// 5번째 실패 → 격리
	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerScheduled); err != nil {
		t.Fatalf("5th RequestSync: %v", err)
	}
	a := h.account(t)
	if a.Status != domain.AccountStatusQuarantined {
		t.Fatalf("after 5th failure: status = %v, want quarantined", a.Status)
	}

	// 격리 중 요청은 거부
	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerScheduled); err != domain.ErrAccountQuarantined {
		t.Errorf("quarantined RequestSync = %v, want ErrAccountQuarantined", err)
	}

	// 재연결만이 탈출구
	if err := h.orch.Reconnect(context.Background(), 1); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	a = h.account(t)
	if a.Status != domain.AccountStatusIdle || a.ConsecutiveErrors != 0 {
		t.Errorf("after reconnect: status = %v errors = %d, want idle/0", a.Status, a.ConsecutiveErrors)
	}
}

// TestRateLimitedNoErrorIncrement verifies a rate-limit response
// reschedules without counting toward quarantine.
func TestRateLimitedNoErrorIncrement(t *testing.T) {
	adapter := &fakeAdapter{fetchFn: func(req *out.FetchRequest) (*out.ChangeBatch, error) {
		return nil, out.NewRateLimitError(domain.ProviderGmail, 90*time.Second, nil)
	}}
	h := newHarness(t, adapter, syncConfig())
	h.accounts.UpdateSyncState(1, domain.AccountStatusIdle, 2, "earlier failure", false, nil)

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerScheduled); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	a := h.account(t)
	if a.ConsecutiveErrors != 2 {
		t.Errorf("consecutiveErrors = %d, want 2 (unchanged)", a.ConsecutiveErrors)
	}
	if a.Status != domain.AccountStatusIdle {
		t.Errorf("status = %v, want idle", a.Status)
	}
	if a.NextRetryAt == nil {
		t.Fatal("nextRetryAt not set")
	}
	until := time.Until(*a.NextRetryAt)
	if until < 80*time.Second || until > 100*time.Second {
		t.Errorf("nextRetryAt in %v, want ~90s", until)
	}
}

// TestAuthExpiredMarksReconnect verifies auth expiry flags reconnect
// without quarantining.
func TestAuthExpiredMarksReconnect(t *testing.T) {
	adapter := &fakeAdapter{fetchFn: func(req *out.FetchRequest) (*out.ChangeBatch, error) {
		return nil, out.NewProviderError(domain.ProviderGmail, out.ProviderErrAuthExpired, "token revoked", nil, false)
	}}
	h := newHarness(t, adapter, syncConfig())
	h.accounts.UpdateSyncState(1, domain.AccountStatusIdle, 4, "", false, nil)

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerScheduled); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	a := h.account(t)
	if a.Status != domain.AccountStatusError {
		t.Errorf("status = %v, want error", a.Status)
	}
	if !a.ReconnectRequired {
		t.Error("reconnectRequired = false, want true")
	}
	if a.ConsecutiveErrors != 4 {
		t.Errorf("consecutiveErrors = %d, want 4 (unchanged)", a.ConsecutiveErrors)
	}
}

// TestCursorInvalidFallsBackToInitial verifies an invalidated cursor is
// cleared and the same attempt reruns a full sync.
func TestCursorInvalidFallsBackToInitial(t *testing.T) {
	adapter := &fakeAdapter{fetchFn: func(req *out.FetchRequest) (*out.ChangeBatch, error) {
		if req.Mode == domain.SyncModeIncremental {
			return nil, out.NewProviderError(domain.ProviderGmail, out.ProviderErrCursorInvalid, "history expired", nil, false)
		}
		return successBatch(), nil
	}}
	h := newHarness(t, adapter, syncConfig())
	h.cursors.cursor = &domain.SyncCursor{AccountID: 1, Token: "stale", Mode: domain.SyncModeIncremental}

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerScheduled); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	if h.cursors.clears != 1 {
		t.Errorf("cursor clears = %d, want 1", h.cursors.clears)
	}

	a := h.account(t)
	if a.Status != domain.AccountStatusIdle {
		t.Errorf("status = %v, want idle (fallback succeeded)", a.Status)
	}

	if got := adapter.callCount(); got != 2 {
		t.Fatalf("fetch calls = %d, want 2 (incremental fail + initial rerun)", got)
	}
	if adapter.calls[1].Mode != domain.SyncModeInitial {
		t.Errorf("fallback mode = %v, want initial", adapter.calls[1].Mode)
	}
}

// TestInitialThenIncremental verifies a fresh account walks all pages in
// initial mode, persists a cursor, and the next sync runs incremental.
func TestInitialThenIncremental(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.fetchFn = func(req *out.FetchRequest) (*out.ChangeBatch, error) {
		if req.Mode == domain.SyncModeIncremental {
			return &out.ChangeBatch{NextCursor: "hist-2"}, nil
		}
		// initial: 2페이지
		if req.PageToken == "" {
			return &out.ChangeBatch{
				Messages:      []out.RawMessage{{ProviderMessageID: "m1"}},
				NextCursor:    "hist-1",
				NextPageToken: "page-2",
				HasMore:       true,
			}, nil
		}
		return &out.ChangeBatch{
			Messages:   []out.RawMessage{{ProviderMessageID: "m2"}},
			NextCursor: "hist-1",
		}, nil
	}
	h := newHarness(t, adapter, syncConfig())

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerManual); err != nil {
		t.Fatalf("initial RequestSync: %v", err)
	}

	if got := adapter.callCount(); got != 2 {
		t.Fatalf("initial fetch calls = %d, want 2 pages", got)
	}
	if adapter.calls[0].Mode != domain.SyncModeInitial {
		t.Errorf("first call mode = %v, want initial", adapter.calls[0].Mode)
	}

	// 커서가 배치와 함께 커밋됨
	if len(h.emails.cursors) == 0 || h.emails.cursors[len(h.emails.cursors)-1].Token != "hist-1" {
		t.Fatal("cursor not committed with final batch")
	}
	h.cursors.cursor = h.emails.cursors[len(h.emails.cursors)-1]

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerScheduled); err != nil {
		t.Fatalf("incremental RequestSync: %v", err)
	}

	last := adapter.calls[adapter.callCount()-1]
	if last.Mode != domain.SyncModeIncremental {
		t.Errorf("second sync mode = %v, want incremental", last.Mode)
	}
	if last.Cursor != "hist-1" {
		t.Errorf("second sync cursor = %q, want hist-1", last.Cursor)
	}
}

// TestUnknownFolderKeptAsOther verifies a message in a folder without a
// row is still stored, classified Other, instead of being dropped while
// the cursor advances past it.
func TestUnknownFolderKeptAsOther(t *testing.T) {
	adapter := &fakeAdapter{fetchFn: func(req *out.FetchRequest) (*out.ChangeBatch, error) {
		return &out.ChangeBatch{
			Messages: []out.RawMessage{{
				ProviderMessageID: "m1",
				FolderRemoteID:    "Label_42",
				Subject:           "hello",
			}},
			NextCursor: "cursor-1",
		}, nil
	}}
	h := newHarness(t, adapter, syncConfig())
	h.folders.folders = []*domain.Folder{
		{AccountID: 1, RemoteID: "INBOX", Canonical: domain.FolderInbox, Confidence: 0.95, Enabled: true},
	}

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerScheduled); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	if len(h.emails.emails) != 1 {
		t.Fatalf("stored emails = %d, want 1", len(h.emails.emails))
	}
	if got := h.emails.emails[0].Folder; got != domain.FolderOther {
		t.Errorf("folder = %v, want other", got)
	}
	if len(h.emails.cursors) == 0 || h.emails.cursors[0].Token != "cursor-1" {
		t.Error("cursor not committed with the batch")
	}
}

// TestDisabledFolderSkipped verifies only folders the user turned off are
// excluded from ingestion.
func TestDisabledFolderSkipped(t *testing.T) {
	adapter := &fakeAdapter{fetchFn: func(req *out.FetchRequest) (*out.ChangeBatch, error) {
		return &out.ChangeBatch{
			Messages: []out.RawMessage{
				{ProviderMessageID: "m1", FolderRemoteID: "INBOX"},
				{ProviderMessageID: "m2", FolderRemoteID: "SPAM"},
			},
			NextCursor: "cursor-1",
		}, nil
	}}
	h := newHarness(t, adapter, syncConfig())
	h.folders.folders = []*domain.Folder{
		{AccountID: 1, RemoteID: "INBOX", Canonical: domain.FolderInbox, Confidence: 0.95, Enabled: true},
		{AccountID: 1, RemoteID: "SPAM", Canonical: domain.FolderSpam, Confidence: 0.95, Enabled: false},
	}

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerScheduled); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	if len(h.emails.emails) != 1 {
		t.Fatalf("stored emails = %d, want 1 (spam skipped)", len(h.emails.emails))
	}
	e := h.emails.emails[0]
	if e.ProviderMessageID != "m1" || e.Folder != domain.FolderInbox {
		t.Errorf("stored %s in %v, want m1 in inbox", e.ProviderMessageID, e.Folder)
	}
}

// TestFirstSyncRunsFolderDiscovery verifies an account with no folder
// rows gets a provider folder scan before messages are classified.
func TestFirstSyncRunsFolderDiscovery(t *testing.T) {
	adapter := &fakeAdapter{fetchFn: func(req *out.FetchRequest) (*out.ChangeBatch, error) {
		return &out.ChangeBatch{
			Messages:   []out.RawMessage{{ProviderMessageID: "m1", FolderRemoteID: "INBOX"}},
			NextCursor: "cursor-1",
		}, nil
	}}
	disc := &fakeDiscovery{folders: []*domain.Folder{
		{AccountID: 1, RemoteID: "INBOX", Canonical: domain.FolderInbox, Confidence: 0.95, Enabled: true},
	}}
	cfg := syncConfig()
	cfg.FolderDiscovery = disc
	h := newHarness(t, adapter, cfg)

	if err := h.orch.RequestSync(context.Background(), 1, domain.TriggerManual); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	if disc.calls != 1 {
		t.Errorf("discovery calls = %d, want 1", disc.calls)
	}
	if len(h.emails.emails) != 1 || h.emails.emails[0].Folder != domain.FolderInbox {
		t.Fatalf("stored emails = %+v, want one inbox email", h.emails.emails)
	}
}
