package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mailsync_server/core/domain"
	portin "mailsync_server/core/port/in"
	"mailsync_server/core/port/out"

	"github.com/google/uuid"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeOrchestrator struct {
	mu    sync.Mutex
	calls []int64
}

func (o *fakeOrchestrator) RequestSync(ctx context.Context, accountID int64, trigger domain.SyncTrigger) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, accountID)
	return nil
}
func (o *fakeOrchestrator) RequestFullSync(ctx context.Context, accountID int64, trigger domain.SyncTrigger) error {
	return nil
}
func (o *fakeOrchestrator) Reconnect(ctx context.Context, accountID int64) error { return nil }
func (o *fakeOrchestrator) Status(ctx context.Context, accountID int64) (*portin.AccountSyncStatus, error) {
	return nil, nil
}

func (o *fakeOrchestrator) syncCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

type fakeWebhookRepo struct {
	mu   sync.Mutex
	subs map[int64]*domain.WebhookSubscription
	next int64
}

func newFakeWebhookRepo(subs ...*domain.WebhookSubscription) *fakeWebhookRepo {
	r := &fakeWebhookRepo{subs: make(map[int64]*domain.WebhookSubscription)}
	for _, s := range subs {
		r.subs[s.ID] = s
		if s.ID > r.next {
			r.next = s.ID
		}
	}
	return r
}

func (r *fakeWebhookRepo) Create(sub *domain.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	sub.ID = r.next
	r.subs[sub.ID] = sub
	return nil
}

func (r *fakeWebhookRepo) GetByID(id int64) (*domain.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id], nil
}

func (r *fakeWebhookRepo) GetByAccountID(accountID int64) (*domain.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.AccountID == accountID {
			return s, nil
		}
	}
	return nil, nil
}

func (r *fakeWebhookRepo) GetBySubscriptionID(subscriptionID string) (*domain.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.SubscriptionID == subscriptionID {
			return s, nil
		}
	}
	return nil, nil
}

func (r *fakeWebhookRepo) Update(sub *domain.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub
	return nil
}

func (r *fakeWebhookRepo) Delete(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

func (r *fakeWebhookRepo) DeleteByAccountID(accountID int64) error { return nil }

func (r *fakeWebhookRepo) ListExpiring(before time.Time) ([]*domain.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.WebhookSubscription
	for _, s := range r.subs {
		if s.ExpiresAt.Before(before) && (s.Status == domain.SubscriptionActive || s.Status == domain.SubscriptionRenewing) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *fakeWebhookRepo) ListByStatus(status domain.SubscriptionStatus) ([]*domain.WebhookSubscription, error) {
	return nil, nil
}

func (r *fakeWebhookRepo) UpdateStatus(id int64, status domain.SubscriptionStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[id]; ok {
		s.Status = status
		s.LastError = lastError
	}
	return nil
}

func (r *fakeWebhookRepo) UpdateExpiration(id int64, expiresAt time.Time, renewedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[id]; ok {
		s.ExpiresAt = expiresAt
		s.LastRenewedAt = &renewedAt
		s.Status = domain.SubscriptionActive
	}
	return nil
}

func (r *fakeWebhookRepo) IncrementRenewFailures(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[id]; ok {
		s.RenewFailures++
	}
	return nil
}

func (r *fakeWebhookRepo) ResetRenewFailures(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[id]; ok {
		s.RenewFailures = 0
	}
	return nil
}

func (r *fakeWebhookRepo) UpdateLastTriggered(id int64) error { return nil }

type fakeAccountRepo struct {
	accounts map[int64]*domain.Account
	byEmail  map[string]*domain.Account
	unlinked []int64
}

func (r *fakeAccountRepo) GetByID(id int64) (*domain.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

func (r *fakeAccountRepo) GetByProviderEmail(provider domain.Provider, email string) (*domain.Account, error) {
	a, ok := r.byEmail[email]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

func (r *fakeAccountRepo) ListByUserID(_ uuid.UUID) ([]*domain.Account, error)      { return nil, nil }
func (r *fakeAccountRepo) ListSyncable(now time.Time) ([]*domain.Account, error)    { return nil, nil }
func (r *fakeAccountRepo) ListActive() ([]*domain.Account, error)                   { return nil, nil }
func (r *fakeAccountRepo) Create(account *domain.Account) error                     { return nil }
func (r *fakeAccountRepo) Update(account *domain.Account) error                     { return nil }
func (r *fakeAccountRepo) SoftDelete(id int64) error                                { return nil }
func (r *fakeAccountRepo) UpdateLastSynced(id int64, at time.Time) error            { return nil }
func (r *fakeAccountRepo) UpdateSyncState(id int64, status domain.AccountStatus, consecutiveErrors int, lastError string, reconnectRequired bool, nextRetryAt *time.Time) error {
	return nil
}

func (r *fakeAccountRepo) SetWebhookSubscription(id int64, subscriptionID *int64) error {
	if subscriptionID == nil {
		r.unlinked = append(r.unlinked, id)
	}
	return nil
}

type fakeCredentials struct{}

func (fakeCredentials) Access(ctx context.Context, account *domain.Account) (*out.AccessCredential, error) {
	return &out.AccessCredential{Mailbox: account.Email}, nil
}

type fakeAdapter struct {
	renewErr error
	renews   int
}

func (a *fakeAdapter) ProviderType() domain.Provider { return domain.ProviderMicrosoft }
func (a *fakeAdapter) FetchChanges(ctx context.Context, cred *out.AccessCredential, req *out.FetchRequest) (*out.ChangeBatch, error) {
	return nil, nil
}
func (a *fakeAdapter) ListFolders(ctx context.Context, cred *out.AccessCredential) ([]out.ProviderFolder, error) {
	return nil, nil
}
func (a *fakeAdapter) CreateWebhook(ctx context.Context, cred *out.AccessCredential, req *out.WebhookRequest) (*out.WebhookResult, error) {
	return &out.WebhookResult{SubscriptionID: "sub-new", ExpiresAt: time.Now().Add(72 * time.Hour)}, nil
}
func (a *fakeAdapter) RenewWebhook(ctx context.Context, cred *out.AccessCredential, id string) (*out.WebhookResult, error) {
	a.renews++
	if a.renewErr != nil {
		return nil, a.renewErr
	}
	return &out.WebhookResult{SubscriptionID: id, ExpiresAt: time.Now().Add(72 * time.Hour)}, nil
}
func (a *fakeAdapter) StopWebhook(ctx context.Context, cred *out.AccessCredential, id string) error {
	return nil
}

type fakeRegistry struct{ adapter out.ProviderAdapterPort }

func (r fakeRegistry) Adapter(provider domain.Provider) (out.ProviderAdapterPort, error) {
	return r.adapter, nil
}

// =============================================================================
// Tests
// =============================================================================

func graphAccount() *domain.Account {
	return &domain.Account{ID: 7, Provider: domain.ProviderMicrosoft, Email: "g@example.com", Status: domain.AccountStatusIdle}
}

// TestHandleGraphPushValidClientState verifies a matching client state
// routes into RequestSync.
func TestHandleGraphPushValidClientState(t *testing.T) {
	orch := &fakeOrchestrator{}
	webhookRepo := newFakeWebhookRepo(&domain.WebhookSubscription{
		ID: 1, AccountID: 7, Provider: domain.ProviderMicrosoft,
		SubscriptionID: "sub-1", ClientState: "secret-token", Status: domain.SubscriptionActive,
	})
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.Account{7: graphAccount()}}

	svc := NewService(accounts, webhookRepo, fakeCredentials{}, fakeRegistry{&fakeAdapter{}}, orch, nil, nil)

	if err := svc.HandleGraphPush(context.Background(), "sub-1", "secret-token"); err != nil {
		t.Fatalf("HandleGraphPush: %v", err)
	}
	if orch.syncCount() != 1 {
		t.Errorf("RequestSync calls = %d, want 1", orch.syncCount())
	}
}

// TestHandleGraphPushFailsClosed verifies a wrong or unknown client
// state never triggers a sync.
func TestHandleGraphPushFailsClosed(t *testing.T) {
	tests := []struct {
		name           string
		subscriptionID string
		clientState    string
	}{
		{"wrong client state", "sub-1", "attacker-guess"},
		{"empty client state", "sub-1", ""},
		{"unknown subscription", "sub-unknown", "secret-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &fakeOrchestrator{}
			webhookRepo := newFakeWebhookRepo(&domain.WebhookSubscription{
				ID: 1, AccountID: 7, SubscriptionID: "sub-1",
				ClientState: "secret-token", Status: domain.SubscriptionActive,
			})
			accounts := &fakeAccountRepo{accounts: map[int64]*domain.Account{7: graphAccount()}}
			svc := NewService(accounts, webhookRepo, fakeCredentials{}, fakeRegistry{&fakeAdapter{}}, orch, nil, nil)

			err := svc.HandleGraphPush(context.Background(), tt.subscriptionID, tt.clientState)
			if !errors.Is(err, domain.ErrValidationFailed) {
				t.Errorf("HandleGraphPush = %v, want ErrValidationFailed", err)
			}
			if orch.syncCount() != 0 {
				t.Errorf("RequestSync calls = %d, want 0 (fail closed)", orch.syncCount())
			}
		})
	}
}

// TestHandleGmailPushUnknownMailbox verifies pushes for mailboxes we
// don't know are dropped.
func TestHandleGmailPushUnknownMailbox(t *testing.T) {
	orch := &fakeOrchestrator{}
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.Account{}, byEmail: map[string]*domain.Account{}}
	svc := NewService(accounts, newFakeWebhookRepo(), fakeCredentials{}, fakeRegistry{&fakeAdapter{}}, orch, nil, nil)

	err := svc.HandleGmailPush(context.Background(), "nobody@example.com", 42, "")
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Errorf("HandleGmailPush = %v, want ErrValidationFailed", err)
	}
	if orch.syncCount() != 0 {
		t.Errorf("RequestSync calls = %d, want 0", orch.syncCount())
	}
}

// TestRenewExpiringSuccess verifies an expiring subscription gets a new
// expiry and its failure count reset.
func TestRenewExpiringSuccess(t *testing.T) {
	adapter := &fakeAdapter{}
	sub := &domain.WebhookSubscription{
		ID: 1, AccountID: 7, Provider: domain.ProviderMicrosoft,
		SubscriptionID: "sub-1", Status: domain.SubscriptionActive,
		ExpiresAt: time.Now().Add(6 * time.Hour), RenewFailures: 1,
	}
	webhookRepo := newFakeWebhookRepo(sub)
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.Account{7: graphAccount()}}
	svc := NewService(accounts, webhookRepo, fakeCredentials{}, fakeRegistry{adapter}, &fakeOrchestrator{}, nil, nil)

	if err := svc.RenewExpiring(context.Background()); err != nil {
		t.Fatalf("RenewExpiring: %v", err)
	}

	if adapter.renews != 1 {
		t.Fatalf("renew calls = %d, want 1", adapter.renews)
	}
	got, _ := webhookRepo.GetByID(1)
	if got.Status != domain.SubscriptionActive {
		t.Errorf("status = %v, want active", got.Status)
	}
	if got.RenewFailures != 0 {
		t.Errorf("renewFailures = %d, want 0", got.RenewFailures)
	}
	if time.Until(got.ExpiresAt) < 48*time.Hour {
		t.Errorf("expiry not extended: %v", got.ExpiresAt)
	}
}

// TestRenewFailureLimitFallsBackToPolling verifies the subscription
// expires past the failure limit and the account keeps polling.
func TestRenewFailureLimitFallsBackToPolling(t *testing.T) {
	adapter := &fakeAdapter{renewErr: errors.New("subscription gone")}
	sub := &domain.WebhookSubscription{
		ID: 1, AccountID: 7, Provider: domain.ProviderMicrosoft,
		SubscriptionID: "sub-1", Status: domain.SubscriptionActive,
		ExpiresAt: time.Now().Add(time.Hour), RenewFailures: 2,
	}
	webhookRepo := newFakeWebhookRepo(sub)
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.Account{7: graphAccount()}}
	svc := NewService(accounts, webhookRepo, fakeCredentials{}, fakeRegistry{adapter}, &fakeOrchestrator{}, nil, nil)

	if err := svc.RenewExpiring(context.Background()); err != nil {
		t.Fatalf("RenewExpiring: %v", err)
	}

	got, _ := webhookRepo.GetByID(1)
	if got.Status != domain.SubscriptionExpired {
		t.Errorf("status = %v, want expired", got.Status)
	}
	if len(accounts.unlinked) != 1 || accounts.unlinked[0] != 7 {
		t.Errorf("account not unlinked from subscription: %v", accounts.unlinked)
	}
}

// TestCreateSubscriptionUnsupportedProvider verifies relay accounts are
// rejected up front.
func TestCreateSubscriptionUnsupportedProvider(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.Account{
		3: {ID: 3, Provider: domain.ProviderIMAP, Email: "imap@example.com"},
	}}
	svc := NewService(accounts, newFakeWebhookRepo(), fakeCredentials{}, fakeRegistry{&fakeAdapter{}}, &fakeOrchestrator{}, nil, nil)

	_, err := svc.CreateSubscription(context.Background(), 3)
	if !errors.Is(err, domain.ErrWebhookUnsupported) {
		t.Errorf("CreateSubscription = %v, want ErrWebhookUnsupported", err)
	}
}
