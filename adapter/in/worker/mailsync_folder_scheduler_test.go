package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
)

type fakeAccountLister struct {
	active []*domain.Account
}

func (r *fakeAccountLister) GetByID(id int64) (*domain.Account, error) { return nil, nil }
func (r *fakeAccountLister) GetByProviderEmail(provider domain.Provider, email string) (*domain.Account, error) {
	return nil, nil
}
func (r *fakeAccountLister) ListByUserID(_ uuid.UUID) ([]*domain.Account, error) { return nil, nil }
func (r *fakeAccountLister) ListSyncable(now time.Time) ([]*domain.Account, error) {
	return nil, nil
}
func (r *fakeAccountLister) ListActive() ([]*domain.Account, error)      { return r.active, nil }
func (r *fakeAccountLister) Create(account *domain.Account) error        { return nil }
func (r *fakeAccountLister) Update(account *domain.Account) error        { return nil }
func (r *fakeAccountLister) SoftDelete(id int64) error                   { return nil }
func (r *fakeAccountLister) UpdateLastSynced(id int64, at time.Time) error { return nil }
func (r *fakeAccountLister) UpdateSyncState(id int64, status domain.AccountStatus, consecutiveErrors int, lastError string, reconnectRequired bool, nextRetryAt *time.Time) error {
	return nil
}
func (r *fakeAccountLister) SetWebhookSubscription(id int64, subscriptionID *int64) error {
	return nil
}

type fakeProducer struct {
	refreshed []int64
}

func (p *fakeProducer) PublishSync(ctx context.Context, job *out.SyncJobMessage) error { return nil }
func (p *fakeProducer) PublishWebhookRenew(ctx context.Context, job *out.WebhookRenewMessage) error {
	return nil
}
func (p *fakeProducer) PublishFolderRefresh(ctx context.Context, job *out.FolderRefreshMessage) error {
	p.refreshed = append(p.refreshed, job.AccountID)
	return nil
}

// The daily sweep publishes one folder refresh per active account so
// label renames eventually reach the classifier.
func TestFolderSweepPublishesActiveAccounts(t *testing.T) {
	repo := &fakeAccountLister{active: []*domain.Account{
		{ID: 1, Provider: domain.ProviderGmail},
		{ID: 2, Provider: domain.ProviderMicrosoft},
	}}
	producer := &fakeProducer{}

	s := NewFolderScheduler(repo, producer)
	defer s.Stop()
	s.enqueueFolderSweep()

	if len(producer.refreshed) != 2 {
		t.Fatalf("published refreshes = %d, want 2", len(producer.refreshed))
	}
	if producer.refreshed[0] != 1 || producer.refreshed[1] != 2 {
		t.Errorf("refreshed accounts = %v, want [1 2]", producer.refreshed)
	}
}
