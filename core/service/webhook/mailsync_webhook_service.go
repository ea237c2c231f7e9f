// Package webhook owns provider push subscription lifecycle and inbound
// push validation/routing.
package webhook

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"mailsync_server/core/domain"
	portin "mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/cache"
	"mailsync_server/pkg/logger"
)

const (
	// DefaultRenewalWindow: subscriptions expiring within this window are
	// renewed by the daily scheduler.
	DefaultRenewalWindow = 24 * time.Hour

	// DefaultRenewFailureLimit: past this many consecutive renewal
	// failures the subscription is marked expired and the account falls
	// back to polling. The account itself stays healthy.
	DefaultRenewFailureLimit = 3

	// Dedup TTLs for inbound push bursts.
	gmailDedupTTL = 10 * time.Minute
	graphDedupTTL = 5 * time.Second
)

// =============================================================================
// WebhookService - 구독 상태머신 + inbound push 검증
// =============================================================================

type Service struct {
	accountRepo domain.AccountRepository
	webhookRepo domain.WebhookSubscriptionRepository
	credentials out.CredentialPort
	providers   out.ProviderRegistry
	orch        portin.SyncOrchestrator
	dedup       *cache.RedisCache

	notificationBaseURL string
	renewalWindow       time.Duration
	renewFailureLimit   int
}

type Config struct {
	// NotificationBaseURL is the public base (e.g. https://api.example.com);
	// provider paths are appended per provider.
	NotificationBaseURL string
	RenewalWindow       time.Duration
	RenewFailureLimit   int
}

func NewService(
	accountRepo domain.AccountRepository,
	webhookRepo domain.WebhookSubscriptionRepository,
	credentials out.CredentialPort,
	providers out.ProviderRegistry,
	orch portin.SyncOrchestrator,
	dedup *cache.RedisCache,
	cfg *Config,
) *Service {
	if cfg == nil {
		cfg = &Config{}
	}
	s := &Service{
		accountRepo:         accountRepo,
		webhookRepo:         webhookRepo,
		credentials:         credentials,
		providers:           providers,
		orch:                orch,
		dedup:               dedup,
		notificationBaseURL: cfg.NotificationBaseURL,
		renewalWindow:       cfg.RenewalWindow,
		renewFailureLimit:   cfg.RenewFailureLimit,
	}
	if s.renewalWindow == 0 {
		s.renewalWindow = DefaultRenewalWindow
	}
	if s.renewFailureLimit == 0 {
		s.renewFailureLimit = DefaultRenewFailureLimit
	}
	return s
}

// =============================================================================
// Subscription lifecycle
// =============================================================================

// CreateSubscription registers a push channel for the account. The row
// starts pending and flips to active once the provider confirms.
func (s *Service) CreateSubscription(ctx context.Context, accountID int64) (*domain.WebhookSubscription, error) {
	account, err := s.accountRepo.GetByID(accountID)
	if err != nil {
		return nil, err
	}
	if !account.Provider.SupportsWebhook() {
		return nil, domain.ErrWebhookUnsupported
	}

	adapter, err := s.providers.Adapter(account.Provider)
	if err != nil {
		return nil, err
	}

	cred, err := s.credentials.Access(ctx, account)
	if err != nil {
		return nil, err
	}

	clientState, err := generateClientState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate client state: %w", err)
	}

	sub := &domain.WebhookSubscription{
		AccountID:   accountID,
		Provider:    account.Provider,
		ClientState: clientState,
		Status:      domain.SubscriptionPending,
	}
	if err := s.webhookRepo.Create(sub); err != nil {
		return nil, err
	}

	result, err := adapter.CreateWebhook(ctx, cred, &out.WebhookRequest{
		NotificationURL: s.notificationURL(account.Provider),
		ClientState:     clientState,
	})
	if err != nil {
		s.webhookRepo.UpdateStatus(sub.ID, domain.SubscriptionExpired, err.Error())
		return nil, fmt.Errorf("provider webhook registration failed: %w", err)
	}

	sub.SubscriptionID = result.SubscriptionID
	sub.Resource = result.Resource
	sub.ExpiresAt = result.ExpiresAt
	sub.Status = domain.SubscriptionActive
	if err := s.webhookRepo.Update(sub); err != nil {
		return nil, err
	}

	if err := s.accountRepo.SetWebhookSubscription(accountID, &sub.ID); err != nil {
		logger.Warn("[WebhookService] Failed to link subscription %d to account %d: %v", sub.ID, accountID, err)
	}

	logger.Info("[WebhookService] Subscription %d active for account %d (expires %s)",
		sub.ID, accountID, sub.ExpiresAt.Format(time.RFC3339))
	return sub, nil
}

// StopSubscription tears down the provider channel and removes the row.
func (s *Service) StopSubscription(ctx context.Context, accountID int64) error {
	account, err := s.accountRepo.GetByID(accountID)
	if err != nil {
		return err
	}

	sub, err := s.webhookRepo.GetByAccountID(accountID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	adapter, err := s.providers.Adapter(account.Provider)
	if err != nil {
		return err
	}

	cred, err := s.credentials.Access(ctx, account)
	if err != nil {
		return err
	}

	if err := adapter.StopWebhook(ctx, cred, sub.SubscriptionID); err != nil {
		// provider 쪽이 이미 사라진 경우에도 로컬 정리는 진행
		logger.Warn("[WebhookService] Provider stop failed for subscription %d: %v", sub.ID, err)
	}

	if err := s.webhookRepo.Delete(sub.ID); err != nil {
		return err
	}
	return s.accountRepo.SetWebhookSubscription(accountID, nil)
}

// RenewExpiring renews every subscription expiring within the window.
// Runs on the daily scheduler.
func (s *Service) RenewExpiring(ctx context.Context) error {
	expiring, err := s.webhookRepo.ListExpiring(time.Now().Add(s.renewalWindow))
	if err != nil {
		return err
	}

	logger.Info("[WebhookService] %d subscriptions due for renewal", len(expiring))

	for _, sub := range expiring {
		if err := s.renewOne(ctx, sub); err != nil {
			logger.Error("[WebhookService] Renewal failed for subscription %d (account %d): %v",
				sub.ID, sub.AccountID, err)
		}
	}
	return nil
}

func (s *Service) renewOne(ctx context.Context, sub *domain.WebhookSubscription) error {
	account, err := s.accountRepo.GetByID(sub.AccountID)
	if err != nil {
		return err
	}

	adapter, err := s.providers.Adapter(account.Provider)
	if err != nil {
		return err
	}

	cred, err := s.credentials.Access(ctx, account)
	if err != nil {
		return s.recordRenewFailure(sub, err)
	}

	if err := s.webhookRepo.UpdateStatus(sub.ID, domain.SubscriptionRenewing, ""); err != nil {
		return err
	}

	result, err := adapter.RenewWebhook(ctx, cred, sub.SubscriptionID)
	if err != nil {
		return s.recordRenewFailure(sub, err)
	}

	// Gmail은 watch 재등록이라 subscription id가 바뀐다
	if result.SubscriptionID != "" && result.SubscriptionID != sub.SubscriptionID {
		sub.SubscriptionID = result.SubscriptionID
		sub.ExpiresAt = result.ExpiresAt
		sub.Status = domain.SubscriptionActive
		if err := s.webhookRepo.Update(sub); err != nil {
			return err
		}
	} else {
		if err := s.webhookRepo.UpdateExpiration(sub.ID, result.ExpiresAt, time.Now()); err != nil {
			return err
		}
	}

	return s.webhookRepo.ResetRenewFailures(sub.ID)
}

// recordRenewFailure counts the failure; past the limit the subscription
// expires and the account falls back to polling, without failing the
// account itself.
func (s *Service) recordRenewFailure(sub *domain.WebhookSubscription, renewErr error) error {
	if err := s.webhookRepo.IncrementRenewFailures(sub.ID); err != nil {
		return err
	}

	if sub.RenewFailures+1 >= s.renewFailureLimit {
		logger.Warn("[WebhookService] Subscription %d expired after %d renewal failures, account %d falls back to polling",
			sub.ID, sub.RenewFailures+1, sub.AccountID)
		if err := s.webhookRepo.UpdateStatus(sub.ID, domain.SubscriptionExpired, renewErr.Error()); err != nil {
			return err
		}
		return s.accountRepo.SetWebhookSubscription(sub.AccountID, nil)
	}

	return s.webhookRepo.UpdateStatus(sub.ID, domain.SubscriptionActive, renewErr.Error())
}

// =============================================================================
// Inbound pushes
// =============================================================================

// HandleGmailPush routes a Pub/Sub-delivered Gmail notification.
// Dedupes on the Pub/Sub message id, then coalesces into RequestSync.
func (s *Service) HandleGmailPush(ctx context.Context, emailAddress string, historyID uint64, messageID string) error {
	if messageID != "" && s.dedup != nil {
		fresh, err := s.dedup.SetNX(ctx, "webhook:dedup:gmail:"+messageID, "1", gmailDedupTTL)
		if err != nil {
			logger.Warn("[WebhookService] Dedup check failed, processing anyway: %v", err)
		} else if !fresh {
			return nil // Pub/Sub 재전송
		}
	}

	account, err := s.accountRepo.GetByProviderEmail(domain.ProviderGmail, emailAddress)
	if err != nil {
		logger.Warn("[WebhookService] Gmail push for unknown mailbox %s", emailAddress)
		return domain.ErrValidationFailed
	}

	s.touchSubscription(account.ID)
	return s.requestSync(ctx, account.ID)
}

// HandleGraphPush validates a Graph notification's clientState with a
// constant-time compare. Fails closed: unknown subscription or mismatch
// drops the push without syncing.
func (s *Service) HandleGraphPush(ctx context.Context, subscriptionID, clientState string) error {
	sub, err := s.webhookRepo.GetBySubscriptionID(subscriptionID)
	if err != nil || sub == nil {
		return domain.ErrValidationFailed
	}

	if subtle.ConstantTimeCompare([]byte(clientState), []byte(sub.ClientState)) != 1 {
		logger.Warn("[WebhookService] Client state mismatch for subscription %s, push dropped", subscriptionID)
		return domain.ErrValidationFailed
	}

	if s.dedup != nil {
		fresh, err := s.dedup.SetNX(ctx, "webhook:dedup:graph:"+strconv.FormatInt(sub.ID, 10), "1", graphDedupTTL)
		if err == nil && !fresh {
			return nil // 버스트 흡수, coalesce는 orchestrator가 처리
		}
	}

	s.touchSubscription(sub.AccountID)
	return s.requestSync(ctx, sub.AccountID)
}

func (s *Service) requestSync(ctx context.Context, accountID int64) error {
	err := s.orch.RequestSync(ctx, accountID, domain.TriggerWebhook)
	if err == domain.ErrAlreadySyncing || err == domain.ErrAccountQuarantined {
		// push는 항상 ACK 대상: 격리/진행 중은 호출자 입장에서 에러가 아님
		return nil
	}
	return err
}

func (s *Service) touchSubscription(accountID int64) {
	sub, err := s.webhookRepo.GetByAccountID(accountID)
	if err != nil || sub == nil {
		return
	}
	if err := s.webhookRepo.UpdateLastTriggered(sub.ID); err != nil {
		logger.Debug("[WebhookService] last_triggered update failed for subscription %d: %v", sub.ID, err)
	}
}

func (s *Service) notificationURL(provider domain.Provider) string {
	switch provider {
	case domain.ProviderMicrosoft:
		return s.notificationBaseURL + "/webhooks/microsoft"
	default:
		return s.notificationBaseURL + "/webhooks/gmail"
	}
}

func generateClientState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

var _ portin.WebhookManager = (*Service)(nil)
