package domain

import (
	"time"
)

// =============================================================================
// Webhook Subscription
// =============================================================================

// SubscriptionStatus follows the per-subscription state machine:
//
//	none → pending → active → (renewing → active | expired)
type SubscriptionStatus string

const (
	SubscriptionPending  SubscriptionStatus = "pending"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionRenewing SubscriptionStatus = "renewing"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// WebhookSubscription is one provider-side push registration. The account
// reference is a weak link: inbound pushes resolve the owning account by
// subscription id but never own it.
type WebhookSubscription struct {
	ID        int64    `json:"id"`
	AccountID int64    `json:"account_id"`
	Provider  Provider `json:"provider"`

	// Provider-issued subscription id (Graph subscription id, Gmail watch
	// channel/topic)
	SubscriptionID string `json:"subscription_id"`
	Resource       string `json:"resource,omitempty"`

	// ClientState is the validation secret echoed by the provider on every
	// push. Compared constant-time; mismatch drops the push.
	ClientState string `json:"-"`

	Status        SubscriptionStatus `json:"status"`
	ExpiresAt     time.Time          `json:"expires_at"`
	RenewFailures int                `json:"renew_failures"`
	LastError     string             `json:"last_error,omitempty"`

	LastRenewedAt   *time.Time `json:"last_renewed_at,omitempty"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired checks if past expiry.
func (w *WebhookSubscription) IsExpired() bool {
	return time.Now().After(w.ExpiresAt)
}

// NeedsRenewal checks if the subscription expires within the window.
func (w *WebhookSubscription) NeedsRenewal(window time.Duration) bool {
	return time.Now().Add(window).After(w.ExpiresAt)
}

// =============================================================================
// Repository
// =============================================================================

type WebhookSubscriptionRepository interface {
	Create(sub *WebhookSubscription) error
	GetByID(id int64) (*WebhookSubscription, error)
	GetByAccountID(accountID int64) (*WebhookSubscription, error)
	GetBySubscriptionID(subscriptionID string) (*WebhookSubscription, error)
	Update(sub *WebhookSubscription) error
	Delete(id int64) error
	DeleteByAccountID(accountID int64) error

	ListExpiring(before time.Time) ([]*WebhookSubscription, error)
	ListByStatus(status SubscriptionStatus) ([]*WebhookSubscription, error)

	UpdateStatus(id int64, status SubscriptionStatus, lastError string) error
	UpdateExpiration(id int64, expiresAt time.Time, renewedAt time.Time) error
	IncrementRenewFailures(id int64) error
	ResetRenewFailures(id int64) error
	UpdateLastTriggered(id int64) error
}
