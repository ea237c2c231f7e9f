package persistence

import (
	"database/sql"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/pkg/crypto"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// WebhookAdapter - provider push 구독
// =============================================================================

type WebhookAdapter struct {
	db *sqlx.DB
}

func NewWebhookAdapter(db *sqlx.DB) *WebhookAdapter {
	return &WebhookAdapter{db: db}
}

type webhookEntity struct {
	ID             int64          `db:"id"`
	AccountID      int64          `db:"account_id"`
	Provider       string         `db:"provider"`
	SubscriptionID string         `db:"subscription_id"`
	Resource       sql.NullString `db:"resource"`
	ClientState    sql.NullString `db:"client_state"`

	Status        string         `db:"status"`
	ExpiresAt     time.Time      `db:"expires_at"`
	RenewFailures int            `db:"renew_failures"`
	LastError     sql.NullString `db:"last_error"`

	LastRenewedAt   sql.NullTime `db:"last_renewed_at"`
	LastTriggeredAt sql.NullTime `db:"last_triggered_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *webhookEntity) toDomain() *domain.WebhookSubscription {
	sub := &domain.WebhookSubscription{
		ID:             e.ID,
		AccountID:      e.AccountID,
		Provider:       domain.Provider(e.Provider),
		SubscriptionID: e.SubscriptionID,
		Status:         domain.SubscriptionStatus(e.Status),
		ExpiresAt:      e.ExpiresAt,
		RenewFailures:  e.RenewFailures,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}

	if e.Resource.Valid {
		sub.Resource = e.Resource.String
	}
	if e.ClientState.Valid {
		sub.ClientState = decryptClientState(e.ClientState.String)
	}
	if e.LastError.Valid {
		sub.LastError = e.LastError.String
	}
	if e.LastRenewedAt.Valid {
		t := e.LastRenewedAt.Time
		sub.LastRenewedAt = &t
	}
	if e.LastTriggeredAt.Valid {
		t := e.LastTriggeredAt.Time
		sub.LastTriggeredAt = &t
	}

	return sub
}

// client_state는 검증 비밀이므로 토큰과 같은 방식으로 암호화 저장
func encryptClientState(state string) string {
	if state == "" {
		return state
	}
	encrypted, err := crypto.EncryptCredential(state)
	if err != nil {
		return state
	}
	return encrypted
}

func decryptClientState(state string) string {
	if state == "" || !crypto.IsEncrypted(state) {
		return state
	}
	decrypted, err := crypto.DecryptCredential(state)
	if err != nil {
		return state
	}
	return decrypted
}

// =============================================================================
// CRUD
// =============================================================================

func (a *WebhookAdapter) Create(sub *domain.WebhookSubscription) error {
	query := `
		INSERT INTO webhook_subscriptions (
			account_id, provider, subscription_id, resource, client_state,
			status, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	return a.db.QueryRow(query,
		sub.AccountID,
		string(sub.Provider),
		sub.SubscriptionID,
		toNullableString(sub.Resource),
		toNullableString(encryptClientState(sub.ClientState)),
		string(sub.Status),
		sub.ExpiresAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
}

func (a *WebhookAdapter) GetByID(id int64) (*domain.WebhookSubscription, error) {
	var entity webhookEntity
	if err := a.db.Get(&entity, `SELECT * FROM webhook_subscriptions WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *WebhookAdapter) GetByAccountID(accountID int64) (*domain.WebhookSubscription, error) {
	var entity webhookEntity
	query := `SELECT * FROM webhook_subscriptions WHERE account_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := a.db.Get(&entity, query, accountID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *WebhookAdapter) GetBySubscriptionID(subscriptionID string) (*domain.WebhookSubscription, error) {
	var entity webhookEntity
	query := `SELECT * FROM webhook_subscriptions WHERE subscription_id = $1`
	if err := a.db.Get(&entity, query, subscriptionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *WebhookAdapter) Update(sub *domain.WebhookSubscription) error {
	query := `
		UPDATE webhook_subscriptions SET
			subscription_id = $1,
			resource = $2,
			client_state = $3,
			status = $4,
			expires_at = $5,
			renew_failures = $6,
			last_error = $7,
			last_renewed_at = $8,
			updated_at = NOW()
		WHERE id = $9
	`
	_, err := a.db.Exec(query,
		sub.SubscriptionID,
		toNullableString(sub.Resource),
		toNullableString(encryptClientState(sub.ClientState)),
		string(sub.Status),
		sub.ExpiresAt,
		sub.RenewFailures,
		toNullableString(sub.LastError),
		toNullableTimePtr(sub.LastRenewedAt),
		sub.ID,
	)
	return err
}

func (a *WebhookAdapter) Delete(id int64) error {
	_, err := a.db.Exec(`DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	return err
}

func (a *WebhookAdapter) DeleteByAccountID(accountID int64) error {
	_, err := a.db.Exec(`DELETE FROM webhook_subscriptions WHERE account_id = $1`, accountID)
	return err
}

// =============================================================================
// 갱신 스케줄러 지원
// =============================================================================

func (a *WebhookAdapter) ListExpiring(before time.Time) ([]*domain.WebhookSubscription, error) {
	var entities []webhookEntity
	query := `
		SELECT * FROM webhook_subscriptions
		WHERE expires_at < $1
		  AND status IN ('active', 'renewing')
		ORDER BY expires_at ASC
	`
	if err := a.db.Select(&entities, query, before); err != nil {
		return nil, err
	}
	return toSubscriptions(entities), nil
}

func (a *WebhookAdapter) ListByStatus(status domain.SubscriptionStatus) ([]*domain.WebhookSubscription, error) {
	var entities []webhookEntity
	query := `SELECT * FROM webhook_subscriptions WHERE status = $1 ORDER BY expires_at ASC`
	if err := a.db.Select(&entities, query, string(status)); err != nil {
		return nil, err
	}
	return toSubscriptions(entities), nil
}

func (a *WebhookAdapter) UpdateStatus(id int64, status domain.SubscriptionStatus, lastError string) error {
	query := `
		UPDATE webhook_subscriptions SET
			status = $1,
			last_error = $2,
			updated_at = NOW()
		WHERE id = $3
	`
	_, err := a.db.Exec(query, string(status), toNullableString(lastError), id)
	return err
}

func (a *WebhookAdapter) UpdateExpiration(id int64, expiresAt time.Time, renewedAt time.Time) error {
	query := `
		UPDATE webhook_subscriptions SET
			expires_at = $1,
			last_renewed_at = $2,
			status = 'active',
			updated_at = NOW()
		WHERE id = $3
	`
	_, err := a.db.Exec(query, expiresAt, renewedAt, id)
	return err
}

func (a *WebhookAdapter) IncrementRenewFailures(id int64) error {
	query := `UPDATE webhook_subscriptions SET renew_failures = renew_failures + 1, updated_at = NOW() WHERE id = $1`
	_, err := a.db.Exec(query, id)
	return err
}

func (a *WebhookAdapter) ResetRenewFailures(id int64) error {
	query := `UPDATE webhook_subscriptions SET renew_failures = 0, last_error = NULL, updated_at = NOW() WHERE id = $1`
	_, err := a.db.Exec(query, id)
	return err
}

func (a *WebhookAdapter) UpdateLastTriggered(id int64) error {
	query := `UPDATE webhook_subscriptions SET last_triggered_at = NOW() WHERE id = $1`
	_, err := a.db.Exec(query, id)
	return err
}

func toSubscriptions(entities []webhookEntity) []*domain.WebhookSubscription {
	subs := make([]*domain.WebhookSubscription, len(entities))
	for i := range entities {
		subs[i] = entities[i].toDomain()
	}
	return subs
}
