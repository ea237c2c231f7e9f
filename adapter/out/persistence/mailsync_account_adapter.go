package persistence

import (
	"database/sql"
	"time"

	"mailsync_server/core/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// AccountAdapter - 연결된 메일박스 계정
// =============================================================================

type AccountAdapter struct {
	db *sqlx.DB
}

func NewAccountAdapter(db *sqlx.DB) *AccountAdapter {
	return &AccountAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type accountEntity struct {
	ID          int64          `db:"id"`
	UserID      string         `db:"user_id"`
	Provider    string         `db:"provider"`
	Email       string         `db:"email"`
	DisplayName sql.NullString `db:"display_name"`

	Status            string         `db:"status"`
	ConsecutiveErrors int            `db:"consecutive_errors"`
	LastError         sql.NullString `db:"last_error"`
	ReconnectRequired bool           `db:"reconnect_required"`
	NextRetryAt       sql.NullTime   `db:"next_retry_at"`
	LastSyncedAt      sql.NullTime   `db:"last_synced_at"`

	WebhookSubscriptionID sql.NullInt64 `db:"webhook_subscription_id"`

	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
	DeletedAt sql.NullTime `db:"deleted_at"`
}

func (e *accountEntity) toDomain() *domain.Account {
	account := &domain.Account{
		ID:                e.ID,
		Provider:          domain.Provider(e.Provider),
		Email:             e.Email,
		Status:            domain.AccountStatus(e.Status),
		ConsecutiveErrors: e.ConsecutiveErrors,
		ReconnectRequired: e.ReconnectRequired,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}

	if uid, err := uuid.Parse(e.UserID); err == nil {
		account.UserID = uid
	}
	if e.DisplayName.Valid {
		account.DisplayName = e.DisplayName.String
	}
	if e.LastError.Valid {
		account.LastError = e.LastError.String
	}
	if e.NextRetryAt.Valid {
		t := e.NextRetryAt.Time
		account.NextRetryAt = &t
	}
	if e.LastSyncedAt.Valid {
		t := e.LastSyncedAt.Time
		account.LastSyncedAt = &t
	}
	if e.WebhookSubscriptionID.Valid {
		id := e.WebhookSubscriptionID.Int64
		account.WebhookSubscriptionID = &id
	}
	if e.DeletedAt.Valid {
		t := e.DeletedAt.Time
		account.DeletedAt = &t
	}

	return account
}

// =============================================================================
// CRUD
// =============================================================================

func (a *AccountAdapter) GetByID(id int64) (*domain.Account, error) {
	var entity accountEntity
	query := `SELECT * FROM accounts WHERE id = $1 AND deleted_at IS NULL`
	if err := a.db.Get(&entity, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *AccountAdapter) GetByProviderEmail(provider domain.Provider, email string) (*domain.Account, error) {
	var entity accountEntity
	query := `SELECT * FROM accounts WHERE provider = $1 AND email = $2 AND deleted_at IS NULL`
	if err := a.db.Get(&entity, query, string(provider), email); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *AccountAdapter) ListByUserID(userID uuid.UUID) ([]*domain.Account, error) {
	var entities []accountEntity
	query := `SELECT * FROM accounts WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at ASC`
	if err := a.db.Select(&entities, query, userID.String()); err != nil {
		return nil, err
	}
	return toAccounts(entities), nil
}

// ListSyncable returns accounts the scheduler may enqueue: not deleted,
// not quarantined, backoff window elapsed.
func (a *AccountAdapter) ListSyncable(now time.Time) ([]*domain.Account, error) {
	var entities []accountEntity
	query := `
		SELECT * FROM accounts
		WHERE deleted_at IS NULL
		  AND status NOT IN ('quarantined', 'syncing')
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY last_synced_at ASC NULLS FIRST
	`
	if err := a.db.Select(&entities, query, now); err != nil {
		return nil, err
	}
	return toAccounts(entities), nil
}

// ListActive returns every non-deleted account, for background sweeps
// that touch all mailboxes regardless of sync state.
func (a *AccountAdapter) ListActive() ([]*domain.Account, error) {
	var entities []accountEntity
	query := `SELECT * FROM accounts WHERE deleted_at IS NULL ORDER BY id ASC`
	if err := a.db.Select(&entities, query); err != nil {
		return nil, err
	}
	return toAccounts(entities), nil
}

func (a *AccountAdapter) Create(account *domain.Account) error {
	query := `
		INSERT INTO accounts (user_id, provider, email, display_name, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	status := account.Status
	if status == "" {
		status = domain.AccountStatusIdle
	}
	return a.db.QueryRow(query,
		account.UserID.String(),
		string(account.Provider),
		account.Email,
		toNullableString(account.DisplayName),
		string(status),
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
}

func (a *AccountAdapter) Update(account *domain.Account) error {
	query := `
		UPDATE accounts SET
			display_name = $1,
			updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
	`
	_, err := a.db.Exec(query, toNullableString(account.DisplayName), account.ID)
	return err
}

func (a *AccountAdapter) SoftDelete(id int64) error {
	query := `UPDATE accounts SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	_, err := a.db.Exec(query, id)
	return err
}

// =============================================================================
// 동기화 상태 - Orchestrator 전용
// =============================================================================

// UpdateSyncState writes one full status transition: status, error count,
// error message, reconnect flag and retry schedule move together.
func (a *AccountAdapter) UpdateSyncState(id int64, status domain.AccountStatus, consecutiveErrors int, lastError string, reconnectRequired bool, nextRetryAt *time.Time) error {
	query := `
		UPDATE accounts SET
			status = $1,
			consecutive_errors = $2,
			last_error = $3,
			reconnect_required = $4,
			next_retry_at = $5,
			updated_at = NOW()
		WHERE id = $6
	`
	var retryAt interface{}
	if nextRetryAt != nil {
		retryAt = *nextRetryAt
	}
	_, err := a.db.Exec(query, string(status), consecutiveErrors, toNullableString(lastError), reconnectRequired, retryAt, id)
	return err
}

func (a *AccountAdapter) UpdateLastSynced(id int64, at time.Time) error {
	query := `UPDATE accounts SET last_synced_at = $1, updated_at = NOW() WHERE id = $2`
	_, err := a.db.Exec(query, at, id)
	return err
}

func (a *AccountAdapter) SetWebhookSubscription(id int64, subscriptionID *int64) error {
	query := `UPDATE accounts SET webhook_subscription_id = $1, updated_at = NOW() WHERE id = $2`
	var subID interface{}
	if subscriptionID != nil {
		subID = *subscriptionID
	}
	_, err := a.db.Exec(query, subID, id)
	return err
}

func toAccounts(entities []accountEntity) []*domain.Account {
	accounts := make([]*domain.Account, len(entities))
	for i := range entities {
		accounts[i] = entities[i].toDomain()
	}
	return accounts
}
