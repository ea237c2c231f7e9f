package persistence

import (
	"database/sql"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/pkg/crypto"
	"mailsync_server/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// CredentialAdapter stores account secrets, encrypted at rest.
type CredentialAdapter struct {
	db                *sqlx.DB
	encryptionEnabled bool
}

func NewCredentialAdapter(db *sqlx.DB) *CredentialAdapter {
	err := crypto.Init()
	encryptionEnabled := err == nil
	if !encryptionEnabled {
		logger.Warn("Credential encryption disabled: %v", err)
	} else {
		logger.Info("Credential encryption enabled")
	}

	return &CredentialAdapter{
		db:                db,
		encryptionEnabled: encryptionEnabled,
	}
}

func (a *CredentialAdapter) encrypt(secret string) string {
	if !a.encryptionEnabled || secret == "" {
		return secret
	}
	encrypted, err := crypto.EncryptCredential(secret)
	if err != nil {
		logger.Warn("Failed to encrypt credential: %v", err)
		return secret
	}
	return encrypted
}

func (a *CredentialAdapter) decrypt(secret string) string {
	if secret == "" || !crypto.IsEncrypted(secret) {
		return secret
	}
	decrypted, err := crypto.DecryptCredential(secret)
	if err != nil {
		// 암호화 이전 레거시 값일 수 있음
		return secret
	}
	return decrypted
}

type credentialEntity struct {
	AccountID      int64          `db:"account_id"`
	AccessToken    sql.NullString `db:"access_token"`
	RefreshToken   sql.NullString `db:"refresh_token"`
	TokenExpiry    sql.NullTime   `db:"token_expiry"`
	RelayAccessKey sql.NullString `db:"relay_access_key"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (a *CredentialAdapter) Get(accountID int64) (*domain.Credential, error) {
	var entity credentialEntity
	query := `SELECT * FROM account_credentials WHERE account_id = $1`
	if err := a.db.Get(&entity, query, accountID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	cred := &domain.Credential{
		AccountID: entity.AccountID,
		UpdatedAt: entity.UpdatedAt,
	}
	if entity.AccessToken.Valid {
		cred.AccessToken = a.decrypt(entity.AccessToken.String)
	}
	if entity.RefreshToken.Valid {
		cred.RefreshToken = a.decrypt(entity.RefreshToken.String)
	}
	if entity.TokenExpiry.Valid {
		cred.TokenExpiry = entity.TokenExpiry.Time
	}
	if entity.RelayAccessKey.Valid {
		cred.RelayAccessKey = a.decrypt(entity.RelayAccessKey.String)
	}
	return cred, nil
}

func (a *CredentialAdapter) Save(cred *domain.Credential) error {
	query := `
		INSERT INTO account_credentials (account_id, access_token, refresh_token, token_expiry, relay_access_key, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			relay_access_key = EXCLUDED.relay_access_key,
			updated_at = NOW()
	`
	_, err := a.db.Exec(query,
		cred.AccountID,
		toNullableString(a.encrypt(cred.AccessToken)),
		toNullableString(a.encrypt(cred.RefreshToken)),
		toNullableTime(cred.TokenExpiry),
		toNullableString(a.encrypt(cred.RelayAccessKey)),
	)
	return err
}

func (a *CredentialAdapter) Delete(accountID int64) error {
	_, err := a.db.Exec(`DELETE FROM account_credentials WHERE account_id = $1`, accountID)
	return err
}
