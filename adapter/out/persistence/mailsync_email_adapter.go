package persistence

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/pkg/snowflake"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// EmailAdapter - canonical email 저장소
// =============================================================================

type EmailAdapter struct {
	db *sqlx.DB
}

func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type emailEntity struct {
	ID                int64          `db:"id"`
	AccountID         int64          `db:"account_id"`
	ProviderMessageID string         `db:"provider_message_id"`
	ThreadID          sql.NullString `db:"thread_id"`

	Folder           string  `db:"folder"`
	FolderConfidence float64 `db:"folder_confidence"`

	Subject   string         `db:"subject"`
	Snippet   sql.NullString `db:"snippet"`
	FromEmail string         `db:"from_email"`
	FromName  sql.NullString `db:"from_name"`
	ToEmails  pq.StringArray `db:"to_emails"`
	CcEmails  pq.StringArray `db:"cc_emails"`

	IsRead         bool `db:"is_read"`
	IsStarred      bool `db:"is_starred"`
	HasAttachments bool `db:"has_attachments"`

	ReceivedAt         time.Time    `db:"received_at"`
	LastRemoteFlagSync sql.NullTime `db:"last_remote_flag_sync"`
	FlagsChangedAt     sql.NullTime `db:"flags_changed_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *emailEntity) toDomain() *domain.Email {
	email := &domain.Email{
		ID:                e.ID,
		AccountID:         e.AccountID,
		ProviderMessageID: e.ProviderMessageID,
		Folder:            domain.CanonicalFolder(e.Folder),
		FolderConfidence:  e.FolderConfidence,
		Subject:           e.Subject,
		FromEmail:         e.FromEmail,
		ToEmails:          []string(e.ToEmails),
		CcEmails:          []string(e.CcEmails),
		IsRead:            e.IsRead,
		IsStarred:         e.IsStarred,
		HasAttachments:    e.HasAttachments,
		ReceivedAt:        e.ReceivedAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}

	if e.ThreadID.Valid {
		email.ThreadID = e.ThreadID.String
	}
	if e.Snippet.Valid {
		email.Snippet = e.Snippet.String
	}
	if e.FromName.Valid {
		email.FromName = e.FromName.String
	}
	if e.LastRemoteFlagSync.Valid {
		t := e.LastRemoteFlagSync.Time
		email.LastRemoteFlagSync = &t
	}
	if e.FlagsChangedAt.Valid {
		t := e.FlagsChangedAt.Time
		email.FlagsChangedAt = &t
	}

	return email
}

// =============================================================================
// Reads
// =============================================================================

func (a *EmailAdapter) GetByID(id int64) (*domain.Email, error) {
	var entity emailEntity
	query := `SELECT * FROM emails WHERE id = $1`
	if err := a.db.Get(&entity, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *EmailAdapter) GetByProviderMessageID(accountID int64, providerMessageID string) (*domain.Email, error) {
	var entity emailEntity
	query := `SELECT * FROM emails WHERE account_id = $1 AND provider_message_id = $2`
	if err := a.db.Get(&entity, query, accountID, providerMessageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *EmailAdapter) ListByAccount(accountID int64, page *domain.PageRequest) ([]*domain.Email, error) {
	var entities []emailEntity
	limit := 50
	offset := 0
	if page != nil {
		if page.Limit() > 0 {
			limit = page.Limit()
		}
		offset = page.Offset()
	}

	query := `
		SELECT * FROM emails
		WHERE account_id = $1
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := a.db.Select(&entities, query, accountID, limit, offset); err != nil {
		return nil, err
	}

	emails := make([]*domain.Email, len(entities))
	for i := range entities {
		emails[i] = entities[i].toDomain()
	}
	return emails, nil
}

func (a *EmailAdapter) CountByAccount(accountID int64) (int64, error) {
	var count int64
	err := a.db.Get(&count, `SELECT COUNT(*) FROM emails WHERE account_id = $1`, accountID)
	return count, err
}

// =============================================================================
// Dedup upsert + cursor commit (단일 트랜잭션)
// =============================================================================

// upsertColumns defines the columns for the multi-row upsert (order matters,
// must match buildEmailValues)
var upsertColumns = []string{
	"id", "account_id", "provider_message_id", "thread_id",
	"folder", "folder_confidence",
	"subject", "snippet", "from_email", "from_name", "to_emails", "cc_emails",
	"is_read", "is_starred", "has_attachments",
	"received_at", "last_remote_flag_sync",
}

func buildEmailPlaceholders(rowIndex, paramsPerRow int) string {
	placeholders := make([]string, paramsPerRow)
	base := rowIndex * paramsPerRow
	for i := 0; i < paramsPerRow; i++ {
		placeholders[i] = fmt.Sprintf("$%d", base+i+1)
	}
	return "(" + strings.Join(placeholders, ", ") + ", NOW())"
}

func buildEmailValues(email *domain.Email, now time.Time) []interface{} {
	if email.ID == 0 {
		email.ID = snowflake.NextID()
	}

	folder := email.Folder
	if folder == "" {
		folder = domain.FolderOther
	}

	return []interface{}{
		email.ID, email.AccountID, email.ProviderMessageID, toNullableString(email.ThreadID),
		string(folder), email.FolderConfidence,
		email.Subject, toNullableString(email.Snippet),
		email.FromEmail, toNullableString(email.FromName),
		pq.Array(email.ToEmails), pq.Array(email.CcEmails),
		email.IsRead, email.IsStarred, email.HasAttachments,
		email.ReceivedAt, now,
	}
}

// UpsertBatchWithCursor writes the batch and advances the cursor in one
// transaction. If anything in here fails, neither the emails nor the cursor
// move, so the next attempt replays the same window.
//
// Flag merge: the remote snapshot only wins when no local flag edit
// postdates the last applied remote state (last-writer-wins by timestamp).
func (a *EmailAdapter) UpsertBatchWithCursor(accountID int64, emails []*domain.Email, cursor *domain.SyncCursor) (*domain.BatchUpsertResult, error) {
	tx, err := a.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result := &domain.BatchUpsertResult{}

	if len(emails) > 0 {
		now := time.Now().UTC()
		paramsPerRow := len(upsertColumns)
		valueStrings := make([]string, 0, len(emails))
		valueArgs := make([]interface{}, 0, len(emails)*paramsPerRow)

		for i, email := range emails {
			valueStrings = append(valueStrings, buildEmailPlaceholders(i, paramsPerRow))
			valueArgs = append(valueArgs, buildEmailValues(email, now)...)
		}

		columnList := strings.Join(upsertColumns, ", ") + ", updated_at"

		// xmax = 0 iff the row was freshly inserted
		query := fmt.Sprintf(`
			INSERT INTO emails (%s) VALUES %s
			ON CONFLICT (account_id, provider_message_id)
			DO UPDATE SET
				thread_id = EXCLUDED.thread_id,
				folder = EXCLUDED.folder, folder_confidence = EXCLUDED.folder_confidence,
				subject = EXCLUDED.subject, snippet = EXCLUDED.snippet,
				from_email = EXCLUDED.from_email, from_name = EXCLUDED.from_name,
				to_emails = EXCLUDED.to_emails, cc_emails = EXCLUDED.cc_emails,
				has_attachments = EXCLUDED.has_attachments,
				is_read = CASE
					WHEN emails.flags_changed_at IS NOT NULL
					 AND emails.flags_changed_at > COALESCE(emails.last_remote_flag_sync, 'epoch'::timestamptz)
					THEN emails.is_read ELSE EXCLUDED.is_read END,
				is_starred = CASE
					WHEN emails.flags_changed_at IS NOT NULL
					 AND emails.flags_changed_at > COALESCE(emails.last_remote_flag_sync, 'epoch'::timestamptz)
					THEN emails.is_starred ELSE EXCLUDED.is_starred END,
				last_remote_flag_sync = EXCLUDED.last_remote_flag_sync,
				updated_at = NOW()
			RETURNING id, (xmax = 0) AS inserted`,
			columnList, strings.Join(valueStrings, ", "))

		rows, err := tx.Queryx(query, valueArgs...)
		if err != nil {
			return nil, err
		}
		// RETURNING 순서는 입력 순서와 일치
		for i := 0; rows.Next(); i++ {
			var id int64
			var inserted bool
			if err := rows.Scan(&id, &inserted); err != nil {
				rows.Close()
				return nil, err
			}
			if i < len(emails) {
				emails[i].ID = id
			}
			if inserted {
				result.Created++
			} else {
				result.Updated++
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	if cursor != nil {
		cursorQuery := `
			INSERT INTO sync_cursors (account_id, token, watermark, mode, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (account_id) DO UPDATE SET
				token = EXCLUDED.token,
				watermark = EXCLUDED.watermark,
				mode = EXCLUDED.mode,
				updated_at = NOW()
		`
		if _, err := tx.Exec(cursorQuery,
			accountID, cursor.Token, cursor.Watermark, string(cursor.Mode),
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// Flags & deletion
// =============================================================================

// UpdateFlags records a local flag edit; flags_changed_at drives the merge
// arbitration against later remote snapshots.
func (a *EmailAdapter) UpdateFlags(id int64, isRead, isStarred bool, changedAt time.Time) error {
	query := `
		UPDATE emails SET
			is_read = $1,
			is_starred = $2,
			flags_changed_at = $3,
			updated_at = NOW()
		WHERE id = $4
	`
	_, err := a.db.Exec(query, isRead, isStarred, changedAt, id)
	return err
}

func (a *EmailAdapter) DeleteByProviderMessageIDs(accountID int64, providerMessageIDs []string) error {
	if len(providerMessageIDs) == 0 {
		return nil
	}
	_, err := a.db.Exec(
		`DELETE FROM emails WHERE account_id = $1 AND provider_message_id = ANY($2)`,
		accountID, pq.Array(providerMessageIDs),
	)
	return err
}

func (a *EmailAdapter) DeleteByAccount(accountID int64) error {
	_, err := a.db.Exec(`DELETE FROM emails WHERE account_id = $1`, accountID)
	return err
}
