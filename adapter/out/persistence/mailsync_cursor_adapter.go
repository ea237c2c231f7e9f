package persistence

import (
	"database/sql"
	"time"

	"mailsync_server/core/domain"

	"github.com/jmoiron/sqlx"
)

// CursorAdapter reads and invalidates delta cursors. Advancement goes
// through EmailAdapter.UpsertBatchWithCursor only, so a cursor row can
// never outrun its emails.
type CursorAdapter struct {
	db *sqlx.DB
}

func NewCursorAdapter(db *sqlx.DB) *CursorAdapter {
	return &CursorAdapter{db: db}
}

type cursorEntity struct {
	AccountID int64     `db:"account_id"`
	Token     string    `db:"token"`
	Watermark time.Time `db:"watermark"`
	Mode      string    `db:"mode"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (a *CursorAdapter) Load(accountID int64) (*domain.SyncCursor, error) {
	var entity cursorEntity
	query := `SELECT * FROM sync_cursors WHERE account_id = $1`
	if err := a.db.Get(&entity, query, accountID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &domain.SyncCursor{
		AccountID: entity.AccountID,
		Token:     entity.Token,
		Watermark: entity.Watermark,
		Mode:      domain.SyncMode(entity.Mode),
		UpdatedAt: entity.UpdatedAt,
	}, nil
}

// Clear drops the token so the next sync walks the mailbox from scratch.
func (a *CursorAdapter) Clear(accountID int64) error {
	query := `
		UPDATE sync_cursors SET
			token = '',
			mode = $1,
			updated_at = NOW()
		WHERE account_id = $2
	`
	_, err := a.db.Exec(query, string(domain.SyncModeInitial), accountID)
	return err
}

func (a *CursorAdapter) Delete(accountID int64) error {
	_, err := a.db.Exec(`DELETE FROM sync_cursors WHERE account_id = $1`, accountID)
	return err
}
