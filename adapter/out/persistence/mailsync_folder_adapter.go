package persistence

import (
	"database/sql"
	"time"

	"mailsync_server/core/domain"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// FolderAdapter - 계정별 원격 폴더와 분류 결과
// =============================================================================

type FolderAdapter struct {
	db *sqlx.DB
}

func NewFolderAdapter(db *sqlx.DB) *FolderAdapter {
	return &FolderAdapter{db: db}
}

type folderEntity struct {
	ID          int64     `db:"id"`
	AccountID   int64     `db:"account_id"`
	RemoteID    string    `db:"remote_id"`
	RemoteName  string    `db:"remote_name"`
	Canonical   string    `db:"canonical"`
	Confidence  float64   `db:"confidence"`
	NeedsReview bool      `db:"needs_review"`
	Enabled     bool      `db:"enabled"`
	Confirmed   bool      `db:"confirmed"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (e *folderEntity) toDomain() *domain.Folder {
	return &domain.Folder{
		ID:          e.ID,
		AccountID:   e.AccountID,
		RemoteID:    e.RemoteID,
		RemoteName:  e.RemoteName,
		Canonical:   domain.CanonicalFolder(e.Canonical),
		Confidence:  e.Confidence,
		NeedsReview: e.NeedsReview,
		Enabled:     e.Enabled,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func (a *FolderAdapter) GetByID(id int64) (*domain.Folder, error) {
	var entity folderEntity
	if err := a.db.Get(&entity, `SELECT * FROM folders WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *FolderAdapter) GetByRemoteID(accountID int64, remoteID string) (*domain.Folder, error) {
	var entity folderEntity
	query := `SELECT * FROM folders WHERE account_id = $1 AND remote_id = $2`
	if err := a.db.Get(&entity, query, accountID, remoteID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *FolderAdapter) ListByAccount(accountID int64) ([]*domain.Folder, error) {
	var entities []folderEntity
	query := `SELECT * FROM folders WHERE account_id = $1 ORDER BY remote_name ASC`
	if err := a.db.Select(&entities, query, accountID); err != nil {
		return nil, err
	}
	return toFolders(entities), nil
}

func (a *FolderAdapter) ListEnabled(accountID int64) ([]*domain.Folder, error) {
	var entities []folderEntity
	query := `SELECT * FROM folders WHERE account_id = $1 AND enabled = true ORDER BY remote_name ASC`
	if err := a.db.Select(&entities, query, accountID); err != nil {
		return nil, err
	}
	return toFolders(entities), nil
}

// Upsert refreshes classification for a remote folder. A user-confirmed
// folder (needs_review=false after Confirm) keeps its canonical mapping.
func (a *FolderAdapter) Upsert(folder *domain.Folder) error {
	query := `
		INSERT INTO folders (account_id, remote_id, remote_name, canonical, confidence, needs_review, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, remote_id) DO UPDATE SET
			remote_name = EXCLUDED.remote_name,
			canonical = CASE WHEN folders.confirmed THEN folders.canonical ELSE EXCLUDED.canonical END,
			confidence = CASE WHEN folders.confirmed THEN folders.confidence ELSE EXCLUDED.confidence END,
			needs_review = CASE WHEN folders.confirmed THEN false ELSE EXCLUDED.needs_review END,
			enabled = CASE WHEN folders.confirmed THEN folders.enabled ELSE EXCLUDED.enabled END,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	return a.db.QueryRow(query,
		folder.AccountID, folder.RemoteID, folder.RemoteName,
		string(folder.Canonical), folder.Confidence, folder.NeedsReview, folder.Enabled,
	).Scan(&folder.ID, &folder.CreatedAt, &folder.UpdatedAt)
}

// Confirm resolves a needs-review folder with the user's choice.
func (a *FolderAdapter) Confirm(id int64, canonical domain.CanonicalFolder, enabled bool) error {
	query := `
		UPDATE folders SET
			canonical = $1,
			enabled = $2,
			needs_review = false,
			confirmed = true,
			updated_at = NOW()
		WHERE id = $3
	`
	_, err := a.db.Exec(query, string(canonical), enabled, id)
	return err
}

func (a *FolderAdapter) DeleteByAccount(accountID int64) error {
	_, err := a.db.Exec(`DELETE FROM folders WHERE account_id = $1`, accountID)
	return err
}

func toFolders(entities []folderEntity) []*domain.Folder {
	folders := make([]*domain.Folder, len(entities))
	for i := range entities {
		folders[i] = entities[i].toDomain()
	}
	return folders
}
