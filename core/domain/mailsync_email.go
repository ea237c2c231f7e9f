package domain

import (
	"time"
)

// =============================================================================
// Canonical Email
// =============================================================================

// Email is the persisted canonical record for one remote message.
// (AccountID, ProviderMessageID) is unique: re-ingesting the same remote
// message upserts the existing row, never duplicates it.
type Email struct {
	ID                int64  `json:"id"`
	AccountID         int64  `json:"account_id"`
	ProviderMessageID string `json:"provider_message_id"`
	ThreadID          string `json:"thread_id,omitempty"`

	Folder           CanonicalFolder `json:"folder"`
	FolderConfidence float64         `json:"folder_confidence"`

	Subject   string   `json:"subject"`
	Snippet   string   `json:"snippet,omitempty"`
	FromEmail string   `json:"from_email"`
	FromName  string   `json:"from_name,omitempty"`
	ToEmails  []string `json:"to_emails,omitempty"`
	CcEmails  []string `json:"cc_emails,omitempty"`

	// 사용자 플래그 - 로컬 변경과 원격 변경의 중재는 LastRemoteFlagSync 기준
	IsRead    bool `json:"is_read"`
	IsStarred bool `json:"is_starred"`

	HasAttachments bool `json:"has_attachments"`

	ReceivedAt time.Time `json:"received_at"`

	// LastRemoteFlagSync marks the last time remote flag state was applied.
	// Local flag edits after this point win over stale provider snapshots.
	LastRemoteFlagSync *time.Time `json:"last_remote_flag_sync,omitempty"`
	FlagsChangedAt     *time.Time `json:"flags_changed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertOutcome reports what a dedup/upsert write did for one message.
type UpsertOutcome string

const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
)

// EmailBody holds the full message body, stored separately from the
// Postgres row (large payloads live in MongoDB).
type EmailBody struct {
	EmailID  int64  `json:"email_id"`
	TextBody string `json:"text_body,omitempty"`
	HTMLBody string `json:"html_body,omitempty"`
}

// =============================================================================
// Repositories
// =============================================================================

// BatchUpsertResult summarizes one committed upsert batch.
type BatchUpsertResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// EmailRepository defines canonical email persistence.
//
// UpsertBatchWithCursor is the cursor-atomicity boundary: the multi-row
// upsert and the cursor commit run in one transaction, so the cursor can
// never advance past emails that failed to persist.
type EmailRepository interface {
	GetByID(id int64) (*Email, error)
	GetByProviderMessageID(accountID int64, providerMessageID string) (*Email, error)
	ListByAccount(accountID int64, page *PageRequest) ([]*Email, error)

	UpsertBatchWithCursor(accountID int64, emails []*Email, cursor *SyncCursor) (*BatchUpsertResult, error)

	UpdateFlags(id int64, isRead, isStarred bool, changedAt time.Time) error
	DeleteByProviderMessageIDs(accountID int64, providerMessageIDs []string) error
	DeleteByAccount(accountID int64) error
	CountByAccount(accountID int64) (int64, error)
}

// EmailBodyRepository stores full bodies out of band.
type EmailBodyRepository interface {
	Get(emailID int64) (*EmailBody, error)
	SaveBatch(bodies []*EmailBody) error
	DeleteByEmailIDs(emailIDs []int64) error
}
