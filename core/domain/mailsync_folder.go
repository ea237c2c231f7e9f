package domain

import (
	"time"
)

// =============================================================================
// Canonical Folder Categories
// =============================================================================

// CanonicalFolder is the fixed category set all provider folder names map
// onto.
type CanonicalFolder string

const (
	FolderInbox   CanonicalFolder = "inbox"
	FolderSent    CanonicalFolder = "sent"
	FolderSpam    CanonicalFolder = "spam"
	FolderTrash   CanonicalFolder = "trash"
	FolderArchive CanonicalFolder = "archive"
	FolderOther   CanonicalFolder = "other" // 분류 실패 시
)

// FolderConfidenceThreshold is the classifier cut-off: below it a folder
// needs manual review and stays disabled (not synced).
const FolderConfidenceThreshold = 0.6

// Valid reports whether c is one of the canonical categories.
func (c CanonicalFolder) Valid() bool {
	switch c {
	case FolderInbox, FolderSent, FolderSpam, FolderTrash, FolderArchive, FolderOther:
		return true
	}
	return false
}

// =============================================================================
// Folder - 계정별 원격 폴더와 분류 결과
// =============================================================================

type Folder struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	RemoteID  string `json:"remote_id"`   // provider folder/label id
	RemoteName string `json:"remote_name"` // 원본 폴더명 그대로

	Canonical   CanonicalFolder `json:"canonical"`
	Confidence  float64         `json:"confidence"`
	NeedsReview bool            `json:"needs_review"`
	Enabled     bool            `json:"enabled"` // disabled 폴더는 동기화 제외

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FolderHints carries provider-supplied metadata for classification.
type FolderHints struct {
	// Graph wellKnownName / IMAP special-use attribute / Gmail system label id
	SpecialUse string
	// true for provider-defined system folders
	System bool
}

// Classification is the folder classifier output.
type Classification struct {
	Canonical   CanonicalFolder `json:"canonical"`
	Confidence  float64         `json:"confidence"`
	NeedsReview bool            `json:"needs_review"`
}

// =============================================================================
// Repository
// =============================================================================

type FolderRepository interface {
	GetByID(id int64) (*Folder, error)
	GetByRemoteID(accountID int64, remoteID string) (*Folder, error)
	ListByAccount(accountID int64) ([]*Folder, error)
	ListEnabled(accountID int64) ([]*Folder, error)
	Upsert(folder *Folder) error
	Confirm(id int64, canonical CanonicalFolder, enabled bool) error
	DeleteByAccount(accountID int64) error
}
