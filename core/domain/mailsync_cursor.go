package domain

import (
	"time"
)

// =============================================================================
// Delta Cursor
// =============================================================================

// SyncMode selects between a full mailbox walk and a provider delta fetch.
type SyncMode string

const (
	SyncModeInitial     SyncMode = "initial"     // 전체 동기화 (커서 없음/무효화)
	SyncModeIncremental SyncMode = "incremental" // 커서 기반 증분
)

// SyncCursor is the per-account resumption point. Token is opaque and
// provider-specific: Gmail historyId, Graph $deltaLink, relay sync token.
// It only ever advances inside the same transaction that committed the
// email batch it covers.
type SyncCursor struct {
	AccountID int64     `json:"account_id"`
	Token     string    `json:"token"`
	Watermark time.Time `json:"watermark"`
	Mode      SyncMode  `json:"mode"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsInitial reports whether the next sync must walk the full mailbox.
func (c *SyncCursor) IsInitial() bool {
	return c == nil || c.Token == "" || c.Mode == SyncModeInitial
}

// =============================================================================
// Repository
// =============================================================================

// CursorRepository loads and clears cursors. Cursor advancement is NOT
// exposed here: it happens only via EmailRepository.UpsertBatchWithCursor
// so data and cursor commit together.
type CursorRepository interface {
	Load(accountID int64) (*SyncCursor, error) // nil, nil when none
	Clear(accountID int64) error               // 무효화 시 초기 모드로 복귀
	Delete(accountID int64) error
}
