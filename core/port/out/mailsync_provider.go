// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"mailsync_server/core/domain"
)

// =============================================================================
// Provider Adapter Port (Gmail, Microsoft Graph, IMAP relay)
// =============================================================================

// AccessCredential carries the decrypted secret an adapter needs for one
// call. OAuth providers use Token; the IMAP relay uses RelayKey.
type AccessCredential struct {
	Token    *oauth2.Token
	RelayKey string
	Mailbox  string // 계정 이메일 주소 (relay 식별자)
}

// ProviderAdapterPort is the common capability set each provider
// implements. FetchChanges is cursor-driven: the orchestrator loops while
// HasMore, committing each batch's NextCursor atomically with its emails.
type ProviderAdapterPort interface {
	ProviderType() domain.Provider

	FetchChanges(ctx context.Context, cred *AccessCredential, req *FetchRequest) (*ChangeBatch, error)
	ListFolders(ctx context.Context, cred *AccessCredential) ([]ProviderFolder, error)

	// Webhook lifecycle. Providers without push return
	// domain.ErrWebhookUnsupported from all three.
	CreateWebhook(ctx context.Context, cred *AccessCredential, req *WebhookRequest) (*WebhookResult, error)
	RenewWebhook(ctx context.Context, cred *AccessCredential, subscriptionID string) (*WebhookResult, error)
	StopWebhook(ctx context.Context, cred *AccessCredential, subscriptionID string) error
}

// =============================================================================
// Fetch Types
// =============================================================================

// FetchRequest asks for one page of changes.
type FetchRequest struct {
	Mode      domain.SyncMode
	Cursor    string // 증분 모드: provider 델타 토큰
	PageToken string // initial 모드 페이지네이션
	BatchSize int
}

// RawMessage is the ephemeral provider-shaped message. Consumed by the
// dedup engine within the same sync pass, never persisted directly.
type RawMessage struct {
	ProviderMessageID string
	ThreadID          string

	Subject   string
	Snippet   string
	FromEmail string
	FromName  string
	ToEmails  []string
	CcEmails  []string

	// 원본 폴더/라벨 (분류 전)
	FolderRemoteID string
	FolderName     string
	Labels         []string

	IsRead         bool
	IsStarred      bool
	HasAttachments bool

	ReceivedAt time.Time

	TextBody string
	HTMLBody string
}

// ChangeBatch is one page of fetched changes. NextCursor is always safe
// to commit once Messages are persisted, even when HasMore is true.
type ChangeBatch struct {
	Messages   []RawMessage
	DeletedIDs []string

	NextCursor    string
	NextPageToken string // initial 모드 이어하기
	HasMore       bool
}

// ProviderFolder is a remote folder/label before classification.
type ProviderFolder struct {
	RemoteID   string
	Name       string
	SpecialUse string // Graph wellKnownName, Gmail 시스템 라벨 id, relay special-use
	System     bool
}

// =============================================================================
// Webhook Types
// =============================================================================

// WebhookRequest registers a push channel.
type WebhookRequest struct {
	NotificationURL string
	ClientState     string // 콜백 검증용 시크릿
	Resource        string
}

// WebhookResult is the provider-issued registration.
type WebhookResult struct {
	SubscriptionID string
	Resource       string
	ExpiresAt      time.Time
}

// =============================================================================
// Provider Error
// =============================================================================

// ProviderErrorCode represents error codes.
type ProviderErrorCode string

const (
	ProviderErrAuthExpired   ProviderErrorCode = "auth_expired"
	ProviderErrRateLimit     ProviderErrorCode = "rate_limit"
	ProviderErrCursorInvalid ProviderErrorCode = "cursor_invalid" // 풀 리싱크 필요
	ProviderErrNotFound      ProviderErrorCode = "not_found"
	ProviderErrNetwork       ProviderErrorCode = "network_error"
	ProviderErrServer        ProviderErrorCode = "server_error"
	ProviderErrInvalidInput  ProviderErrorCode = "invalid_input"
)

// ProviderError represents a classified provider failure.
type ProviderError struct {
	Provider  domain.Provider
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool

	// RetryAfter is set for rate-limit errors when the provider told us
	// how long to wait.
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider domain.Provider, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// NewRateLimitError creates a rate-limit error carrying the wait hint.
func NewRateLimitError(provider domain.Provider, retryAfter time.Duration, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       ProviderErrRateLimit,
		Message:    "provider rate limit exceeded",
		Err:        err,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

// AsProviderError extracts a *ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsCursorInvalid reports whether err signals the delta cursor expired.
func IsCursorInvalid(err error) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Code == ProviderErrCursorInvalid
}

// IsRateLimited reports rate limiting and the provider's wait hint.
func IsRateLimited(err error) (time.Duration, bool) {
	pe, ok := AsProviderError(err)
	if !ok || pe.Code != ProviderErrRateLimit {
		return 0, false
	}
	return pe.RetryAfter, true
}

// IsAuthExpired reports whether err means the user must reconnect.
func IsAuthExpired(err error) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Code == ProviderErrAuthExpired
}

// =============================================================================
// Provider Registry
// =============================================================================

// ProviderRegistry resolves the adapter for an account's provider. The
// orchestrator never branches on provider strings itself.
type ProviderRegistry interface {
	Adapter(provider domain.Provider) (ProviderAdapterPort, error)
}

// CredentialPort resolves ready-to-use credentials, refreshing expired
// OAuth tokens transparently.
type CredentialPort interface {
	Access(ctx context.Context, account *domain.Account) (*AccessCredential, error)
}
