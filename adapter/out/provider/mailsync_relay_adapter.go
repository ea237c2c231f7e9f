package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/httputil"
	"mailsync_server/pkg/resilience"
)

// =============================================================================
// IMAP Relay Adapter - REST 프록시 경유 폴링 전용 (push 미지원)
// =============================================================================

// RelayAdapter talks to the internal IMAP relay service, which proxies
// upstream IMAP servers behind a REST API with opaque sync tokens.
type RelayAdapter struct {
	baseURL string
	apiKey  string // 서비스 키, 계정별 RelayKey와 별개
	client  *http.Client
	breaker *resilience.Breaker
}

func NewRelayAdapter(baseURL, apiKey string) *RelayAdapter {
	return &RelayAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httputil.RelayClient(),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerConfig("relay")),
	}
}

func (a *RelayAdapter) ProviderType() domain.Provider {
	return domain.ProviderIMAP
}

// =============================================================================
// FetchChanges
// =============================================================================

func (a *RelayAdapter) FetchChanges(ctx context.Context, cred *out.AccessCredential, req *out.FetchRequest) (*out.ChangeBatch, error) {
	if cred == nil || cred.RelayKey == "" {
		return nil, out.NewProviderError(domain.ProviderIMAP, out.ProviderErrAuthExpired, "missing relay key", nil, false)
	}

	batchSize := 100
	if req.BatchSize > 0 {
		batchSize = req.BatchSize
	}

	params := url.Values{}
	params.Set("mailbox", cred.Mailbox)
	params.Set("limit", strconv.Itoa(batchSize))
	if req.Cursor != "" {
		params.Set("sync_token", req.Cursor)
	}
	if req.PageToken != "" {
		params.Set("page_token", req.PageToken)
	}

	var resp struct {
		Messages []relayMessage `json:"messages"`
		Deleted  []string       `json:"deleted"`
		// 모든 페이지를 소진했을 때만 갱신되는 불투명 토큰
		SyncToken     string `json:"sync_token"`
		NextPageToken string `json:"next_page_token"`
		HasMore       bool   `json:"has_more"`
	}

	if err := a.doGet(ctx, cred, "/v1/messages/changes?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	batch := &out.ChangeBatch{
		DeletedIDs:    resp.Deleted,
		NextPageToken: resp.NextPageToken,
		HasMore:       resp.HasMore,
	}
	if resp.HasMore {
		batch.NextCursor = req.Cursor
	} else {
		batch.NextCursor = resp.SyncToken
	}

	for i := range resp.Messages {
		batch.Messages = append(batch.Messages, convertRelayMessage(&resp.Messages[i]))
	}

	return batch, nil
}

// =============================================================================
// Folders
// =============================================================================

func (a *RelayAdapter) ListFolders(ctx context.Context, cred *out.AccessCredential) ([]out.ProviderFolder, error) {
	if cred == nil || cred.RelayKey == "" {
		return nil, out.NewProviderError(domain.ProviderIMAP, out.ProviderErrAuthExpired, "missing relay key", nil, false)
	}

	var resp struct {
		Folders []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			SpecialUse string `json:"special_use"` // RFC 6154 attribute (\Sent, \Junk, ...)
		} `json:"folders"`
	}

	if err := a.doGet(ctx, cred, "/v1/folders?mailbox="+url.QueryEscape(cred.Mailbox), &resp); err != nil {
		return nil, err
	}

	folders := make([]out.ProviderFolder, 0, len(resp.Folders))
	for _, f := range resp.Folders {
		folders = append(folders, out.ProviderFolder{
			RemoteID:   f.ID,
			Name:       f.Name,
			SpecialUse: f.SpecialUse,
			System:     f.SpecialUse != "",
		})
	}
	return folders, nil
}

// =============================================================================
// Webhook - 지원 안 함 (폴링 전용)
// =============================================================================

func (a *RelayAdapter) CreateWebhook(ctx context.Context, cred *out.AccessCredential, req *out.WebhookRequest) (*out.WebhookResult, error) {
	return nil, domain.ErrWebhookUnsupported
}

func (a *RelayAdapter) RenewWebhook(ctx context.Context, cred *out.AccessCredential, subscriptionID string) (*out.WebhookResult, error) {
	return nil, domain.ErrWebhookUnsupported
}

func (a *RelayAdapter) StopWebhook(ctx context.Context, cred *out.AccessCredential, subscriptionID string) error {
	return domain.ErrWebhookUnsupported
}

// =============================================================================
// HTTP helpers
// =============================================================================

func (a *RelayAdapter) doGet(ctx context.Context, cred *out.AccessCredential, path string, result interface{}) error {
	return a.doRequest(ctx, cred, http.MethodGet, path, nil, result)
}

func (a *RelayAdapter) doRequest(ctx context.Context, cred *out.AccessCredential, method, path string, body interface{}, result interface{}) error {
	return a.breaker.Execute(func() error {
		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return resilience.NonTripping(err)
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
		if err != nil {
			return resilience.NonTripping(err)
		}
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
		req.Header.Set("X-Relay-Account-Key", cred.RelayKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return out.NewProviderError(domain.ProviderIMAP, out.ProviderErrNetwork, "relay request failed", err, true)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(resp.Body)
			return a.classifyHTTPError(resp, string(respBody))
		}

		if result != nil && resp.StatusCode != http.StatusNoContent {
			return json.NewDecoder(resp.Body).Decode(result)
		}
		return nil
	})
}

func (a *RelayAdapter) classifyHTTPError(resp *http.Response, body string) error {
	switch resp.StatusCode {
	case 401, 403:
		// 업스트림 IMAP 로그인 실패도 릴레이가 401로 내려준다
		return resilience.NonTripping(out.NewProviderError(domain.ProviderIMAP, out.ProviderErrAuthExpired, "relay auth failed", nil, false))
	case 404:
		return resilience.NonTripping(out.NewProviderError(domain.ProviderIMAP, out.ProviderErrNotFound, "not found", nil, false))
	case 409, 410:
		// UIDVALIDITY 변경 등으로 sync 토큰이 무효화된 경우
		return resilience.NonTripping(out.NewProviderError(domain.ProviderIMAP, out.ProviderErrCursorInvalid, "sync token invalidated", nil, false))
	case 429:
		return out.NewRateLimitError(domain.ProviderIMAP, graphRetryAfter(resp), nil)
	default:
		return out.NewProviderError(domain.ProviderIMAP, out.ProviderErrServer,
			fmt.Sprintf("relay HTTP %d: %s", resp.StatusCode, truncateBody(body)), nil, true)
	}
}

// =============================================================================
// Message conversion
// =============================================================================

type relayMessage struct {
	ID             string   `json:"id"` // "<uidvalidity>:<uid>" 형식
	ThreadID       string   `json:"thread_id"`
	Subject        string   `json:"subject"`
	Snippet        string   `json:"snippet"`
	FromEmail      string   `json:"from_email"`
	FromName       string   `json:"from_name"`
	ToEmails       []string `json:"to_emails"`
	CcEmails       []string `json:"cc_emails"`
	FolderID       string   `json:"folder_id"`
	FolderName     string   `json:"folder_name"`
	Seen           bool     `json:"seen"`
	Flagged        bool     `json:"flagged"`
	HasAttachments bool     `json:"has_attachments"`
	ReceivedAt     int64    `json:"received_at"` // unix seconds
	TextBody       string   `json:"text_body"`
	HTMLBody       string   `json:"html_body"`
}

func convertRelayMessage(msg *relayMessage) out.RawMessage {
	raw := out.RawMessage{
		ProviderMessageID: msg.ID,
		ThreadID:          msg.ThreadID,
		Subject:           msg.Subject,
		Snippet:           msg.Snippet,
		FromEmail:         msg.FromEmail,
		FromName:          msg.FromName,
		ToEmails:          msg.ToEmails,
		CcEmails:          msg.CcEmails,
		FolderRemoteID:    msg.FolderID,
		FolderName:        msg.FolderName,
		IsRead:            msg.Seen,
		IsStarred:         msg.Flagged,
		HasAttachments:    msg.HasAttachments,
		TextBody:          msg.TextBody,
		HTMLBody:          msg.HTMLBody,
	}
	if msg.ReceivedAt > 0 {
		raw.ReceivedAt = time.Unix(msg.ReceivedAt, 0)
	}
	return raw
}

var _ out.ProviderAdapterPort = (*RelayAdapter)(nil)
