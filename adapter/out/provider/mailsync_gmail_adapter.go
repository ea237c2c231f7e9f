// Package provider implements the outbound mailbox provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/httputil"
	"mailsync_server/pkg/logger"
	"mailsync_server/pkg/resilience"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// =============================================================================
// Gmail Adapter - history 기반 증분 동기화 + Pub/Sub watch
// =============================================================================

type GmailAdapter struct {
	config    *oauth2.Config
	topicName string // projects/<project>/topics/<topic>
	breaker   *resilience.Breaker
}

func NewGmailAdapter(config *oauth2.Config, projectID, topic string) *GmailAdapter {
	return &GmailAdapter{
		config:    config,
		topicName: fmt.Sprintf("projects/%s/topics/%s", projectID, topic),
		breaker:   resilience.NewBreaker(resilience.DefaultBreakerConfig("gmail")),
	}
}

func (a *GmailAdapter) ProviderType() domain.Provider {
	return domain.ProviderGmail
}

func (a *GmailAdapter) getService(ctx context.Context, cred *out.AccessCredential) (*gmail.Service, error) {
	if cred == nil || cred.Token == nil {
		return nil, out.NewProviderError(domain.ProviderGmail, out.ProviderErrAuthExpired, "missing token", nil, false)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	client := a.config.Client(ctx, cred.Token)
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}
	return svc, nil
}

// =============================================================================
// FetchChanges
// =============================================================================

func (a *GmailAdapter) FetchChanges(ctx context.Context, cred *out.AccessCredential, req *out.FetchRequest) (*out.ChangeBatch, error) {
	svc, err := a.getService(ctx, cred)
	if err != nil {
		return nil, err
	}

	if req.Mode == domain.SyncModeIncremental && req.Cursor != "" {
		return a.fetchHistory(ctx, svc, req)
	}
	return a.fetchFullPage(ctx, svc, req)
}

// fetchFullPage walks the mailbox one page at a time. Intermediate pages
// return the request cursor unchanged; only the final page returns the
// profile historyId so the NEXT sync can go incremental. A failure
// mid-walk therefore restarts the walk instead of skipping the unfetched
// remainder.
func (a *GmailAdapter) fetchFullPage(ctx context.Context, svc *gmail.Service, req *out.FetchRequest) (*out.ChangeBatch, error) {
	batchSize := int64(100)
	if req.BatchSize > 0 {
		batchSize = int64(req.BatchSize)
	}

	listReq := svc.Users.Messages.List("me").MaxResults(batchSize)
	if req.PageToken != "" {
		listReq = listReq.PageToken(req.PageToken)
	}

	var resp *gmail.ListMessagesResponse
	err := a.breaker.Execute(func() error {
		var apiErr error
		resp, apiErr = listReq.Context(ctx).Do()
		return a.markNonTripping(apiErr)
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to list messages")
	}

	messages := a.fetchMessagesParallel(ctx, svc, resp.Messages)

	if resp.NextPageToken != "" {
		// 페이지가 남은 동안 커서는 요청 커서에 고정
		return &out.ChangeBatch{
			Messages:      messages,
			NextCursor:    req.Cursor,
			NextPageToken: resp.NextPageToken,
			HasMore:       true,
		}, nil
	}

	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, a.wrapError(err, "failed to get profile")
	}

	return &out.ChangeBatch{
		Messages:   messages,
		NextCursor: fmt.Sprintf("%d", profile.HistoryId),
	}, nil
}

// fetchHistory replays changes since the cursor historyId. A 404 means the
// history window expired: the caller must clear the cursor and resync.
func (a *GmailAdapter) fetchHistory(ctx context.Context, svc *gmail.Service, req *out.FetchRequest) (*out.ChangeBatch, error) {
	var historyID uint64
	if _, err := fmt.Sscanf(req.Cursor, "%d", &historyID); err != nil {
		return nil, out.NewProviderError(domain.ProviderGmail, out.ProviderErrCursorInvalid, "malformed history cursor", err, false)
	}

	listReq := svc.Users.History.List("me").StartHistoryId(historyID)
	if req.PageToken != "" {
		listReq = listReq.PageToken(req.PageToken)
	}

	var resp *gmail.ListHistoryResponse
	err := a.breaker.Execute(func() error {
		var apiErr error
		resp, apiErr = listReq.Context(ctx).Do()
		return a.markNonTripping(apiErr)
	})
	if err != nil {
		if apiErr, ok := asGoogleAPIError(err); ok && apiErr.Code == 404 {
			return nil, out.NewProviderError(domain.ProviderGmail, out.ProviderErrCursorInvalid, "history expired, full sync required", err, false)
		}
		return nil, a.wrapError(err, "failed to list history")
	}

	var deletedIDs []string
	seenIDs := make(map[string]bool)
	var addedRefs []*gmail.Message

	for _, history := range resp.History {
		for _, added := range history.MessagesAdded {
			if !seenIDs[added.Message.Id] {
				seenIDs[added.Message.Id] = true
				addedRefs = append(addedRefs, added.Message)
			}
		}
		// 라벨 변경(읽음/별표)도 재적용 대상
		for _, changed := range history.LabelsAdded {
			if !seenIDs[changed.Message.Id] {
				seenIDs[changed.Message.Id] = true
				addedRefs = append(addedRefs, changed.Message)
			}
		}
		for _, changed := range history.LabelsRemoved {
			if !seenIDs[changed.Message.Id] {
				seenIDs[changed.Message.Id] = true
				addedRefs = append(addedRefs, changed.Message)
			}
		}
		for _, deleted := range history.MessagesDeleted {
			deletedIDs = append(deletedIDs, deleted.Message.Id)
		}
	}

	messages := a.fetchMessagesParallel(ctx, svc, addedRefs)

	// 마지막 페이지에서만 커서 전진: 중간 페이지에서 최신 historyId를
	// 커밋하면 실패 시 남은 변경분을 영구히 건너뛴다
	nextCursor := fmt.Sprintf("%d", resp.HistoryId)
	if resp.NextPageToken != "" {
		nextCursor = req.Cursor
	}

	return &out.ChangeBatch{
		Messages:      messages,
		DeletedIDs:    deletedIDs,
		NextCursor:    nextCursor,
		NextPageToken: resp.NextPageToken,
		HasMore:       resp.NextPageToken != "",
	}, nil
}

// fetchMessagesParallel fetches full messages with bounded concurrency (5
// workers) to stay under Gmail per-user rate limits.
func (a *GmailAdapter) fetchMessagesParallel(ctx context.Context, svc *gmail.Service, refs []*gmail.Message) []out.RawMessage {
	if len(refs) == 0 {
		return nil
	}

	const maxConcurrency = 5
	type result struct {
		index int
		msg   *out.RawMessage
	}

	results := make(chan result, len(refs))
	semaphore := make(chan struct{}, maxConcurrency)

	for i, ref := range refs {
		go func(idx int, msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			full, err := svc.Users.Messages.Get("me", msgID).Format("full").Context(ctx).Do()
			if err != nil {
				logger.Warn("[GmailAdapter] failed to fetch message %s: %v", msgID, err)
				results <- result{index: idx}
				return
			}
			raw := parseGmailMessage(full)
			results <- result{index: idx, msg: &raw}
		}(i, ref.Id)
	}

	ordered := make([]*out.RawMessage, len(refs))
	for range refs {
		r := <-results
		if r.msg != nil {
			ordered[r.index] = r.msg
		}
	}

	messages := make([]out.RawMessage, 0, len(refs))
	for _, msg := range ordered {
		if msg != nil {
			messages = append(messages, *msg)
		}
	}
	return messages
}

// =============================================================================
// Folders (Gmail labels)
// =============================================================================

func (a *GmailAdapter) ListFolders(ctx context.Context, cred *out.AccessCredential) ([]out.ProviderFolder, error) {
	svc, err := a.getService(ctx, cred)
	if err != nil {
		return nil, err
	}

	var resp *gmail.ListLabelsResponse
	err = a.breaker.Execute(func() error {
		var apiErr error
		resp, apiErr = svc.Users.Labels.List("me").Context(ctx).Do()
		return a.markNonTripping(apiErr)
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to list labels")
	}

	folders := make([]out.ProviderFolder, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		system := l.Type == "system"
		specialUse := ""
		if system {
			specialUse = l.Id // INBOX, SENT, SPAM, TRASH ...
		}
		folders = append(folders, out.ProviderFolder{
			RemoteID:   l.Id,
			Name:       l.Name,
			SpecialUse: specialUse,
			System:     system,
		})
	}
	return folders, nil
}

// =============================================================================
// Webhook (Users.Watch → Pub/Sub)
// =============================================================================

func (a *GmailAdapter) CreateWebhook(ctx context.Context, cred *out.AccessCredential, req *out.WebhookRequest) (*out.WebhookResult, error) {
	svc, err := a.getService(ctx, cred)
	if err != nil {
		return nil, err
	}

	watchReq := &gmail.WatchRequest{
		TopicName: a.topicName,
		LabelIds:  []string{"INBOX"},
	}

	var resp *gmail.WatchResponse
	err = a.breaker.Execute(func() error {
		var apiErr error
		resp, apiErr = svc.Users.Watch("me", watchReq).Context(ctx).Do()
		return a.markNonTripping(apiErr)
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to setup watch")
	}

	return &out.WebhookResult{
		SubscriptionID: fmt.Sprintf("%d", resp.HistoryId),
		Resource:       a.topicName,
		ExpiresAt:      time.Unix(0, resp.Expiration*int64(time.Millisecond)),
	}, nil
}

// RenewWebhook re-issues the watch: Gmail watches cannot be extended in
// place.
func (a *GmailAdapter) RenewWebhook(ctx context.Context, cred *out.AccessCredential, subscriptionID string) (*out.WebhookResult, error) {
	return a.CreateWebhook(ctx, cred, nil)
}

func (a *GmailAdapter) StopWebhook(ctx context.Context, cred *out.AccessCredential, subscriptionID string) error {
	svc, err := a.getService(ctx, cred)
	if err != nil {
		return err
	}

	if err := svc.Users.Stop("me").Context(ctx).Do(); err != nil {
		// 이미 만료된 watch에 대한 404는 무시
		if apiErr, ok := asGoogleAPIError(err); ok && apiErr.Code == 404 {
			return nil
		}
		return a.wrapError(err, "failed to stop watch")
	}
	return nil
}

// =============================================================================
// Message parsing
// =============================================================================

func parseGmailMessage(msg *gmail.Message) out.RawMessage {
	raw := out.RawMessage{
		ProviderMessageID: msg.Id,
		ThreadID:          msg.ThreadId,
		Snippet:           msg.Snippet,
		Labels:            msg.LabelIds,
		IsRead:            !containsLabel(msg.LabelIds, "UNREAD"),
		IsStarred:         containsLabel(msg.LabelIds, "STARRED"),
		ReceivedAt:        time.Unix(0, msg.InternalDate*int64(time.Millisecond)),
	}

	// 첫 시스템 라벨을 폴더 힌트로 사용
	for _, label := range msg.LabelIds {
		switch label {
		case "INBOX", "SENT", "SPAM", "TRASH", "DRAFT":
			raw.FolderRemoteID = label
			raw.FolderName = label
		}
		if raw.FolderRemoteID != "" {
			break
		}
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "From":
				raw.FromEmail, raw.FromName = parseAddress(header.Value)
			case "To":
				raw.ToEmails = parseAddressList(header.Value)
			case "Cc":
				raw.CcEmails = parseAddressList(header.Value)
			case "Subject":
				raw.Subject = header.Value
			}
		}

		raw.HTMLBody, raw.TextBody = parseGmailBody(msg.Payload)
		raw.HasAttachments = hasGmailAttachment(msg.Payload)
	}

	return raw
}

func parseAddress(value string) (email, name string) {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return strings.TrimSpace(value), ""
	}
	return addr.Address, addr.Name
}

func parseAddressList(value string) []string {
	if value == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			result = append(result, strings.TrimSpace(p))
		}
		return result
	}
	result := make([]string, len(addrs))
	for i, a := range addrs {
		result[i] = a.Address
	}
	return result
}

func parseGmailBody(payload *gmail.MessagePart) (html, text string) {
	if payload == nil {
		return "", ""
	}

	if payload.MimeType == "text/html" && payload.Body != nil {
		data, _ := base64.URLEncoding.DecodeString(payload.Body.Data)
		html = string(data)
	}
	if payload.MimeType == "text/plain" && payload.Body != nil {
		data, _ := base64.URLEncoding.DecodeString(payload.Body.Data)
		text = string(data)
	}

	for _, part := range payload.Parts {
		h, t := parseGmailBody(part)
		if html == "" && h != "" {
			html = h
		}
		if text == "" && t != "" {
			text = t
		}
	}

	return html, text
}

func hasGmailAttachment(payload *gmail.MessagePart) bool {
	if payload == nil {
		return false
	}
	if payload.Filename != "" && payload.Body != nil && payload.Body.AttachmentId != "" {
		return true
	}
	for _, part := range payload.Parts {
		if hasGmailAttachment(part) {
			return true
		}
	}
	return false
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// =============================================================================
// Error classification
// =============================================================================

// markNonTripping keeps client errors from opening the breaker: only
// 5xx/429 indicate Gmail itself is unhealthy.
func (a *GmailAdapter) markNonTripping(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := asGoogleAPIError(err); ok {
		switch apiErr.Code {
		case 400, 401, 403, 404, 409, 410:
			return resilience.NonTripping(err)
		}
	}
	return err
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	if err == resilience.ErrCircuitOpen {
		return out.NewProviderError(domain.ProviderGmail, out.ProviderErrNetwork, "gmail circuit open", err, true)
	}

	if apiErr, ok := asGoogleAPIError(err); ok {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError(domain.ProviderGmail, out.ProviderErrAuthExpired, "token expired", err, false)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") || strings.Contains(apiErr.Message, "rateLimitExceeded") {
				return out.NewRateLimitError(domain.ProviderGmail, retryAfterFromHeader(apiErr), err)
			}
			return out.NewProviderError(domain.ProviderGmail, out.ProviderErrAuthExpired, "access denied", err, false)
		case 404:
			return out.NewProviderError(domain.ProviderGmail, out.ProviderErrNotFound, "not found", err, false)
		case 429:
			return out.NewRateLimitError(domain.ProviderGmail, retryAfterFromHeader(apiErr), err)
		case 500, 502, 503:
			return out.NewProviderError(domain.ProviderGmail, out.ProviderErrServer, "gmail server error", err, true)
		}
	}

	return out.NewProviderError(domain.ProviderGmail, out.ProviderErrNetwork, defaultMsg, err, true)
}

func asGoogleAPIError(err error) (*googleapi.Error, bool) {
	for err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok {
			return apiErr, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}

func retryAfterFromHeader(apiErr *googleapi.Error) time.Duration {
	if apiErr.Header != nil {
		if v := apiErr.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 60 * time.Second
}

var _ out.ProviderAdapterPort = (*GmailAdapter)(nil)
