package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/httputil"
	"mailsync_server/pkg/resilience"

	"golang.org/x/oauth2"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Graph subscriptions for messages max out near 3 days; renewal keeps
// them alive.
const graphSubscriptionLifetime = 4230 * time.Minute

// =============================================================================
// Microsoft Graph Adapter - $deltaLink 증분 + subscriptions push
// =============================================================================

type GraphAdapter struct {
	config  *oauth2.Config
	breaker *resilience.Breaker
}

func NewGraphAdapter(config *oauth2.Config) *GraphAdapter {
	return &GraphAdapter{
		config:  config,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerConfig("graph")),
	}
}

func (a *GraphAdapter) ProviderType() domain.Provider {
	return domain.ProviderMicrosoft
}

func (a *GraphAdapter) client(ctx context.Context, cred *out.AccessCredential) (*http.Client, error) {
	if cred == nil || cred.Token == nil {
		return nil, out.NewProviderError(domain.ProviderMicrosoft, out.ProviderErrAuthExpired, "missing token", nil, false)
	}
	// Graph 전용 커넥션 풀 위에 토큰 갱신 트랜스포트를 얹는다
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GraphClient())
	return a.config.Client(ctx, cred.Token), nil
}

// =============================================================================
// FetchChanges
// =============================================================================

func (a *GraphAdapter) FetchChanges(ctx context.Context, cred *out.AccessCredential, req *out.FetchRequest) (*out.ChangeBatch, error) {
	client, err := a.client(ctx, cred)
	if err != nil {
		return nil, err
	}

	batchSize := 100
	if req.BatchSize > 0 {
		batchSize = req.BatchSize
	}

	// 델타 커서가 있으면 이어서, 없으면 델타 시퀀스를 처음부터 시작.
	// Graph의 delta는 initial/증분이 같은 엔드포인트라 커서 유무만 다름.
	link := req.Cursor
	if req.PageToken != "" {
		link = req.PageToken
	}
	if link == "" || !strings.HasPrefix(link, "http") {
		params := url.Values{}
		params.Set("$top", fmt.Sprintf("%d", batchSize))
		params.Set("$select", "id,conversationId,subject,bodyPreview,from,toRecipients,ccRecipients,isRead,flag,parentFolderId,hasAttachments,receivedDateTime,body")
		link = graphBaseURL + "/me/messages/delta?" + params.Encode()
	}

	var resp struct {
		Value     []graphMessage `json:"value"`
		NextLink  string         `json:"@odata.nextLink"`
		DeltaLink string         `json:"@odata.deltaLink"`
	}

	if err := a.doGet(client, link, &resp); err != nil {
		if isGraphResyncRequired(err) {
			return nil, out.NewProviderError(domain.ProviderMicrosoft, out.ProviderErrCursorInvalid, "delta token expired, full sync required", err, false)
		}
		return nil, err
	}

	batch := &out.ChangeBatch{}
	for i := range resp.Value {
		msg := &resp.Value[i]
		if msg.Removed != nil {
			batch.DeletedIDs = append(batch.DeletedIDs, msg.ID)
			continue
		}
		batch.Messages = append(batch.Messages, convertGraphMessage(msg))
	}

	if resp.DeltaLink != "" {
		// 델타 시퀀스 끝: 다음 증분의 시작점
		batch.NextCursor = resp.DeltaLink
		batch.HasMore = false
	} else {
		// 페이지 중간: nextLink로 이어서, 커서는 아직 전진하지 않음
		batch.NextCursor = req.Cursor
		batch.NextPageToken = resp.NextLink
		batch.HasMore = resp.NextLink != ""
	}

	return batch, nil
}

// =============================================================================
// Folders
// =============================================================================

func (a *GraphAdapter) ListFolders(ctx context.Context, cred *out.AccessCredential) ([]out.ProviderFolder, error) {
	client, err := a.client(ctx, cred)
	if err != nil {
		return nil, err
	}

	var folders []out.ProviderFolder
	nextLink := graphBaseURL + "/me/mailFolders?$top=100&$includeHiddenFolders=false"

	for nextLink != "" {
		var resp struct {
			Value []struct {
				ID            string `json:"id"`
				DisplayName   string `json:"displayName"`
				WellKnownName string `json:"wellKnownName"`
			} `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}

		if err := a.doGet(client, nextLink, &resp); err != nil {
			return nil, err
		}

		for _, f := range resp.Value {
			folders = append(folders, out.ProviderFolder{
				RemoteID:   f.ID,
				Name:       f.DisplayName,
				SpecialUse: f.WellKnownName,
				System:     f.WellKnownName != "",
			})
		}

		nextLink = resp.NextLink
	}

	return folders, nil
}

// =============================================================================
// Webhook (Graph subscriptions)
// =============================================================================

func (a *GraphAdapter) CreateWebhook(ctx context.Context, cred *out.AccessCredential, req *out.WebhookRequest) (*out.WebhookResult, error) {
	client, err := a.client(ctx, cred)
	if err != nil {
		return nil, err
	}

	resource := req.Resource
	if resource == "" {
		resource = "/me/mailFolders('inbox')/messages"
	}

	body := map[string]interface{}{
		"changeType":         "created,updated",
		"notificationUrl":    req.NotificationURL,
		"resource":           resource,
		"expirationDateTime": time.Now().Add(graphSubscriptionLifetime).UTC().Format(time.RFC3339),
		"clientState":        req.ClientState,
	}

	var resp struct {
		ID                 string `json:"id"`
		Resource           string `json:"resource"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}

	if err := a.doPost(client, graphBaseURL+"/subscriptions", body, &resp); err != nil {
		return nil, err
	}

	expiresAt, _ := time.Parse(time.RFC3339, resp.ExpirationDateTime)
	return &out.WebhookResult{
		SubscriptionID: resp.ID,
		Resource:       resp.Resource,
		ExpiresAt:      expiresAt,
	}, nil
}

func (a *GraphAdapter) RenewWebhook(ctx context.Context, cred *out.AccessCredential, subscriptionID string) (*out.WebhookResult, error) {
	client, err := a.client(ctx, cred)
	if err != nil {
		return nil, err
	}

	newExpiry := time.Now().Add(graphSubscriptionLifetime).UTC()
	body := map[string]interface{}{
		"expirationDateTime": newExpiry.Format(time.RFC3339),
	}

	var resp struct {
		ID                 string `json:"id"`
		Resource           string `json:"resource"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}

	if err := a.doPatch(client, graphBaseURL+"/subscriptions/"+subscriptionID, body, &resp); err != nil {
		return nil, err
	}

	expiresAt, parseErr := time.Parse(time.RFC3339, resp.ExpirationDateTime)
	if parseErr != nil {
		expiresAt = newExpiry
	}
	return &out.WebhookResult{
		SubscriptionID: subscriptionID,
		Resource:       resp.Resource,
		ExpiresAt:      expiresAt,
	}, nil
}

func (a *GraphAdapter) StopWebhook(ctx context.Context, cred *out.AccessCredential, subscriptionID string) error {
	client, err := a.client(ctx, cred)
	if err != nil {
		return err
	}

	if err := a.doDelete(client, graphBaseURL+"/subscriptions/"+subscriptionID); err != nil {
		// 이미 사라진 구독은 성공으로 처리
		if pe, ok := out.AsProviderError(err); ok && pe.Code == out.ProviderErrNotFound {
			return nil
		}
		return err
	}
	return nil
}

// =============================================================================
// HTTP helpers
// =============================================================================

func (a *GraphAdapter) doGet(client *http.Client, requestURL string, result interface{}) error {
	return a.breaker.Execute(func() error {
		resp, err := client.Get(requestURL)
		if err != nil {
			return a.wrapError(err, "graph request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return a.classifyHTTPError(resp, string(body))
		}

		if result != nil && resp.StatusCode != http.StatusNoContent {
			return json.NewDecoder(resp.Body).Decode(result)
		}
		return nil
	})
}

func (a *GraphAdapter) doPost(client *http.Client, requestURL string, body interface{}, result interface{}) error {
	return a.breaker.Execute(func() error {
		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return resilience.NonTripping(err)
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequest(http.MethodPost, requestURL, reqBody)
		if err != nil {
			return resilience.NonTripping(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return a.wrapError(err, "graph request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(resp.Body)
			return a.classifyHTTPError(resp, string(respBody))
		}

		if result != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
			return json.NewDecoder(resp.Body).Decode(result)
		}
		return nil
	})
}

func (a *GraphAdapter) doPatch(client *http.Client, requestURL string, body interface{}, result interface{}) error {
	return a.breaker.Execute(func() error {
		data, err := json.Marshal(body)
		if err != nil {
			return resilience.NonTripping(err)
		}

		req, err := http.NewRequest(http.MethodPatch, requestURL, bytes.NewReader(data))
		if err != nil {
			return resilience.NonTripping(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return a.wrapError(err, "graph request failed")
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

func (a *GraphAdapter) doDelete(client *http.Client, requestURL string) error {
	return a.breaker.Execute(func() error {
		req, err := http.NewRequest(http.MethodDelete, requestURL, nil)
		if err != nil {
			return resilience.NonTripping(err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return a.wrapError(err, "graph request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return a.classifyHTTPError(resp, string(body))
		}
		return nil
	})
}

// =============================================================================
// Error classification
// =============================================================================

// classifyHTTPError maps a Graph response to a ProviderError. Client-side
// statuses are wrapped NonTripping so they never open the breaker.
func (a *GraphAdapter) classifyHTTPError(resp *http.Response, body string) error {
	switch resp.StatusCode {
	case 401:
		return resilience.NonTripping(out.NewProviderError(domain.ProviderMicrosoft, out.ProviderErrAuthExpired, "token expired", nil, false))
	case 403:
		return resilience.NonTripping(out.NewProviderError(domain.ProviderMicrosoft, out.ProviderErrAuthExpired, "access denied", nil, false))
	case 404:
		return resilience.NonTripping(out.NewProviderError(domain.ProviderMicrosoft, out.ProviderErrNotFound, "not found", nil, false))
	case 410:
		return resilience.NonTripping(out.NewProviderError(domain.ProviderMicrosoft, out.ProviderErrCursorInvalid, "delta token gone", nil, false))
	case 429:
		return out.NewRateLimitError(domain.ProviderMicrosoft, graphRetryAfter(resp), nil)
	default:
		if strings.Contains(body, "resyncRequired") {
			return resilience.NonTripping(out.NewProviderError(domain.ProviderMicrosoft, out.ProviderErrCursorInvalid, "resync required", nil, false))
		}
		return out.NewProviderError(domain.ProviderMicrosoft, out.ProviderErrServer,
			fmt.Sprintf("graph HTTP %d: %s", resp.StatusCode, truncateBody(body)), nil, true)
	}
}

func (a *GraphAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	return out.NewProviderError(domain.ProviderMicrosoft, out.ProviderErrNetwork, defaultMsg, err, true)
}

func isGraphResyncRequired(err error) bool {
	if out.IsCursorInvalid(err) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "resyncRequired")
}

func graphRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 60 * time.Second
}

func truncateBody(body string) string {
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}

// =============================================================================
// Message conversion
// =============================================================================

func convertGraphMessage(msg *graphMessage) out.RawMessage {
	raw := out.RawMessage{
		ProviderMessageID: msg.ID,
		ThreadID:          msg.ConversationID,
		Subject:           msg.Subject,
		Snippet:           msg.BodyPreview,
		IsRead:            msg.IsRead,
		IsStarred:         msg.Flag.FlagStatus == "flagged",
		HasAttachments:    msg.HasAttachments,
		FolderRemoteID:    msg.ParentFolderID,
	}

	if msg.From.EmailAddress.Address != "" {
		raw.FromEmail = msg.From.EmailAddress.Address
		raw.FromName = msg.From.EmailAddress.Name
	}

	raw.ToEmails = make([]string, len(msg.ToRecipients))
	for i, r := range msg.ToRecipients {
		raw.ToEmails[i] = r.EmailAddress.Address
	}
	raw.CcEmails = make([]string, len(msg.CcRecipients))
	for i, r := range msg.CcRecipients {
		raw.CcEmails[i] = r.EmailAddress.Address
	}

	switch msg.Body.ContentType {
	case "html":
		raw.HTMLBody = msg.Body.Content
	case "text":
		raw.TextBody = msg.Body.Content
	}

	if msg.ReceivedDateTime != "" {
		raw.ReceivedAt, _ = time.Parse(time.RFC3339, msg.ReceivedDateTime)
	}

	return raw
}

// Graph API types

type graphMessage struct {
	ID               string            `json:"id"`
	ConversationID   string            `json:"conversationId"`
	Subject          string            `json:"subject"`
	BodyPreview      string            `json:"bodyPreview"`
	Body             graphBody         `json:"body"`
	From             graphRecipient    `json:"from"`
	ToRecipients     []graphRecipient  `json:"toRecipients"`
	CcRecipients     []graphRecipient  `json:"ccRecipients"`
	IsRead           bool              `json:"isRead"`
	Flag             graphFlag         `json:"flag"`
	ParentFolderID   string            `json:"parentFolderId"`
	HasAttachments   bool              `json:"hasAttachments"`
	ReceivedDateTime string            `json:"receivedDateTime"`
	Removed          *graphRemovedInfo `json:"@removed,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphFlag struct {
	FlagStatus string `json:"flagStatus"`
}

type graphRemovedInfo struct {
	Reason string `json:"reason"`
}

var _ out.ProviderAdapterPort = (*GraphAdapter)(nil)
