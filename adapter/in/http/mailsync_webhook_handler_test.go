package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"mailsync_server/core/domain"
)

type fakeWebhookManager struct {
	mu          sync.Mutex
	gmailCalls  []string
	graphCalls  []string
	rejectGraph bool
	rejectGmail bool
}

func (f *fakeWebhookManager) CreateSubscription(ctx context.Context, accountID int64) (*domain.WebhookSubscription, error) {
	return nil, domain.ErrWebhookUnsupported
}

func (f *fakeWebhookManager) StopSubscription(ctx context.Context, accountID int64) error {
	return nil
}

func (f *fakeWebhookManager) RenewExpiring(ctx context.Context) error { return nil }

func (f *fakeWebhookManager) HandleGmailPush(ctx context.Context, emailAddress string, historyID uint64, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectGmail {
		return domain.ErrValidationFailed
	}
	f.gmailCalls = append(f.gmailCalls, fmt.Sprintf("%s:%d:%s", emailAddress, historyID, messageID))
	return nil
}

func (f *fakeWebhookManager) HandleGraphPush(ctx context.Context, subscriptionID, clientState string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectGraph {
		return domain.ErrValidationFailed
	}
	f.graphCalls = append(f.graphCalls, subscriptionID+":"+clientState)
	return nil
}

func newWebhookApp(mgr *fakeWebhookManager) *fiber.App {
	app := fiber.New()
	NewWebhookHandler(mgr).Register(app)
	return app
}

func gmailEnvelope(t *testing.T, emailAddress string, historyID uint64, messageID string) []byte {
	t.Helper()
	inner, err := json.Marshal(map[string]any{
		"emailAddress": emailAddress,
		"historyId":    historyID,
	})
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":      base64.StdEncoding.EncodeToString(inner),
			"messageId": messageID,
		},
		"subscription": "projects/p/subscriptions/s",
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestGmailWebhookDecodesEnvelope(t *testing.T) {
	mgr := &fakeWebhookManager{}
	app := newWebhookApp(mgr)

	body := gmailEnvelope(t, "user@example.com", 12345, "msg-1")
	req := httptest.NewRequest("POST", "/webhooks/gmail", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if len(mgr.gmailCalls) != 1 {
		t.Fatalf("expected 1 gmail push, got %d", len(mgr.gmailCalls))
	}
	if mgr.gmailCalls[0] != "user@example.com:12345:msg-1" {
		t.Errorf("unexpected push args: %s", mgr.gmailCalls[0])
	}
}

func TestGmailWebhookBadPayloadStillAcks(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"bad base64", `{"message":{"data":"!!!not-base64!!!","messageId":"m"}}`},
		{"garbage data", `{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte("nope")) + `","messageId":"m"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := &fakeWebhookManager{}
			app := newWebhookApp(mgr)

			req := httptest.NewRequest("POST", "/webhooks/gmail", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != 200 {
				t.Errorf("expected 200 ack, got %d", resp.StatusCode)
			}
			if len(mgr.gmailCalls) != 0 {
				t.Errorf("expected no pushes, got %d", len(mgr.gmailCalls))
			}
		})
	}
}

func TestGmailWebhookRejectedPushAcks(t *testing.T) {
	mgr := &fakeWebhookManager{rejectGmail: true}
	app := newWebhookApp(mgr)

	body := gmailEnvelope(t, "unknown@example.com", 99, "msg-2")
	req := httptest.NewRequest("POST", "/webhooks/gmail", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("rejected push must still ack with 200, got %d", resp.StatusCode)
	}
}

func TestMicrosoftValidationEcho(t *testing.T) {
	mgr := &fakeWebhookManager{}
	app := newWebhookApp(mgr)

	for _, method := range []string{"GET", "POST"} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/webhooks/microsoft?validationToken=abc123", nil)

			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != 200 {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("expected text/plain, got %s", ct)
			}
			body, _ := io.ReadAll(resp.Body)
			if string(body) != "abc123" {
				t.Errorf("expected token echo, got %q", string(body))
			}
			if len(mgr.graphCalls) != 0 {
				t.Errorf("validation must not trigger pushes")
			}
		})
	}
}

func TestMicrosoftWebhookRoutesBatch(t *testing.T) {
	mgr := &fakeWebhookManager{}
	app := newWebhookApp(mgr)

	body, _ := json.Marshal(map[string]any{
		"value": []map[string]any{
			{"subscriptionId": "sub-1", "clientState": "state-1", "changeType": "created"},
			{"subscriptionId": "sub-2", "clientState": "state-2", "changeType": "updated"},
		},
	})
	req := httptest.NewRequest("POST", "/webhooks/microsoft", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if len(mgr.graphCalls) != 2 {
		t.Fatalf("expected 2 graph pushes, got %d", len(mgr.graphCalls))
	}
	if mgr.graphCalls[0] != "sub-1:state-1" || mgr.graphCalls[1] != "sub-2:state-2" {
		t.Errorf("unexpected push args: %v", mgr.graphCalls)
	}
}

func TestMicrosoftWebhookRejectedStillAcks(t *testing.T) {
	mgr := &fakeWebhookManager{rejectGraph: true}
	app := newWebhookApp(mgr)

	body, _ := json.Marshal(map[string]any{
		"value": []map[string]any{
			{"subscriptionId": "sub-x", "clientState": "wrong"},
		},
	})
	req := httptest.NewRequest("POST", "/webhooks/microsoft", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("rejected batch must still ack with 200, got %d", resp.StatusCode)
	}
	if len(mgr.graphCalls) != 0 {
		t.Errorf("expected no accepted pushes, got %d", len(mgr.graphCalls))
	}
}
