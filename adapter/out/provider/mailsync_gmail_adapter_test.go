package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// =============================================================================
// Fake Gmail backend
// =============================================================================

// newFakeGmail serves a two-page mailbox: page 1 carries message m1 and
// nextPageToken "page-2", page 2 carries m2 and ends the walk. The
// backend's head historyId is 900.
func newFakeGmail(t *testing.T) (*gmail.Service, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}

	mux.HandleFunc("/gmail/v1/users/me/history", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, `{
				"history": [{"messagesAdded": [{"message": {"id": "m1"}}]}],
				"historyId": "900",
				"nextPageToken": "page-2"
			}`)
			return
		}
		writeJSON(w, `{
			"history": [{"messagesAdded": [{"message": {"id": "m2"}}]}],
			"historyId": "900"
		}`)
	})

	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, `{"messages": [{"id": "m1"}], "nextPageToken": "page-2"}`)
			return
		}
		writeJSON(w, `{"messages": [{"id": "m2"}]}`)
	})

	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/gmail/v1/users/me/messages/"):]
		writeJSON(w, fmt.Sprintf(`{
			"id": %q,
			"threadId": "t1",
			"internalDate": "1700000000000",
			"labelIds": ["INBOX"],
			"snippet": "hello"
		}`, id))
	})

	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"emailAddress": "user@example.com", "historyId": "900"}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("gmail service: %v", err)
	}
	return svc, srv
}

func newTestGmailAdapter() *GmailAdapter {
	return NewGmailAdapter(&oauth2.Config{ClientID: "test"}, "proj", "topic")
}

// =============================================================================
// Cursor semantics
// =============================================================================

// 히스토리 중간 페이지에서 최신 historyId를 커밋하면 실패 시 남은
// 변경분을 영구히 건너뛴다: 커서는 마지막 페이지에서만 전진해야 한다.
func TestFetchHistoryAdvancesCursorOnlyOnFinalPage(t *testing.T) {
	svc, _ := newFakeGmail(t)
	a := newTestGmailAdapter()

	req := &out.FetchRequest{Mode: domain.SyncModeIncremental, Cursor: "100", BatchSize: 10}

	first, err := a.fetchHistory(context.Background(), svc, req)
	if err != nil {
		t.Fatalf("fetchHistory page 1: %v", err)
	}
	if !first.HasMore {
		t.Fatal("page 1 should report more pages")
	}
	if first.NextPageToken != "page-2" {
		t.Errorf("NextPageToken = %q, want %q", first.NextPageToken, "page-2")
	}
	if first.NextCursor != "100" {
		t.Errorf("intermediate NextCursor = %q, want request cursor %q", first.NextCursor, "100")
	}
	if len(first.Messages) != 1 || first.Messages[0].ProviderMessageID != "m1" {
		t.Errorf("page 1 messages = %+v, want [m1]", first.Messages)
	}

	req.PageToken = first.NextPageToken
	last, err := a.fetchHistory(context.Background(), svc, req)
	if err != nil {
		t.Fatalf("fetchHistory page 2: %v", err)
	}
	if last.HasMore {
		t.Error("final page should not report more pages")
	}
	if last.NextCursor != "900" {
		t.Errorf("final NextCursor = %q, want %q", last.NextCursor, "900")
	}
	if len(last.Messages) != 1 || last.Messages[0].ProviderMessageID != "m2" {
		t.Errorf("page 2 messages = %+v, want [m2]", last.Messages)
	}
}

func TestFetchFullPageAdvancesCursorOnlyOnFinalPage(t *testing.T) {
	svc, _ := newFakeGmail(t)
	a := newTestGmailAdapter()

	req := &out.FetchRequest{Mode: domain.SyncModeInitial, BatchSize: 10}

	first, err := a.fetchFullPage(context.Background(), svc, req)
	if err != nil {
		t.Fatalf("fetchFullPage page 1: %v", err)
	}
	if !first.HasMore || first.NextPageToken != "page-2" {
		t.Errorf("page 1: HasMore=%v NextPageToken=%q, want more pages via %q",
			first.HasMore, first.NextPageToken, "page-2")
	}
	if first.NextCursor != "" {
		t.Errorf("intermediate NextCursor = %q, want empty (initial walk incomplete)", first.NextCursor)
	}

	req.PageToken = first.NextPageToken
	last, err := a.fetchFullPage(context.Background(), svc, req)
	if err != nil {
		t.Fatalf("fetchFullPage page 2: %v", err)
	}
	if last.HasMore {
		t.Error("final page should not report more pages")
	}
	if last.NextCursor != "900" {
		t.Errorf("final NextCursor = %q, want profile historyId %q", last.NextCursor, "900")
	}
}
