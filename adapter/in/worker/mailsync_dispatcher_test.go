package worker

import (
	"context"
	"testing"

	"mailsync_server/core/domain"
)

func TestParsePayloadMailSync(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    MailSyncPayload
	}{
		{
			name: "webhook trigger with full sync",
			payload: map[string]any{
				"account_id": int64(42),
				"trigger":    string(domain.TriggerWebhook),
				"full_sync":  true,
			},
			want: MailSyncPayload{AccountID: 42, Trigger: domain.TriggerWebhook, FullSync: true},
		},
		{
			// float64 경유 시 2^53 초과 ID가 잘리므로 int64 보존 확인
			name: "large account id survives round trip",
			payload: map[string]any{
				"account_id": int64(9007199254740993),
				"trigger":    string(domain.TriggerScheduled),
			},
			want: MailSyncPayload{AccountID: 9007199254740993, Trigger: domain.TriggerScheduled},
		},
		{
			name:    "missing fields default to zero values",
			payload: map[string]any{"account_id": int64(7)},
			want:    MailSyncPayload{AccountID: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewMessage(JobMailSync, tt.payload)

			got, err := ParsePayload[MailSyncPayload](msg)
			if err != nil {
				t.Fatalf("ParsePayload() error = %v", err)
			}
			if *got != tt.want {
				t.Errorf("ParsePayload() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParsePayloadWebhookRenew(t *testing.T) {
	msg := NewPriorityMessage(JobWebhookRenew, map[string]any{
		"subscription_id": int64(0),
		"renew_all":       true,
	}, PriorityHigh)

	got, err := ParsePayload[WebhookRenewPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if got.SubscriptionID != 0 || !got.RenewAll {
		t.Errorf("ParsePayload() = %+v, want renew-all sweep", *got)
	}
	if !msg.IsPriority() {
		t.Error("renew message should route to the priority queue")
	}
}

// Sync attempts ride the pool as closures so they share the workers'
// concurrency bound with stream jobs.
func TestProcessSyncAttemptRunsTask(t *testing.T) {
	h := NewHandler(nil, nil, nil)

	ran := false
	msg := NewTaskMessage(JobSyncAttempt, func() { ran = true })

	if err := h.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !ran {
		t.Error("task closure was not invoked")
	}
}

func TestProcessSyncAttemptWithoutTask(t *testing.T) {
	h := NewHandler(nil, nil, nil)

	msg := NewMessage(JobSyncAttempt, map[string]any{})
	if err := h.Process(context.Background(), msg); err == nil {
		t.Error("Process() = nil, want error for missing task")
	}
}
