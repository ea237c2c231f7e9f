// Package realtime provides real-time communication adapters.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"

	"github.com/rs/zerolog"
)

// =============================================================================
// SSE Adapter - RealtimePort 구현
// =============================================================================

// SSEAdapter implements out.RealtimePort using Server-Sent Events.
// Streams are keyed by account: one mailbox account can have several
// open browser tabs, each with its own channel.
type SSEAdapter struct {
	clients map[int64]map[chan *domain.RealtimeEvent]struct{} // accountID -> channels
	mu      sync.RWMutex
	log     zerolog.Logger

	// Metrics
	messagesSent    int64
	messagesDropped int64
	seqCounter      int64 // 전역 시퀀스 카운터
}

// NewSSEAdapter creates a new SSE adapter.
func NewSSEAdapter(log zerolog.Logger) *SSEAdapter {
	return &SSEAdapter{
		clients: make(map[int64]map[chan *domain.RealtimeEvent]struct{}),
		log:     log.With().Str("component", "sse_adapter").Logger(),
	}
}

// Subscribe creates a new subscription channel for an account stream.
func (a *SSEAdapter) Subscribe(accountID int64) <-chan *domain.RealtimeEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan *domain.RealtimeEvent, 256) // Buffer for backpressure

	if a.clients[accountID] == nil {
		a.clients[accountID] = make(map[chan *domain.RealtimeEvent]struct{})
	}
	a.clients[accountID][ch] = struct{}{}

	a.log.Debug().
		Int64("account_id", accountID).
		Int("total_connections", len(a.clients[accountID])).
		Msg("client subscribed")

	return ch
}

// Unsubscribe removes a subscription channel.
func (a *SSEAdapter) Unsubscribe(accountID int64, ch <-chan *domain.RealtimeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if channels, ok := a.clients[accountID]; ok {
		for c := range channels {
			if c == ch {
				delete(channels, c)
				close(c)
				break
			}
		}

		if len(channels) == 0 {
			delete(a.clients, accountID)
		}
	}

	a.log.Debug().
		Int64("account_id", accountID).
		Msg("client unsubscribed")
}

// Push sends an event to every subscriber of an account stream. Full
// channels drop the event rather than stall the sync pipeline.
func (a *SSEAdapter) Push(ctx context.Context, accountID int64, event *domain.RealtimeEvent) error {
	// 시퀀스 번호 할당 (atomic - 순서 보장)
	event.Seq = atomic.AddInt64(&a.seqCounter, 1)
	event.AccountID = accountID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.mu.RLock()
	channels, ok := a.clients[accountID]
	if !ok || len(channels) == 0 {
		a.mu.RUnlock()
		return nil // No active connections
	}

	// Copy channels to avoid holding lock during send
	chList := make([]chan *domain.RealtimeEvent, 0, len(channels))
	for ch := range channels {
		chList = append(chList, ch)
	}
	a.mu.RUnlock()

	for _, ch := range chList {
		select {
		case ch <- event:
			atomic.AddInt64(&a.messagesSent, 1)
		default:
			// Channel full, drop message (backpressure)
			atomic.AddInt64(&a.messagesDropped, 1)
			a.log.Warn().
				Int64("account_id", accountID).
				Str("event_type", string(event.Type)).
				Int64("seq", event.Seq).
				Msg("dropped event due to full buffer")
		}
	}

	return nil
}

// ConnectedCount returns the number of accounts with live subscribers.
func (a *SSEAdapter) ConnectedCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clients)
}

// IsConnected checks if an account has active subscribers.
func (a *SSEAdapter) IsConnected(accountID int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	channels, ok := a.clients[accountID]
	return ok && len(channels) > 0
}

// GetMetrics returns adapter metrics.
func (a *SSEAdapter) GetMetrics() SSEMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	totalConnections := 0
	for _, channels := range a.clients {
		totalConnections += len(channels)
	}

	return SSEMetrics{
		ConnectedAccounts: len(a.clients),
		TotalConnections:  totalConnections,
		MessagesSent:      atomic.LoadInt64(&a.messagesSent),
		MessagesDropped:   atomic.LoadInt64(&a.messagesDropped),
	}
}

// SSEMetrics holds SSE adapter metrics.
type SSEMetrics struct {
	ConnectedAccounts int   `json:"connected_accounts"`
	TotalConnections  int   `json:"total_connections"`
	MessagesSent      int64 `json:"messages_sent"`
	MessagesDropped   int64 `json:"messages_dropped"`
}

// =============================================================================
// SSE Hub - HTTP Handler 연결용
// =============================================================================

// SSEHub manages SSE connections for HTTP handlers.
type SSEHub struct {
	adapter *SSEAdapter
	log     zerolog.Logger

	heartbeatInterval time.Duration
}

// NewSSEHub creates a new SSE hub.
func NewSSEHub(adapter *SSEAdapter, log zerolog.Logger) *SSEHub {
	return &SSEHub{
		adapter:           adapter,
		log:               log.With().Str("component", "sse_hub").Logger(),
		heartbeatInterval: 30 * time.Second,
	}
}

// CreateClient creates a new SSE client for an account stream.
func (h *SSEHub) CreateClient(accountID int64) *SSEClient {
	eventCh := h.adapter.Subscribe(accountID)

	return &SSEClient{
		AccountID: accountID,
		Events:    eventCh,
		Done:      make(chan struct{}),
		hub:       h,
	}
}

// RemoveClient removes an SSE client.
func (h *SSEHub) RemoveClient(client *SSEClient) {
	h.adapter.Unsubscribe(client.AccountID, client.Events)
}

// SSEClient represents an SSE client connection.
type SSEClient struct {
	AccountID int64
	Events    <-chan *domain.RealtimeEvent
	Done      chan struct{}
	hub       *SSEHub
}

// Close closes the client connection.
func (c *SSEClient) Close() {
	close(c.Done)
	c.hub.RemoveClient(c)
}

// HeartbeatInterval returns the heartbeat interval.
func (c *SSEClient) HeartbeatInterval() time.Duration {
	return c.hub.heartbeatInterval
}

// =============================================================================
// Event Serialization
// =============================================================================

// SerializeEvent converts a RealtimeEvent to its SSE data payload.
func SerializeEvent(event *domain.RealtimeEvent) ([]byte, error) {
	payload := map[string]interface{}{
		"type":      event.Type,
		"seq":       event.Seq,
		"data":      event.Data,
		"timestamp": event.Timestamp.Format(time.RFC3339),
	}
	return json.Marshal(payload)
}

var _ out.RealtimePort = (*SSEAdapter)(nil)
