package out

import (
	"context"

	"mailsync_server/core/domain"
)

// RealtimePort - 계정별 실시간 이벤트 푸시 (SSE)
// Push never blocks the sync pipeline: slow consumers drop events.
type RealtimePort interface {
	// 계정 채널 구독
	Subscribe(accountID int64) <-chan *domain.RealtimeEvent

	// 구독 해제
	Unsubscribe(accountID int64, ch <-chan *domain.RealtimeEvent)

	// 특정 계정 스트림에 이벤트 전송
	Push(ctx context.Context, accountID int64, event *domain.RealtimeEvent) error

	// 연결된 구독자 수
	ConnectedCount() int

	// 특정 계정 구독자 존재 여부
	IsConnected(accountID int64) bool
}
