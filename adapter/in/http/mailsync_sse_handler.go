package http

import (
	"bufio"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"mailsync_server/adapter/out/realtime"
	"mailsync_server/core/domain"
)

// =============================================================================
// SSE Handler - 계정별 동기화 진행 스트림
// =============================================================================

// SSEHandler handles Server-Sent Events connections.
type SSEHandler struct {
	accountRepo domain.AccountRepository
	hub         *realtime.SSEHub
	log         zerolog.Logger
}

// NewSSEHandler creates a new SSE handler.
func NewSSEHandler(accountRepo domain.AccountRepository, hub *realtime.SSEHub, log zerolog.Logger) *SSEHandler {
	return &SSEHandler{
		accountRepo: accountRepo,
		hub:         hub,
		log:         log.With().Str("handler", "sse").Logger(),
	}
}

// Register registers SSE routes under the authenticated group.
func (h *SSEHandler) Register(router fiber.Router) {
	router.Get("/accounts/:id/progress", h.Stream)
}

// Stream handles SSE connections for one account's sync progress.
func (h *SSEHandler) Stream(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, 400, "invalid account id")
	}

	account, err := h.accountRepo.GetByID(accountID)
	if err != nil || account == nil || account.UserID != userID || account.DeletedAt != nil {
		return ErrorResponse(c, 404, "account not found")
	}

	client := h.hub.CreateClient(accountID)

	h.log.Info().
		Int64("account_id", accountID).
		Msg("SSE client connected")

	// Set SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no") // Nginx buffering 비활성화

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(client.HeartbeatInterval())
		defer ticker.Stop()
		defer func() {
			client.Close()
			h.log.Info().
				Int64("account_id", accountID).
				Msg("SSE client disconnected")
		}()

		// Send initial connection event
		w.WriteString("event: connected\n")
		w.WriteString("data: {\"status\":\"connected\"}\n\n")
		w.Flush()

		for {
			select {
			case event, ok := <-client.Events:
				if !ok {
					return
				}

				data, err := realtime.SerializeEvent(event)
				if err != nil {
					h.log.Error().Err(err).Msg("failed to serialize event")
					continue
				}

				// Write SSE format
				w.WriteString("event: ")
				w.WriteString(string(event.Type))
				w.WriteString("\n")
				w.WriteString("data: ")
				w.Write(data)
				w.WriteString("\n\n")

				if err := w.Flush(); err != nil {
					h.log.Debug().Err(err).Msg("client disconnected during write")
					return
				}

			case <-ticker.C:
				// Heartbeat
				w.WriteString(": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					h.log.Debug().Err(err).Msg("client disconnected during heartbeat")
					return
				}

			case <-client.Done:
				return
			}
		}
	})

	return nil
}
