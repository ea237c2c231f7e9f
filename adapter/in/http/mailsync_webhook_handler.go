package http

import (
	"encoding/base64"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	portin "mailsync_server/core/port/in"
	"mailsync_server/pkg/logger"
)

// =============================================================================
// Webhook Handler - Gmail Pub/Sub + Microsoft Graph 알림 수신
// =============================================================================
//
// 웹훅 경로는 항상 빠르게 200을 반환합니다. 재전송 폭주를 막기 위해
// 검증 실패나 미등록 계정도 200으로 ACK하고 동기화만 생략합니다.

type WebhookMetrics struct {
	Processed int64
	Rejected  int64
	Errors    int64
}

type WebhookHandler struct {
	webhooks portin.WebhookManager
	metrics  WebhookMetrics
}

func NewWebhookHandler(webhooks portin.WebhookManager) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

func (h *WebhookHandler) GetMetrics() WebhookMetrics {
	return WebhookMetrics{
		Processed: atomic.LoadInt64(&h.metrics.Processed),
		Rejected:  atomic.LoadInt64(&h.metrics.Rejected),
		Errors:    atomic.LoadInt64(&h.metrics.Errors),
	}
}

// Register registers the unauthenticated webhook routes.
func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhooks/gmail", h.GmailWebhook)
	app.Post("/webhooks/microsoft", h.MicrosoftWebhook)
	app.Get("/webhooks/microsoft", h.MicrosoftValidation)
}

// GmailPushNotification represents Gmail Pub/Sub push notification.
type GmailPushNotification struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// GmailNotificationData represents the decoded data from Gmail push notification.
type GmailNotificationData struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

func (h *WebhookHandler) GmailWebhook(c *fiber.Ctx) error {
	var notification GmailPushNotification
	if err := c.BodyParser(&notification); err != nil {
		logger.WithError(err).Warn("[GmailWebhook] Failed to parse notification")
		atomic.AddInt64(&h.metrics.Rejected, 1)
		return c.SendStatus(fiber.StatusOK)
	}

	data, err := base64.StdEncoding.DecodeString(notification.Message.Data)
	if err != nil {
		logger.WithError(err).Warn("[GmailWebhook] Failed to decode data")
		atomic.AddInt64(&h.metrics.Rejected, 1)
		return c.SendStatus(fiber.StatusOK)
	}

	var notificationData GmailNotificationData
	if err := json.Unmarshal(data, &notificationData); err != nil {
		logger.WithError(err).Warn("[GmailWebhook] Failed to unmarshal data")
		atomic.AddInt64(&h.metrics.Rejected, 1)
		return c.SendStatus(fiber.StatusOK)
	}

	logger.Info("[GmailWebhook] Received: email=%s, historyId=%d",
		notificationData.EmailAddress, notificationData.HistoryID)

	err = h.webhooks.HandleGmailPush(c.Context(),
		notificationData.EmailAddress, notificationData.HistoryID, notification.Message.MessageID)
	if err != nil {
		// Pub/Sub는 non-2xx 시 재전송하므로 실패도 ACK
		logger.WithError(err).Warn("[GmailWebhook] Push rejected: email=%s", notificationData.EmailAddress)
		atomic.AddInt64(&h.metrics.Rejected, 1)
		return c.SendStatus(fiber.StatusOK)
	}

	atomic.AddInt64(&h.metrics.Processed, 1)
	return c.SendStatus(fiber.StatusOK)
}

// GraphNotification represents a Microsoft Graph change notification batch.
type GraphNotification struct {
	Value []struct {
		SubscriptionID                 string `json:"subscriptionId"`
		SubscriptionExpirationDateTime string `json:"subscriptionExpirationDateTime"`
		ChangeType                     string `json:"changeType"`
		Resource                       string `json:"resource"`
		ClientState                    string `json:"clientState"`
		ResourceData                   struct {
			ID string `json:"id"`
		} `json:"resourceData"`
	} `json:"value"`
}

func (h *WebhookHandler) MicrosoftWebhook(c *fiber.Ctx) error {
	// 구독 생성/갱신 시 Graph가 POST로도 검증 토큰을 보냄
	if token := c.Query("validationToken"); token != "" {
		c.Set("Content-Type", "text/plain")
		return c.SendString(token)
	}

	var notification GraphNotification
	if err := c.BodyParser(&notification); err != nil {
		logger.WithError(err).Warn("[MicrosoftWebhook] Failed to parse notification")
		atomic.AddInt64(&h.metrics.Rejected, 1)
		return c.SendStatus(fiber.StatusOK)
	}

	for _, change := range notification.Value {
		logger.Info("[MicrosoftWebhook] Received: subscription=%s, changeType=%s",
			change.SubscriptionID, change.ChangeType)

		err := h.webhooks.HandleGraphPush(c.Context(), change.SubscriptionID, change.ClientState)
		if err != nil {
			// clientState 불일치 포함 — 동기화 없이 ACK만
			logger.WithError(err).Warn("[MicrosoftWebhook] Push rejected: subscription=%s", change.SubscriptionID)
			atomic.AddInt64(&h.metrics.Rejected, 1)
			continue
		}
		atomic.AddInt64(&h.metrics.Processed, 1)
	}

	return c.SendStatus(fiber.StatusOK)
}

// MicrosoftValidation echoes the Graph subscription validation token.
func (h *WebhookHandler) MicrosoftValidation(c *fiber.Ctx) error {
	if token := c.Query("validationToken"); token != "" {
		c.Set("Content-Type", "text/plain")
		return c.SendString(token)
	}
	return c.SendStatus(fiber.StatusOK)
}
