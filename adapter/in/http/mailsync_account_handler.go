package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"mailsync_server/core/domain"
	portin "mailsync_server/core/port/in"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/response"
)

// =============================================================================
// Account Handler - 수동 동기화 / 재연결 / 상태 조회
// =============================================================================

type AccountHandler struct {
	accountRepo  domain.AccountRepository
	orchestrator portin.SyncOrchestrator
	webhooks     portin.WebhookManager
}

func NewAccountHandler(
	accountRepo domain.AccountRepository,
	orchestrator portin.SyncOrchestrator,
	webhooks portin.WebhookManager,
) *AccountHandler {
	return &AccountHandler{
		accountRepo:  accountRepo,
		orchestrator: orchestrator,
		webhooks:     webhooks,
	}
}

// Register registers account routes under the authenticated group.
func (h *AccountHandler) Register(router fiber.Router) {
	accounts := router.Group("/accounts")
	accounts.Get("/", h.ListAccounts)
	accounts.Post("/:id/sync", h.RequestSync)
	accounts.Post("/:id/reconnect", h.Reconnect)
	accounts.Get("/:id/status", h.Status)
	accounts.Post("/:id/webhook", h.SetupWebhook)
	accounts.Delete("/:id/webhook", h.StopWebhook)
}

// ownedAccount loads the account and verifies it belongs to the JWT user.
func (h *AccountHandler) ownedAccount(c *fiber.Ctx) (*domain.Account, error) {
	userID, err := GetUserID(c)
	if err != nil {
		return nil, ErrorResponse(c, 401, "unauthorized")
	}
	accountID, err := GetAccountID(c)
	if err != nil {
		return nil, ErrorResponse(c, 400, "invalid account id")
	}
	account, err := h.accountRepo.GetByID(accountID)
	if err != nil || account == nil || account.UserID != userID || account.DeletedAt != nil {
		return nil, ErrorResponse(c, 404, "account not found")
	}
	return account, nil
}

func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	accounts, err := h.accountRepo.ListByUserID(userID)
	if err != nil {
		return InternalErrorResponse(c, err, "list accounts")
	}
	return SuccessResponse(c, fiber.Map{"accounts": accounts, "total": len(accounts)})
}

type syncRequest struct {
	FullSync bool `json:"full_sync"`
}

// RequestSync triggers a manual sync. 202 on acceptance; busy accounts
// get 409 so the client can show "already syncing".
func (h *AccountHandler) RequestSync(c *fiber.Ctx) error {
	account, err := h.ownedAccount(c)
	if account == nil {
		return err
	}

	var req syncRequest
	_ = c.BodyParser(&req) // 빈 바디 허용

	if req.FullSync {
		err = h.orchestrator.RequestFullSync(c.Context(), account.ID, domain.TriggerManual)
	} else {
		err = h.orchestrator.RequestSync(c.Context(), account.ID, domain.TriggerManual)
	}

	switch {
	case err == nil:
		return response.Accepted(c, fiber.Map{"status": "accepted"})
	case errors.Is(err, domain.ErrAlreadySyncing):
		return ErrorResponseWithCode(c, 409, apperr.CodeAlreadySyncing, "sync already in progress")
	case errors.Is(err, domain.ErrAccountQuarantined):
		return ErrorResponseWithCode(c, 409, apperr.CodeAccountQuarantined, "account quarantined, reconnect required")
	case errors.Is(err, domain.ErrAccountNotFound):
		return ErrorResponse(c, 404, "account not found")
	default:
		return InternalErrorResponse(c, err, "request sync")
	}
}

// Reconnect resets the error state after the user re-authorizes.
// This is the only path out of quarantine.
func (h *AccountHandler) Reconnect(c *fiber.Ctx) error {
	account, err := h.ownedAccount(c)
	if account == nil {
		return err
	}

	if err := h.orchestrator.Reconnect(c.Context(), account.ID); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return ErrorResponse(c, 404, "account not found")
		}
		return InternalErrorResponse(c, err, "reconnect")
	}

	return SuccessResponse(c, fiber.Map{"status": "idle"})
}

func (h *AccountHandler) Status(c *fiber.Ctx) error {
	account, err := h.ownedAccount(c)
	if account == nil {
		return err
	}

	status, err := h.orchestrator.Status(c.Context(), account.ID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return ErrorResponse(c, 404, "account not found")
		}
		return InternalErrorResponse(c, err, "sync status")
	}

	return SuccessResponse(c, status)
}

func (h *AccountHandler) SetupWebhook(c *fiber.Ctx) error {
	account, err := h.ownedAccount(c)
	if account == nil {
		return err
	}

	sub, err := h.webhooks.CreateSubscription(c.Context(), account.ID)
	if err != nil {
		if errors.Is(err, domain.ErrWebhookUnsupported) {
			return ErrorResponseWithCode(c, 400, apperr.CodeBadRequest, "provider does not support webhooks")
		}
		return InternalErrorResponse(c, err, "create webhook subscription")
	}

	return response.Created(c, sub)
}

func (h *AccountHandler) StopWebhook(c *fiber.Ctx) error {
	account, err := h.ownedAccount(c)
	if account == nil {
		return err
	}

	if err := h.webhooks.StopSubscription(c.Context(), account.ID); err != nil {
		return InternalErrorResponse(c, err, "stop webhook subscription")
	}

	return response.NoContent(c)
}
