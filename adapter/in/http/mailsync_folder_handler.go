package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"mailsync_server/core/domain"
	portin "mailsync_server/core/port/in"
)

// FolderHandler handles per-account folder routes.
type FolderHandler struct {
	accountRepo   domain.AccountRepository
	folderService portin.FolderService
}

// NewFolderHandler creates a new FolderHandler.
func NewFolderHandler(accountRepo domain.AccountRepository, folderService portin.FolderService) *FolderHandler {
	return &FolderHandler{
		accountRepo:   accountRepo,
		folderService: folderService,
	}
}

// Register registers folder routes under the authenticated group.
func (h *FolderHandler) Register(router fiber.Router) {
	folders := router.Group("/accounts/:id/folders")
	folders.Get("/", h.ListFolders)
	folders.Post("/refresh", h.RefreshFolders)
	folders.Post("/:folder_id/confirm", h.ConfirmFolder)
}

func (h *FolderHandler) ownedAccountID(c *fiber.Ctx) (int64, error) {
	userID, err := GetUserID(c)
	if err != nil {
		return 0, ErrorResponse(c, 401, "unauthorized")
	}
	accountID, err := GetAccountID(c)
	if err != nil {
		return 0, ErrorResponse(c, 400, "invalid account id")
	}
	account, err := h.accountRepo.GetByID(accountID)
	if err != nil || account == nil || account.UserID != userID || account.DeletedAt != nil {
		return 0, ErrorResponse(c, 404, "account not found")
	}
	return accountID, nil
}

// ListFolders returns the stored folder list with classification state.
func (h *FolderHandler) ListFolders(c *fiber.Ctx) error {
	accountID, err := h.ownedAccountID(c)
	if accountID == 0 {
		return err
	}

	folders, err := h.folderService.ListFolders(c.Context(), accountID)
	if err != nil {
		return InternalErrorResponse(c, err, "list folders")
	}

	return SuccessResponse(c, fiber.Map{"folders": folders, "total": len(folders)})
}

// RefreshFolders re-pulls the provider folder list and reclassifies it.
func (h *FolderHandler) RefreshFolders(c *fiber.Ctx) error {
	accountID, err := h.ownedAccountID(c)
	if accountID == 0 {
		return err
	}

	folders, err := h.folderService.RefreshFolders(c.Context(), accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return ErrorResponse(c, 404, "account not found")
		}
		return InternalErrorResponse(c, err, "refresh folders")
	}

	return SuccessResponse(c, fiber.Map{"folders": folders, "total": len(folders)})
}

type confirmFolderRequest struct {
	Canonical string `json:"canonical"`
	Enabled   bool   `json:"enabled"`
}

// ConfirmFolder resolves a needs-review folder with the user's choice.
func (h *FolderHandler) ConfirmFolder(c *fiber.Ctx) error {
	accountID, err := h.ownedAccountID(c)
	if accountID == 0 {
		return err
	}

	folderID, err := parseID(c.Params("folder_id"))
	if err != nil {
		return ErrorResponse(c, 400, "invalid folder id")
	}

	var req confirmFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	canonical := domain.CanonicalFolder(req.Canonical)
	if !canonical.Valid() {
		return ErrorResponse(c, 400, "invalid canonical folder")
	}

	if err := h.folderService.ConfirmFolder(c.Context(), accountID, folderID, canonical, req.Enabled); err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrFolderNotFound):
			return ErrorResponse(c, 404, "folder not found")
		default:
			return InternalErrorResponse(c, err, "confirm folder")
		}
	}

	return SuccessResponse(c, fiber.Map{"confirmed": true})
}
