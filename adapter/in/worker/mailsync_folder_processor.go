package worker

import (
	"context"
	"errors"
	"fmt"

	"mailsync_server/core/domain"
	portin "mailsync_server/core/port/in"
	"mailsync_server/pkg/logger"
)

// FolderProcessor refreshes provider folder lists in the background,
// e.g. after an account connects or reconnects.
type FolderProcessor struct {
	folderService portin.FolderService
}

// NewFolderProcessor creates a new folder processor.
func NewFolderProcessor(folderService portin.FolderService) *FolderProcessor {
	return &FolderProcessor{folderService: folderService}
}

// ProcessRefresh pulls the provider folder list and reclassifies it.
func (p *FolderProcessor) ProcessRefresh(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[FolderRefreshPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	folders, err := p.folderService.RefreshFolders(ctx, payload.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			logger.Warn("[FolderProcessor.ProcessRefresh] account %d not found, dropping job", payload.AccountID)
			return nil
		}
		return fmt.Errorf("failed to refresh folders for account %d: %w", payload.AccountID, err)
	}

	logger.Info("[FolderProcessor.ProcessRefresh] account=%d, folders=%d", payload.AccountID, len(folders))
	return nil
}
