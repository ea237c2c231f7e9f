package folder

import (
	"context"
	"fmt"
	"time"

	"mailsync_server/core/domain"
	portin "mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/logger"
)

// =============================================================================
// FolderService - 폴더 발견/분류/확정
// =============================================================================

type Service struct {
	accountRepo domain.AccountRepository
	folderRepo  domain.FolderRepository
	credentials out.CredentialPort
	providers   out.ProviderRegistry
	realtime    out.RealtimePort
}

func NewService(
	accountRepo domain.AccountRepository,
	folderRepo domain.FolderRepository,
	credentials out.CredentialPort,
	providers out.ProviderRegistry,
	realtime out.RealtimePort,
) *Service {
	return &Service{
		accountRepo: accountRepo,
		folderRepo:  folderRepo,
		credentials: credentials,
		providers:   providers,
		realtime:    realtime,
	}
}

// RefreshFolders pulls the remote folder list, classifies every folder
// and upserts the result. User-confirmed mappings are preserved by the
// repository; folders below the confidence threshold come back
// needs_review and disabled.
func (s *Service) RefreshFolders(ctx context.Context, accountID int64) ([]*domain.Folder, error) {
	account, err := s.accountRepo.GetByID(accountID)
	if err != nil {
		return nil, err
	}

	adapter, err := s.providers.Adapter(account.Provider)
	if err != nil {
		return nil, err
	}

	cred, err := s.credentials.Access(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}

	remoteFolders, err := adapter.ListFolders(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote folders: %w", err)
	}

	folders := make([]*domain.Folder, 0, len(remoteFolders))
	for _, rf := range remoteFolders {
		classification := Classify(rf.Name, domain.FolderHints{
			SpecialUse: rf.SpecialUse,
			System:     rf.System,
		})

		folder := &domain.Folder{
			AccountID:   accountID,
			RemoteID:    rf.RemoteID,
			RemoteName:  rf.Name,
			Canonical:   classification.Canonical,
			Confidence:  classification.Confidence,
			NeedsReview: classification.NeedsReview,
			Enabled:     !classification.NeedsReview,
		}

		if err := s.folderRepo.Upsert(folder); err != nil {
			logger.Error("[FolderService] Failed to upsert folder %q for account %d: %v", rf.Name, accountID, err)
			continue
		}
		folders = append(folders, folder)

		if folder.NeedsReview {
			s.pushNeedsReview(ctx, accountID, folder)
		}
	}

	logger.Info("[FolderService] Refreshed %d folders for account %d", len(folders), accountID)
	return folders, nil
}

// ListFolders returns the persisted folder set for an account.
func (s *Service) ListFolders(ctx context.Context, accountID int64) ([]*domain.Folder, error) {
	return s.folderRepo.ListByAccount(accountID)
}

// ConfirmFolder applies the user's decision for a needs-review folder.
func (s *Service) ConfirmFolder(ctx context.Context, accountID, folderID int64, canonical domain.CanonicalFolder, enabled bool) error {
	folder, err := s.folderRepo.GetByID(folderID)
	if err != nil {
		return err
	}
	if folder == nil || folder.AccountID != accountID {
		// 다른 계정의 폴더도 존재를 드러내지 않음
		return domain.ErrFolderNotFound
	}

	return s.folderRepo.Confirm(folderID, canonical, enabled)
}

func (s *Service) pushNeedsReview(ctx context.Context, accountID int64, folder *domain.Folder) {
	if s.realtime == nil {
		return
	}
	_ = s.realtime.Push(ctx, accountID, &domain.RealtimeEvent{
		Type:      domain.EventFolderNeedsReview,
		Timestamp: time.Now(),
		Data: &domain.FolderReviewData{
			FolderID:   folder.ID,
			RemoteName: folder.RemoteName,
			Canonical:  string(folder.Canonical),
			Confidence: folder.Confidence,
		},
	})
}

var _ portin.FolderService = (*Service)(nil)
