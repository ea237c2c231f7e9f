package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"mailsync_server/pkg/logger"
)

type Handler struct {
	syncProcessor    *SyncProcessor
	webhookProcessor *WebhookProcessor
	folderProcessor  *FolderProcessor
}

func NewHandler(
	syncProcessor *SyncProcessor,
	webhookProcessor *WebhookProcessor,
	folderProcessor *FolderProcessor,
) *Handler {
	return &Handler{
		syncProcessor:    syncProcessor,
		webhookProcessor: webhookProcessor,
		folderProcessor:  folderProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	// Mail jobs
	case JobMailSync:
		return h.syncProcessor.ProcessSync(ctx, msg)

	// Webhook jobs
	case JobWebhookRenew:
		return h.webhookProcessor.ProcessRenew(ctx, msg)

	// Folder jobs
	case JobFolderRefresh:
		return h.folderProcessor.ProcessRefresh(ctx, msg)

	// In-process closures (sync attempts from the orchestrator)
	case JobSyncAttempt:
		task, ok := msg.Payload[taskPayloadKey].(func())
		if !ok {
			return fmt.Errorf("sync attempt message %s carries no task", msg.ID)
		}
		task()
		return nil

	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
