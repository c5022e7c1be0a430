// Package worker 提供异步文件任务的消息处理器
package worker

import (
	"context"
	"errors"
	"fmt"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/internal/infrastructure/messaging"
	"rag-retrieval-api/pkg/logger"
)

// FileIndexer 任务执行所需的写路径能力
type FileIndexer interface {
	Reindex(ctx context.Context, userID, fileID string, provider retrieval.Provider) (*retrieval.ProcessOutput, error)
	DeleteFile(ctx context.Context, userID, fileID string) error
}

// Registrar 消息处理器注册表
type Registrar interface {
	RegisterHandler(msgType string, handler messaging.MessageHandler)
}

// FileJobHandler 处理重建与删除任务
type FileJobHandler struct {
	indexer FileIndexer
}

// NewFileJobHandler 创建文件任务处理器
func NewFileJobHandler(indexer FileIndexer) *FileJobHandler {
	return &FileJobHandler{indexer: indexer}
}

// Register 注册到消费者
func (h *FileJobHandler) Register(r Registrar) {
	r.RegisterHandler(messaging.MessageTypeFileReindex, h.HandleReindex)
	r.RegisterHandler(messaging.MessageTypeFileDelete, h.HandleDelete)
}

// HandleReindex 重建文件的 chunk 与向量
func (h *FileJobHandler) HandleReindex(ctx context.Context, msg *messaging.Message) error {
	job, err := decodeJob(msg)
	if err != nil {
		logger.Warn(ctx, "dropping malformed reindex job", "message_id", msg.ID, "error", err.Error())
		return nil
	}
	provider, err := retrieval.ParseProvider(job.Provider)
	if err != nil {
		logger.Warn(ctx, "dropping reindex job with unknown provider", "provider", job.Provider)
		return nil
	}

	out, err := h.indexer.Reindex(ctx, job.UserID, job.FileID, provider)
	if err != nil {
		return settle(ctx, "reindex", err)
	}
	logger.Info(ctx, "reindex job completed",
		"provider", provider,
		"chunks", out.ChunkCount,
		"pages", out.PageCount,
		"tokens", out.TotalTokens,
	)
	return nil
}

// HandleDelete 删除文件的向量与条目；文件已不存在时视为完成
func (h *FileJobHandler) HandleDelete(ctx context.Context, msg *messaging.Message) error {
	job, err := decodeJob(msg)
	if err != nil {
		logger.Warn(ctx, "dropping malformed delete job", "message_id", msg.ID, "error", err.Error())
		return nil
	}

	if err := h.indexer.DeleteFile(ctx, job.UserID, job.FileID); err != nil {
		if errors.Is(err, retrieval.ErrNotFound) {
			logger.Info(ctx, "delete job target already gone")
			return nil
		}
		return settle(ctx, "delete", err)
	}
	logger.Info(ctx, "delete job completed")
	return nil
}

func decodeJob(msg *messaging.Message) (*messaging.FileJobMessage, error) {
	var job messaging.FileJobMessage
	if err := msg.UnmarshalPayload(&job); err != nil {
		return nil, err
	}
	if job.UserID == "" {
		job.UserID = msg.UserID
	}
	if job.FileID == "" {
		job.FileID = msg.FileID
	}
	if job.UserID == "" || job.FileID == "" {
		return nil, fmt.Errorf("job is missing user_id or file_id")
	}
	return &job, nil
}

// settle 永久性失败返回 nil 以确认消息，其余错误交给消费者重试
func settle(ctx context.Context, op string, err error) error {
	if IsPermanent(err) {
		logger.Warn(ctx, op+" job failed permanently", "error", err.Error())
		return nil
	}
	return err
}

// IsPermanent 重试无法成功或不应自动重试的错误。
// provider 失败原样上报给调用方，不论状态码都不自动重投。
func IsPermanent(err error) bool {
	switch {
	case errors.Is(err, retrieval.ErrUnsupportedInput),
		errors.Is(err, retrieval.ErrMissingCredential),
		errors.Is(err, retrieval.ErrInvalidInput),
		errors.Is(err, retrieval.ErrNotFound),
		errors.Is(err, retrieval.ErrVectorDisabled):
		return true
	}
	var pe *retrieval.ProviderError
	return errors.As(err, &pe)
}
