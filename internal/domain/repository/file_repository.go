// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"rag-retrieval-api/internal/domain/entity"
)

// FileRepository 文件仓储接口
type FileRepository interface {
	// Upsert 创建或更新文件记录（含 token 总数与内容指纹）
	Upsert(ctx context.Context, file *entity.File) error

	// GetByID 根据 ID 获取文件，不存在返回 nil
	GetByID(ctx context.Context, id string) (*entity.File, error)

	// Delete 删除文件记录
	Delete(ctx context.Context, id string) error
}

// MatchParams 相似度检索参数
type MatchParams struct {
	// Column 向量列：openai_embedding | local_embedding
	Column     string
	Embedding  []float32
	MatchCount int
	FileIDs    []string
	UserID     string
}

// FileItemRepository 文件条目仓储接口
type FileItemRepository interface {
	// ReplaceByFile 删除文件旧条目并写入新条目
	ReplaceByFile(ctx context.Context, fileID string, items []*entity.FileItem) error

	// DeleteByFile 删除文件的全部条目
	DeleteByFile(ctx context.Context, fileID string) error

	// ListPages 按顺序获取文件的整页条目
	ListPages(ctx context.Context, fileID string) ([]*entity.FileItem, error)

	// ListPagesByIDs 按 ID 获取整页条目（限定用户与文件）
	ListPagesByIDs(ctx context.Context, userID string, fileIDs, ids []string) ([]*entity.FileItem, error)

	// MatchFilePages 返回 top-N chunk 命中以及命中 chunk 的来源整页条目（分数 -1）
	MatchFilePages(ctx context.Context, params MatchParams) ([]*entity.MatchedFileItem, error)
}
