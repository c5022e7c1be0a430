package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"

	"rag-retrieval-api/internal/domain/entity"
	"rag-retrieval-api/internal/domain/repository"
)

const fileItemBatchSize = 200

// 允许参与相似度检索的向量列
var embeddingColumns = map[string]struct{}{
	"openai_embedding": {},
	"local_embedding":  {},
}

// FileItemRepository 文件条目仓储实现
type FileItemRepository struct {
	client *Client
}

var _ repository.FileItemRepository = (*FileItemRepository)(nil)

// NewFileItemRepository 创建文件条目仓储
func NewFileItemRepository(client *Client) *FileItemRepository {
	return &FileItemRepository{client: client}
}

// ReplaceByFile 删除旧条目后批量写入
func (r *FileItemRepository) ReplaceByFile(ctx context.Context, fileID string, items []*entity.FileItem) error {
	ctx, span := tracer.Start(ctx, "postgres.FileItemRepository.ReplaceByFile")
	span.SetAttributes(attribute.String("file.id", fileID), attribute.Int("file_items.count", len(items)))
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("file_id = ?", fileID).Delete(&entity.FileItem{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete file items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	if err := db.CreateInBatches(items, fileItemBatchSize).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create file items: %w", err)
	}
	return nil
}

// DeleteByFile 删除文件全部条目
func (r *FileItemRepository) DeleteByFile(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "postgres.FileItemRepository.DeleteByFile")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("file_id = ?", fileID).Delete(&entity.FileItem{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete file items: %w", err)
	}
	return nil
}

// ListPages 按页序获取整页条目
func (r *FileItemRepository) ListPages(ctx context.Context, fileID string) ([]*entity.FileItem, error) {
	ctx, span := tracer.Start(ctx, "postgres.FileItemRepository.ListPages")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var pages []*entity.FileItem
	err := db.Omit("openai_embedding", "local_embedding").
		Where("file_id = ? AND kind = ?", fileID, entity.FileItemKindPage).
		Order("seq ASC").
		Find(&pages).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return pages, nil
}

// ListPagesByIDs 按 ID 获取整页条目；fileIDs 为空时只按用户限定
func (r *FileItemRepository) ListPagesByIDs(ctx context.Context, userID string, fileIDs, ids []string) ([]*entity.FileItem, error) {
	ctx, span := tracer.Start(ctx, "postgres.FileItemRepository.ListPagesByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}
	db := getDB(ctx, r.client.db).
		Omit("openai_embedding", "local_embedding").
		Where("id IN ? AND kind = ? AND user_id = ?", ids, entity.FileItemKindPage, userID)
	if len(fileIDs) > 0 {
		db = db.Where("file_id IN ?", fileIDs)
	}
	var pages []*entity.FileItem
	if err := db.Order("file_id, seq").Find(&pages).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list pages by ids: %w", err)
	}
	return pages, nil
}

// MatchFilePages 按余弦距离取 top-N chunk，并附上命中 chunk 的来源页（分数 -1）
func (r *FileItemRepository) MatchFilePages(ctx context.Context, params repository.MatchParams) ([]*entity.MatchedFileItem, error) {
	ctx, span := tracer.Start(ctx, "postgres.FileItemRepository.MatchFilePages")
	span.SetAttributes(
		attribute.String("match.column", params.Column),
		attribute.Int("match.count", params.MatchCount),
		attribute.Int("match.files", len(params.FileIDs)),
	)
	defer span.End()

	if _, ok := embeddingColumns[params.Column]; !ok {
		return nil, fmt.Errorf("unknown embedding column %q", params.Column)
	}
	if len(params.FileIDs) == 0 || params.MatchCount <= 0 {
		return []*entity.MatchedFileItem{}, nil
	}

	col := params.Column
	query := fmt.Sprintf(`
WITH matched AS (
	SELECT id, file_id, source, content, 1 - (%[1]s <=> @embedding) AS similarity
	FROM file_items
	WHERE kind = @chunk AND user_id = @user AND file_id IN @files AND %[1]s IS NOT NULL
	ORDER BY %[1]s <=> @embedding
	LIMIT @limit
)
SELECT id::text AS id, file_id::text AS file_id, COALESCE(source::text, '') AS source, content, similarity
FROM matched
UNION ALL
SELECT p.id::text, p.file_id::text, '', p.content, -1
FROM file_items p
WHERE p.kind = @page AND p.user_id = @user AND p.id IN (SELECT source FROM matched)`, col)

	db := getDB(ctx, r.client.db)
	var rows []*entity.MatchedFileItem
	err := db.Raw(query, map[string]any{
		"embedding": pgvector.NewVector(params.Embedding),
		"chunk":     entity.FileItemKindChunk,
		"page":      entity.FileItemKindPage,
		"user":      params.UserID,
		"files":     params.FileIDs,
		"limit":     params.MatchCount,
	}).Scan(&rows).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to match file pages: %w", err)
	}
	return rows, nil
}
