// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rag-retrieval-api/internal/domain/entity"
	"rag-retrieval-api/internal/domain/repository"
)

// FileRepository 文件仓储实现
type FileRepository struct {
	client *Client
}

var _ repository.FileRepository = (*FileRepository)(nil)

// NewFileRepository 创建文件仓储
func NewFileRepository(client *Client) *FileRepository {
	return &FileRepository{client: client}
}

// Upsert 创建或更新文件
func (r *FileRepository) Upsert(ctx context.Context, file *entity.File) error {
	ctx, span := tracer.Start(ctx, "postgres.FileRepository.Upsert")
	defer span.End()

	db := getDB(ctx, r.client.db)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "type", "size", "tokens", "provider", "deterministic_id", "updated_at"}),
	}).Create(file).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取文件
func (r *FileRepository) GetByID(ctx context.Context, id string) (*entity.File, error) {
	ctx, span := tracer.Start(ctx, "postgres.FileRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var file entity.File
	if err := db.First(&file, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &file, nil
}

// Delete 删除文件
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.FileRepository.Delete")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Delete(&entity.File{}, "id = ?", id).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
