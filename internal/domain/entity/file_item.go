package entity

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// FileItemKind 文件条目类型
type FileItemKind string

const (
	FileItemKindChunk FileItemKind = "chunk"
	FileItemKindPage  FileItemKind = "page"
)

const (
	OpenAIEmbeddingDimension = 1536
	LocalEmbeddingDimension  = 384
)

// FileItem 文件条目：chunk（带向量）或整页（无向量）
type FileItem struct {
	ID     string       `json:"id" gorm:"type:uuid;primaryKey"`
	FileID string       `json:"file_id" gorm:"type:uuid;index;not null"`
	UserID string       `json:"user_id" gorm:"type:varchar(64);index;not null"`
	Kind   FileItemKind `json:"kind" gorm:"type:varchar(16);index;not null"`
	// Seq 文件内的顺序号（页序或链序）
	Seq int `json:"seq" gorm:"not null;default:0"`
	// Source chunk 所属页 ID；页条目为空
	Source *string `json:"source,omitempty" gorm:"type:uuid;index"`
	// Next 链上下一个 chunk 的 ID
	Next     *string        `json:"next,omitempty" gorm:"type:uuid"`
	Content  string         `json:"content" gorm:"type:text;not null"`
	Tokens   int            `json:"tokens" gorm:"not null;default:0"`
	Metadata map[string]any `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`

	OpenAIEmbedding *pgvector.Vector `json:"-" gorm:"type:vector(1536)"`
	LocalEmbedding  *pgvector.Vector `json:"-" gorm:"type:vector(384)"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (FileItem) TableName() string {
	return "file_items"
}

// MatchedFileItem 相似度检索返回的行；整页条目的 Similarity 为 -1
type MatchedFileItem struct {
	ID         string  `json:"id" gorm:"column:id"`
	FileID     string  `json:"file_id" gorm:"column:file_id"`
	Source     string  `json:"source" gorm:"column:source"`
	Content    string  `json:"content" gorm:"column:content"`
	Similarity float64 `json:"similarity" gorm:"column:similarity"`
}
