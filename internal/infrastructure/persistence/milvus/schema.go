package milvus

import (
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"rag-retrieval-api/internal/application/retrieval"
)

const (
	fieldID       = "id"
	fieldVector   = "vector"
	fieldSourceID = "source_id"
	fieldMetadata = "metadata"

	idMaxLength = 64
)

// ChunkCollection 每个 provider 一个 chunk 集合
func ChunkCollection(provider retrieval.Provider) string {
	return "file_chunks_" + string(provider)
}

// FileChunksSchema chunk 集合 Schema；metadata 为 JSON 字段，过滤表达式按 JSON 路径访问
func FileChunksSchema(collection string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: collection,
		Description:    "File chunk embeddings for retrieval",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(idMaxLength),
				},
			},
			{
				Name:     fieldVector,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(dim),
				},
			},
			{
				Name:     fieldSourceID,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(idMaxLength),
				},
			},
			{
				Name:     fieldMetadata,
				DataType: entity.FieldTypeJSON,
			},
		},
	}
}
