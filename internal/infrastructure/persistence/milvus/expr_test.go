package milvus

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-retrieval-api/internal/application/retrieval"
)

func TestBuildExpr(t *testing.T) {
	tests := []struct {
		name     string
		query    retrieval.Query
		want     string
		residual bool
		empty    bool
	}{
		{
			name:  "no predicates",
			query: retrieval.Query{},
			want:  "",
		},
		{
			name:  "doc ids deduped",
			query: retrieval.Query{DocIDs: []string{"a", "b", "a"}},
			want:  `id in ["a", "b"]`,
		},
		{
			name: "exact and in",
			query: retrieval.Query{Filters: []retrieval.Filter{
				retrieval.InStrings("file_id", []string{"f1", "f2"}),
				retrieval.ExactMatch("user_id", "u\"1"),
			}},
			want: `metadata["file_id"] in ["f1", "f2"] && metadata["user_id"] == "u\"1"`,
		},
		{
			name: "numbers and bools",
			query: retrieval.Query{Filters: []retrieval.Filter{
				retrieval.ExactMatch("page_index", 2),
				retrieval.ExactMatch("score", 0.5),
				retrieval.ExactMatch("draft", false),
			}},
			want: `metadata["page_index"] == 2 && metadata["score"] == 0.5 && metadata["draft"] == false`,
		},
		{
			name: "non literal value is left for post filtering",
			query: retrieval.Query{Filters: []retrieval.Filter{
				retrieval.ExactMatch("tags", []string{"x"}),
				retrieval.ExactMatch("user_id", "u1"),
			}},
			want:     `metadata["user_id"] == "u1"`,
			residual: true,
		},
		{
			name: "in array with a non literal value",
			query: retrieval.Query{Filters: []retrieval.Filter{
				retrieval.InArray("tags", "x", []string{"y"}),
			}},
			want:     "",
			residual: true,
		},
		{
			name: "empty in array matches nothing",
			query: retrieval.Query{Filters: []retrieval.Filter{
				retrieval.InStrings("file_id", nil),
			}},
			empty: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, residual, empty := buildExpr(tt.query)
			assert.Equal(t, tt.empty, empty)
			assert.Equal(t, tt.residual, residual)
			if !tt.empty {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSearchLimit(t *testing.T) {
	plain := retrieval.Query{TopK: 5, Mode: retrieval.DefaultMode()}
	mmr := retrieval.Query{TopK: 5, Mode: retrieval.MMRMode(0.5)}

	assert.Equal(t, 5, searchLimit(plain, false, 200))
	// 过滤器未下推时 TopK 之外的候选也要召回，否则过滤后不足 TopK
	assert.Equal(t, 200, searchLimit(plain, true, 200))
	assert.Equal(t, defaultRerankPool, searchLimit(plain, true, 0))
	assert.Equal(t, 200, searchLimit(mmr, false, 200))

	wide := retrieval.Query{TopK: 500, Mode: retrieval.DefaultMode()}
	assert.Equal(t, 500, searchLimit(wide, true, 200))
}

func TestParseEntries(t *testing.T) {
	rs := client.ResultSet{
		entity.NewColumnVarChar(fieldID, []string{"c2", "c1"}),
		entity.NewColumnFloatVector(fieldVector, 2, [][]float32{{0, 1}, {1, 0}}),
		entity.NewColumnJSONBytes(fieldMetadata, [][]byte{[]byte(`{"page_index":1}`), []byte(`{"page_index":0}`)}),
	}
	entries := parseEntries(rs, "f1")
	require.Len(t, entries, 2)
	assert.Equal(t, "c1", entries[0].ID)
	assert.Equal(t, []float32{1, 0}, entries[0].Embedding)
	assert.Equal(t, "f1", entries[0].SourceDocumentID)
	assert.Equal(t, float64(0), entries[0].Metadata["page_index"])
	assert.Equal(t, "c2", entries[1].ID)

	assert.Empty(t, parseEntries(client.ResultSet{}, "f1"))
}

func TestParseResults(t *testing.T) {
	results := []client.SearchResult{{
		ResultCount: 2,
		IDs:         entity.NewColumnVarChar("id", []string{"c1", "c2"}),
		Scores:      []float32{0.9, 0.5},
		Fields: client.ResultSet{
			entity.NewColumnVarChar(fieldSourceID, []string{"p1", ""}),
			entity.NewColumnJSONBytes(fieldMetadata, [][]byte{
				[]byte(`{"file_id":"f1","page_index":0}`),
				[]byte(`not json`),
			}),
			entity.NewColumnFloatVector(fieldVector, 2, [][]float32{{1, 0}, {0, 1}}),
		},
	}}

	rows := parseResults(results)
	require.Len(t, rows, 2)
	assert.Equal(t, "c1", rows[0].hit.ID)
	assert.InDelta(t, 0.9, rows[0].hit.Score, 1e-6)
	assert.Equal(t, "p1", rows[0].hit.SourceDocumentID)
	assert.Equal(t, "f1", rows[0].hit.Metadata["file_id"])
	assert.Equal(t, float64(0), rows[0].hit.Metadata["page_index"])
	assert.Equal(t, []float32{1, 0}, rows[0].vector)

	assert.Nil(t, rows[1].hit.Metadata)
	assert.Equal(t, []float32{0, 1}, rows[1].vector)
}

func TestChunkCollection(t *testing.T) {
	assert.Equal(t, "file_chunks_openai", ChunkCollection(retrieval.ProviderOpenAI))
	schema := FileChunksSchema("rag_file_chunks_local", 384)
	assert.Equal(t, "384", schema.Fields[1].TypeParams["dim"])
	assert.True(t, schema.Fields[0].PrimaryKey)
}
