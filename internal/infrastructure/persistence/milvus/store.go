package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/internal/application/retrieval/ranking"
	"rag-retrieval-api/internal/infrastructure/vectorstore"
	"rag-retrieval-api/pkg/metrics"
)

const (
	defaultRerankPool = 200
	defaultSearchEf   = 128
)

// Store 基于 Milvus 集合的向量库，实现 retrieval.VectorStore。
// default 模式直接使用 HNSW 检索；MMR 与 learner 模式先召回候选池再在进程内重排。
type Store struct {
	client     *Client
	provider   retrieval.Provider
	collection string
	dim        int
}

var _ retrieval.VectorStore = (*Store)(nil)

// NewStore 创建 provider 对应的向量库
func NewStore(client *Client, provider retrieval.Provider, dim int) *Store {
	return &Store{
		client:     client,
		provider:   provider,
		collection: client.CollectionName(ChunkCollection(provider)),
		dim:        dim,
	}
}

// EnsureCollection 确保集合与索引可用（不存在则创建），不做破坏性操作
func (s *Store) EnsureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.EnsureCollection",
		trace.WithAttributes(attribute.String("collection", s.collection)))
	defer span.End()

	exists, err := s.client.milvus.HasCollection(ctx, s.collection)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		schema := FileChunksSchema(s.collection, s.dim)
		if err := s.client.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber,
			client.WithConsistencyLevel(entity.ClStrong)); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create collection: %w", err)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, s.client.config.HNSWM, s.client.config.HNSWEfConstruction)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := s.client.milvus.CreateIndex(ctx, s.collection, fieldVector, idx, false); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return s.client.milvus.LoadCollection(ctx, s.collection, false)
}

func (s *Store) Get(ctx context.Context, id string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "milvus.Store.Get",
		trace.WithAttributes(attribute.String("collection", s.collection)))
	defer span.End()

	rs, err := s.client.milvus.Query(ctx, s.collection, nil, fieldID+" == "+strconv.Quote(id), []string{fieldVector})
	if err != nil {
		span.RecordError(err)
		return nil, retrieval.Persist("milvus get", err)
	}
	col, ok := rs.GetColumn(fieldVector).(*entity.ColumnFloatVector)
	if !ok || len(col.Data()) == 0 {
		return nil, retrieval.ErrNotFound
	}
	return col.Data()[0], nil
}

// Add 以 upsert 写入，同 id 覆盖
func (s *Store) Add(ctx context.Context, entries []retrieval.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "milvus.Store.Add",
		trace.WithAttributes(
			attribute.String("collection", s.collection),
			attribute.Int("count", len(entries)),
		))
	defer span.End()

	ids := make([]string, len(entries))
	vectors := make([][]float32, len(entries))
	sources := make([]string, len(entries))
	metas := make([][]byte, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return retrieval.Invalid("vector entry id is required")
		}
		if len(e.Embedding) != s.dim {
			return retrieval.Invalid("embedding dimension %d, collection expects %d", len(e.Embedding), s.dim)
		}
		meta := e.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return retrieval.Invalid("metadata of %s is not serializable: %v", e.ID, err)
		}
		ids[i] = e.ID
		vectors[i] = e.Embedding
		sources[i] = e.SourceDocumentID
		metas[i] = raw
	}

	_, err := s.client.milvus.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldVector, s.dim, vectors),
		entity.NewColumnVarChar(fieldSourceID, sources),
		entity.NewColumnJSONBytes(fieldMetadata, metas),
	)
	if err != nil {
		span.RecordError(err)
		return retrieval.Persist("milvus upsert", err)
	}
	return nil
}

// Entries 按来源文档查询条目（含向量），用于写入失败时恢复
func (s *Store) Entries(ctx context.Context, sourceDocumentID string) ([]retrieval.Entry, error) {
	if sourceDocumentID == "" {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "milvus.Store.Entries",
		trace.WithAttributes(attribute.String("collection", s.collection)))
	defer span.End()

	expr := fieldSourceID + " == " + strconv.Quote(sourceDocumentID)
	rs, err := s.client.milvus.Query(ctx, s.collection, nil, expr, []string{fieldID, fieldVector, fieldMetadata})
	if err != nil {
		span.RecordError(err)
		return nil, retrieval.Persist("milvus query entries", err)
	}
	entries := parseEntries(rs, sourceDocumentID)
	span.SetAttributes(attribute.Int("count", len(entries)))
	return entries, nil
}

func (s *Store) Delete(ctx context.Context, sourceDocumentID string) error {
	if sourceDocumentID == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "milvus.Store.Delete",
		trace.WithAttributes(attribute.String("collection", s.collection)))
	defer span.End()

	expr := fieldSourceID + " == " + strconv.Quote(sourceDocumentID)
	if err := s.client.milvus.Delete(ctx, s.collection, "", expr); err != nil {
		span.RecordError(err)
		return retrieval.Persist("milvus delete", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q retrieval.Query) ([]retrieval.Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "milvus.Store.Query",
		trace.WithAttributes(
			attribute.String("collection", s.collection),
			attribute.String("mode", q.Mode.String()),
			attribute.Int("top_k", q.TopK),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.VectorQueryDuration.WithLabelValues("milvus", q.Mode.String()).Observe(time.Since(start).Seconds())
	}()

	expr, residual, empty := buildExpr(q)
	if empty {
		return []retrieval.Hit{}, nil
	}

	rerank := q.Mode.Kind != retrieval.ModeDefault
	limit := searchLimit(q, residual, s.client.config.RerankPoolSize)
	outputs := []string{fieldSourceID, fieldMetadata}
	if rerank {
		outputs = append(outputs, fieldVector)
	}
	ef := s.client.config.SearchEf
	if ef <= 0 {
		ef = defaultSearchEf
	}
	if ef < limit {
		ef = limit
	}
	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := s.client.milvus.Search(ctx, s.collection, nil, expr, outputs,
		[]entity.Vector{entity.FloatVector(q.Vector)}, fieldVector, entity.COSINE, limit, sp)
	if err != nil {
		span.RecordError(err)
		return nil, retrieval.Persist("milvus search", err)
	}

	rows := parseResults(results)
	// 表达式未覆盖的谓词在这里补齐
	filtered := rows[:0]
	for _, r := range rows {
		if retrieval.MatchAll(q.Filters, r.hit.Metadata) {
			filtered = append(filtered, r)
		}
	}
	rows = filtered

	if !rerank {
		hits := make([]retrieval.Hit, 0, len(rows))
		for _, r := range rows {
			hits = append(hits, r.hit)
			if len(hits) == q.TopK {
				break
			}
		}
		span.SetAttributes(attribute.Int("result_count", len(hits)))
		return hits, nil
	}

	byID := make(map[string]retrieval.Hit, len(rows))
	cands := make([]ranking.Candidate, 0, len(rows))
	for _, r := range rows {
		byID[r.hit.ID] = r.hit
		cands = append(cands, ranking.Candidate{ID: r.hit.ID, Vector: r.vector})
	}
	scored, err := vectorstore.Rank(q, cands)
	if err != nil {
		return nil, err
	}
	hits := make([]retrieval.Hit, 0, len(scored))
	for _, sc := range scored {
		h := byID[sc.ID]
		h.Score = sc.Score
		hits = append(hits, h)
	}
	span.SetAttributes(attribute.Int("result_count", len(hits)))
	return hits, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "milvus.Store.Count",
		trace.WithAttributes(attribute.String("collection", s.collection)))
	defer span.End()

	rs, err := s.client.milvus.Query(ctx, s.collection, nil, "", []string{"count(*)"})
	if err != nil {
		span.RecordError(err)
		return 0, retrieval.Persist("milvus count", err)
	}
	col, ok := rs.GetColumn("count(*)").(*entity.ColumnInt64)
	if !ok || len(col.Data()) == 0 {
		return 0, nil
	}
	n := int(col.Data()[0])
	metrics.VectorStoreEntries.WithLabelValues("milvus_" + string(s.provider)).Set(float64(n))
	return n, nil
}

type searchRow struct {
	hit    retrieval.Hit
	vector []float32
}

func parseResults(results []client.SearchResult) []searchRow {
	var rows []searchRow
	for _, result := range results {
		if result.Err != nil {
			continue
		}
		ids, _ := result.IDs.(*entity.ColumnVarChar)
		sources, _ := result.Fields.GetColumn(fieldSourceID).(*entity.ColumnVarChar)
		metas, _ := result.Fields.GetColumn(fieldMetadata).(*entity.ColumnJSONBytes)
		vectors, _ := result.Fields.GetColumn(fieldVector).(*entity.ColumnFloatVector)

		for i := 0; i < result.ResultCount; i++ {
			var row searchRow
			if ids != nil && i < len(ids.Data()) {
				row.hit.ID = ids.Data()[i]
			}
			if i < len(result.Scores) {
				row.hit.Score = float64(result.Scores[i])
			}
			if sources != nil && i < len(sources.Data()) {
				row.hit.SourceDocumentID = sources.Data()[i]
			}
			if metas != nil && i < len(metas.Data()) {
				var meta map[string]any
				if err := json.Unmarshal(metas.Data()[i], &meta); err == nil {
					row.hit.Metadata = meta
				}
			}
			if vectors != nil && i < len(vectors.Data()) {
				row.vector = vectors.Data()[i]
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func parseEntries(rs client.ResultSet, sourceDocumentID string) []retrieval.Entry {
	ids, _ := rs.GetColumn(fieldID).(*entity.ColumnVarChar)
	if ids == nil {
		return nil
	}
	vectors, _ := rs.GetColumn(fieldVector).(*entity.ColumnFloatVector)
	metas, _ := rs.GetColumn(fieldMetadata).(*entity.ColumnJSONBytes)

	entries := make([]retrieval.Entry, 0, len(ids.Data()))
	for i, id := range ids.Data() {
		e := retrieval.Entry{ID: id, SourceDocumentID: sourceDocumentID}
		if vectors != nil && i < len(vectors.Data()) {
			e.Embedding = vectors.Data()[i]
		}
		if metas != nil && i < len(metas.Data()) {
			var meta map[string]any
			if err := json.Unmarshal(metas.Data()[i], &meta); err == nil {
				e.Metadata = meta
			}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
