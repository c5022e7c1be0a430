package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rag-retrieval-api/internal/domain/repository"
	"rag-retrieval-api/pkg/logger"
	"rag-retrieval-api/pkg/metrics"
)

// 相似度检索路径
const (
	BackendStore    = "store"
	BackendPGVector = "pgvector"
)

// EngineOptions 检索策略参数。
type EngineOptions struct {
	Backend            string
	CutoffRatio        float64
	DefaultSourceCount int
	MaxSourceCount     int
	DefaultMode        Mode
	QueryCacheTTL      time.Duration
}

// Engine 负责读路径：查询向量化、相似度检索、汇总到页。
type Engine struct {
	embedder *Generator
	stores   VectorStores
	items    repository.FileItemRepository
	cache    QueryCache
	opts     EngineOptions
}

func NewEngine(embedder *Generator, stores VectorStores, items repository.FileItemRepository, cache QueryCache, opts EngineOptions) *Engine {
	if opts.CutoffRatio <= 0 || opts.CutoffRatio > 1 {
		opts.CutoffRatio = DefaultCutoffRatio
	}
	if opts.DefaultSourceCount <= 0 {
		opts.DefaultSourceCount = 4
	}
	if opts.MaxSourceCount <= 0 {
		opts.MaxSourceCount = 50
	}
	if opts.Backend == "" {
		opts.Backend = BackendStore
	}
	return &Engine{
		embedder: embedder,
		stores:   stores,
		items:    items,
		cache:    cache,
		opts:     opts,
	}
}

// Retrieve 检索与问题最相关的页。
func (e *Engine) Retrieve(ctx context.Context, in RetrieveInput) (*RetrieveOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, Invalid("user_input is required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, Invalid("user_id is required")
	}
	fileIDs := uniqueStrings(in.FileIDs)

	mode := e.opts.DefaultMode
	if in.Mode != nil {
		mode = *in.Mode
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if e.opts.Backend == BackendPGVector && mode.Kind != ModeDefault {
		return nil, Invalid("query mode %q requires the vector store backend", mode)
	}

	if err := e.embedder.CheckCredential(ctx, in.Provider); err != nil {
		return nil, err
	}
	if len(fileIDs) == 0 {
		return &RetrieveOutput{Results: []RetrievedPage{}}, nil
	}

	topK := e.sourceCount(in.SourceCount)
	vector, err := e.embedQuery(ctx, in.Provider, query)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var matched []MatchedItem
	switch e.opts.Backend {
	case BackendPGVector:
		matched, err = e.matchPGVector(ctx, in.UserID, fileIDs, in.Provider, vector, topK)
	default:
		matched, err = e.matchStore(ctx, in.UserID, fileIDs, in.Provider, vector, topK, mode)
	}
	metrics.VectorQueryDuration.WithLabelValues(e.opts.Backend, mode.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	result := Consolidate(matched, e.opts.CutoffRatio)
	metrics.RetrievalPages.Observe(float64(len(result.Pages)))
	logger.Debug(ctx, "retrieval consolidated",
		"candidates", len(matched),
		"pages", len(result.Pages),
		"best", result.Best,
		"cutoff", result.Cutoff,
	)
	return &RetrieveOutput{Results: result.Pages}, nil
}

// Debug 直接查询向量库，返回原始命中与汇总结果。
func (e *Engine) Debug(ctx context.Context, in DebugInput) (*DebugOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, Invalid("user_input is required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, Invalid("user_id is required")
	}
	store, err := e.stores.For(in.Provider)
	if err != nil {
		return nil, err
	}
	if err := e.embedder.CheckCredential(ctx, in.Provider); err != nil {
		return nil, err
	}

	embedStart := time.Now()
	vector, err := e.embedQuery(ctx, in.Provider, query)
	if err != nil {
		return nil, err
	}
	embedMs := time.Since(embedStart).Milliseconds()

	filters := append([]Filter{ExactMatch(MetaUserID, in.UserID)}, in.Filters...)
	q := Query{
		Vector:  vector,
		TopK:    e.sourceCount(in.TopK),
		Mode:    in.Mode,
		Filters: filters,
		DocIDs:  in.DocIDs,
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	queryStart := time.Now()
	hits, err := store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	queryMs := time.Since(queryStart).Milliseconds()

	matched, err := e.attachPages(ctx, in.UserID, nil, hits)
	if err != nil {
		return nil, err
	}
	result := Consolidate(matched, e.opts.CutoffRatio)

	return &DebugOutput{
		Hits:    hits,
		Results: result.Pages,
		Debug: DebugInfo{
			EmbedTimeMs: embedMs,
			QueryTimeMs: queryMs,
			RawHits:     len(hits),
			BestScore:   result.Best,
			CutoffScore: result.Cutoff,
			Mode:        in.Mode.String(),
		},
	}, nil
}

func (e *Engine) sourceCount(n int) int {
	if n <= 0 {
		n = e.opts.DefaultSourceCount
	}
	if n > e.opts.MaxSourceCount {
		n = e.opts.MaxSourceCount
	}
	return n
}

func (e *Engine) embedQuery(ctx context.Context, provider Provider, query string) ([]float32, error) {
	load := func(ctx context.Context) ([]float32, error) {
		return e.embedder.EmbedQuery(ctx, provider, query)
	}
	if e.cache == nil || e.opts.QueryCacheTTL <= 0 {
		return load(ctx)
	}
	key := fmt.Sprintf("rag:qemb:%s:%s", provider, Fingerprint([]string{query}))
	return e.cache.GetOrLoad(ctx, key, e.opts.QueryCacheTTL, load)
}

func (e *Engine) matchStore(ctx context.Context, userID string, fileIDs []string, provider Provider, vector []float32, topK int, mode Mode) ([]MatchedItem, error) {
	store, err := e.stores.For(provider)
	if err != nil {
		return nil, err
	}
	hits, err := store.Query(ctx, Query{
		Vector: vector,
		TopK:   topK,
		Mode:   mode,
		Filters: []Filter{
			InStrings(MetaFileID, fileIDs),
			ExactMatch(MetaUserID, userID),
		},
	})
	if err != nil {
		return nil, err
	}
	return e.attachPages(ctx, userID, fileIDs, hits)
}

// attachPages 把 chunk 命中与其来源页拼成 MatchedItem 列表，页行分数为 -1。
func (e *Engine) attachPages(ctx context.Context, userID string, fileIDs []string, hits []Hit) ([]MatchedItem, error) {
	items := make([]MatchedItem, 0, len(hits)*2)
	pageIDs := make([]string, 0, len(hits))
	seenFiles := make(map[string]struct{})
	for _, h := range hits {
		source, _ := h.Metadata[MetaSource].(string)
		fileID, _ := h.Metadata[MetaFileID].(string)
		if source == "" {
			continue
		}
		items = append(items, MatchedItem{
			ID:         h.ID,
			FileID:     fileID,
			Source:     source,
			Similarity: h.Score,
		})
		pageIDs = append(pageIDs, source)
		if fileIDs == nil && fileID != "" {
			seenFiles[fileID] = struct{}{}
		}
	}
	if len(pageIDs) == 0 {
		return items, nil
	}
	if fileIDs == nil {
		for id := range seenFiles {
			fileIDs = append(fileIDs, id)
		}
	}

	pages, err := e.items.ListPagesByIDs(ctx, userID, fileIDs, uniqueStrings(pageIDs))
	if err != nil {
		return nil, Persist("list pages", err)
	}
	for _, p := range pages {
		items = append(items, MatchedItem{
			ID:         p.ID,
			FileID:     p.FileID,
			Content:    p.Content,
			Similarity: PageSentinelSimilarity,
		})
	}
	return items, nil
}

func (e *Engine) matchPGVector(ctx context.Context, userID string, fileIDs []string, provider Provider, vector []float32, topK int) ([]MatchedItem, error) {
	column, err := embeddingColumn(provider)
	if err != nil {
		return nil, err
	}
	rows, err := e.items.MatchFilePages(ctx, repository.MatchParams{
		Column:     column,
		Embedding:  vector,
		MatchCount: topK,
		FileIDs:    fileIDs,
		UserID:     userID,
	})
	if err != nil {
		return nil, Persist("match file pages", err)
	}
	items := make([]MatchedItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, MatchedItem{
			ID:         r.ID,
			FileID:     r.FileID,
			Source:     r.Source,
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return items, nil
}

func embeddingColumn(p Provider) (string, error) {
	switch p {
	case ProviderOpenAI:
		return "openai_embedding", nil
	case ProviderLocal:
		return "local_embedding", nil
	default:
		return "", Unsupported("embeddings provider %q", p)
	}
}

func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
