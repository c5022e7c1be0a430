package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/internal/application/retrieval/ranking"
	"rag-retrieval-api/pkg/logger"
	"rag-retrieval-api/pkg/metrics"
	"rag-retrieval-api/pkg/tracer"
)

// snapshotData 快照的 JSON 结构
type snapshotData struct {
	EmbeddingDict    map[string][]float32      `json:"embeddingDict"`
	TextIDToRefDocID map[string]string         `json:"textIdToRefDocId"`
	MetadataDict     map[string]map[string]any `json:"metadataDict"`
}

func newSnapshotData() snapshotData {
	return snapshotData{
		EmbeddingDict:    map[string][]float32{},
		TextIDToRefDocID: map[string]string{},
		MetadataDict:     map[string]map[string]any{},
	}
}

// SnapshotStore 进程内向量库；每次变更后把完整状态写回快照
type SnapshotStore struct {
	name    string
	storage SnapshotStorage

	mu   sync.RWMutex
	data snapshotData
}

var _ retrieval.VectorStore = (*SnapshotStore)(nil)

// Open 从快照恢复向量库。快照不存在或损坏时记录告警并以空库启动。
func Open(ctx context.Context, name string, storage SnapshotStorage) (*SnapshotStore, error) {
	if storage == nil {
		return nil, fmt.Errorf("snapshot storage is required")
	}
	s := &SnapshotStore{name: name, storage: storage, data: newSnapshotData()}

	raw, err := storage.Load(ctx)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		logger.Info(ctx, "vector store snapshot not found, starting empty", "store", name, "location", storage.String())
	case err != nil:
		return nil, retrieval.Persist("load snapshot", err)
	default:
		var loaded snapshotData
		if err := json.Unmarshal(raw, &loaded); err != nil {
			logger.Warn(ctx, "vector store snapshot is corrupt, starting empty",
				"store", name,
				"location", storage.String(),
				"error", err.Error(),
			)
			break
		}
		if loaded.EmbeddingDict != nil {
			s.data.EmbeddingDict = loaded.EmbeddingDict
		}
		if loaded.TextIDToRefDocID != nil {
			s.data.TextIDToRefDocID = loaded.TextIDToRefDocID
		}
		if loaded.MetadataDict != nil {
			s.data.MetadataDict = loaded.MetadataDict
		}
		logger.Info(ctx, "vector store snapshot loaded", "store", name, "entries", len(s.data.EmbeddingDict))
	}
	s.reportSize()
	return s, nil
}

func (s *SnapshotStore) Get(_ context.Context, id string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data.EmbeddingDict[id]
	if !ok {
		return nil, retrieval.ErrNotFound
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

// Add 按 id 覆盖写入；条目无来源时不建立反向映射，元数据照常保存
func (s *SnapshotStore) Add(ctx context.Context, entries []retrieval.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.ID == "" {
			return retrieval.Invalid("vector entry id is required")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.data.EmbeddingDict[e.ID] = e.Embedding
		if e.SourceDocumentID != "" {
			s.data.TextIDToRefDocID[e.ID] = e.SourceDocumentID
		} else {
			delete(s.data.TextIDToRefDocID, e.ID)
		}
		if e.Metadata != nil {
			s.data.MetadataDict[e.ID] = e.Metadata
		} else {
			delete(s.data.MetadataDict, e.ID)
		}
	}
	return s.persistLocked(ctx)
}

// Entries 返回引用该来源文档的条目副本
func (s *SnapshotStore) Entries(_ context.Context, sourceDocumentID string) ([]retrieval.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []retrieval.Entry
	for id, ref := range s.data.TextIDToRefDocID {
		if ref != sourceDocumentID {
			continue
		}
		vec := make([]float32, len(s.data.EmbeddingDict[id]))
		copy(vec, s.data.EmbeddingDict[id])
		out = append(out, retrieval.Entry{
			ID:               id,
			Embedding:        vec,
			SourceDocumentID: ref,
			Metadata:         s.data.MetadataDict[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete 删除引用该来源文档的全部条目
func (s *SnapshotStore) Delete(ctx context.Context, sourceDocumentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ref := range s.data.TextIDToRefDocID {
		if ref != sourceDocumentID {
			continue
		}
		delete(s.data.EmbeddingDict, id)
		delete(s.data.TextIDToRefDocID, id)
		delete(s.data.MetadataDict, id)
		removed++
	}
	if removed == 0 {
		return nil
	}
	return s.persistLocked(ctx)
}

// Query 候选先按 DocIDs 收窄、再按元数据过滤，最后按模式排序
func (s *SnapshotStore) Query(ctx context.Context, q retrieval.Query) ([]retrieval.Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.VectorQueryDuration.WithLabelValues("snapshot", q.Mode.String()).Observe(time.Since(start).Seconds())
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	if len(q.DocIDs) > 0 {
		seen := make(map[string]struct{}, len(q.DocIDs))
		for _, id := range q.DocIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if _, ok := s.data.EmbeddingDict[id]; ok {
				ids = append(ids, id)
			}
		}
	} else {
		ids = make([]string, 0, len(s.data.EmbeddingDict))
		for id := range s.data.EmbeddingDict {
			ids = append(ids, id)
		}
	}

	cands := make([]ranking.Candidate, 0, len(ids))
	for _, id := range ids {
		if len(q.Filters) > 0 && !retrieval.MatchAll(q.Filters, s.data.MetadataDict[id]) {
			continue
		}
		cands = append(cands, ranking.Candidate{ID: id, Vector: s.data.EmbeddingDict[id]})
	}

	scored, err := Rank(q, cands)
	if err != nil {
		return nil, err
	}

	hits := make([]retrieval.Hit, 0, len(scored))
	for _, sc := range scored {
		hits = append(hits, retrieval.Hit{
			ID:               sc.ID,
			Score:            sc.Score,
			SourceDocumentID: s.data.TextIDToRefDocID[sc.ID],
			Metadata:         s.data.MetadataDict[sc.ID],
		})
	}
	return hits, nil
}

func (s *SnapshotStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.EmbeddingDict), nil
}

// Rank 按查询模式对候选排序
func Rank(q retrieval.Query, cands []ranking.Candidate) ([]ranking.Scored, error) {
	switch q.Mode.Kind {
	case retrieval.ModeDefault:
		return ranking.TopK(q.Vector, cands, q.TopK), nil
	case retrieval.ModeMMR:
		return ranking.MMR(q.Vector, cands, q.TopK, q.Mode.Lambda), nil
	case retrieval.ModeLearner:
		switch q.Mode.Learner {
		case retrieval.LearnerLinear:
			return ranking.Linear(q.Vector, cands, q.TopK)
		case retrieval.LearnerSVM:
			return ranking.SVM(q.Vector, cands, q.TopK)
		}
	}
	return nil, retrieval.Invalid("unknown query mode %s", q.Mode)
}

// persistLocked 调用方须持有写锁
func (s *SnapshotStore) persistLocked(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "vectorstore.persist")
	span.SetAttributes(
		attribute.String("vectorstore.name", s.name),
		attribute.String("vectorstore.storage", s.storage.Kind()),
	)
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
		}
		metrics.SnapshotPersistDuration.WithLabelValues(s.storage.Kind(), status).Observe(time.Since(start).Seconds())
		span.End()
		s.reportSize()
	}()

	raw, err := json.Marshal(&s.data)
	if err != nil {
		return retrieval.Persist("encode snapshot", err)
	}
	if err := s.storage.Save(ctx, raw); err != nil {
		logger.Error(ctx, "failed to persist vector store snapshot", err, "store", s.name, "location", s.storage.String())
		return retrieval.Persist("write snapshot", err)
	}
	return nil
}

func (s *SnapshotStore) reportSize() {
	metrics.VectorStoreEntries.WithLabelValues("snapshot_" + s.name).Set(float64(len(s.data.EmbeddingDict)))
}
