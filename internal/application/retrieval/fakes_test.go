package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"rag-retrieval-api/internal/application/retrieval/ranking"
	"rag-retrieval-api/internal/domain/entity"
	"rag-retrieval-api/internal/domain/repository"
)

// keywordEmbedder 按关键字出现次数生成向量，便于构造可预期的相似度。
type keywordEmbedder struct {
	provider   Provider
	keywords   []string
	credErr    error
	embedErr   error
	calls      int
	lastBatch  []string
	shortBatch bool
}

func newKeywordEmbedder(p Provider, keywords ...string) *keywordEmbedder {
	return &keywordEmbedder{provider: p, keywords: keywords}
}

func (e *keywordEmbedder) Provider() Provider { return e.provider }

func (e *keywordEmbedder) Dimension() int { return len(e.keywords) + 1 }

func (e *keywordEmbedder) CheckCredential(context.Context) error { return e.credErr }

func (e *keywordEmbedder) Embed(_ context.Context, texts []string, progress ProgressFunc) ([][]float32, error) {
	e.calls++
	e.lastBatch = texts
	if e.embedErr != nil {
		return nil, e.embedErr
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v := make([]float32, e.Dimension())
		lower := strings.ToLower(t)
		for i, kw := range e.keywords {
			v[i] = float32(strings.Count(lower, kw))
		}
		v[len(e.keywords)] = 0.01
		out = append(out, v)
	}
	if progress != nil {
		progress(len(texts), len(texts))
	}
	if e.shortBatch {
		out = out[:len(out)-1]
	}
	return out, nil
}

// memStore 进程内 VectorStore，仅用于测试。
type memStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	// addErr 下一次 Add 返回的错误，返回后清空
	addErr error
}

func newMemStore() *memStore { return &memStore{entries: map[string]Entry{}} }

func (s *memStore) Get(_ context.Context, id string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Embedding, nil
}

func (s *memStore) Add(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.addErr; err != nil {
		s.addErr = nil
		return err
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return nil
}

func (s *memStore) Entries(_ context.Context, src string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.SourceDocumentID == src {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Delete(_ context.Context, src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.SourceDocumentID == src {
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *memStore) Query(_ context.Context, q Query) ([]Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cands []ranking.Candidate
	for id, e := range s.entries {
		if MatchAll(q.Filters, e.Metadata) {
			cands = append(cands, ranking.Candidate{ID: id, Vector: e.Embedding})
		}
	}
	var scored []ranking.Scored
	switch q.Mode.Kind {
	case ModeMMR:
		scored = ranking.MMR(q.Vector, cands, q.TopK, q.Mode.Lambda)
	default:
		scored = ranking.TopK(q.Vector, cands, q.TopK)
	}
	hits := make([]Hit, 0, len(scored))
	for _, sc := range scored {
		e := s.entries[sc.ID]
		hits = append(hits, Hit{ID: sc.ID, Score: sc.Score, SourceDocumentID: e.SourceDocumentID, Metadata: e.Metadata})
	}
	return hits, nil
}

func (s *memStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

type fakeFiles struct {
	files     map[string]*entity.File
	upsertErr error
}

func newFakeFiles() *fakeFiles { return &fakeFiles{files: map[string]*entity.File{}} }

func (f *fakeFiles) Upsert(_ context.Context, file *entity.File) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	cp := *file
	f.files[file.ID] = &cp
	return nil
}

func (f *fakeFiles) GetByID(_ context.Context, id string) (*entity.File, error) {
	file, ok := f.files[id]
	if !ok {
		return nil, nil
	}
	cp := *file
	return &cp, nil
}

func (f *fakeFiles) Delete(_ context.Context, id string) error {
	delete(f.files, id)
	return nil
}

type fakeItems struct {
	items []*entity.FileItem
}

func (f *fakeItems) ReplaceByFile(ctx context.Context, fileID string, items []*entity.FileItem) error {
	_ = f.DeleteByFile(ctx, fileID)
	f.items = append(f.items, items...)
	return nil
}

func (f *fakeItems) DeleteByFile(_ context.Context, fileID string) error {
	kept := f.items[:0]
	for _, it := range f.items {
		if it.FileID != fileID {
			kept = append(kept, it)
		}
	}
	f.items = kept
	return nil
}

func (f *fakeItems) ListPages(_ context.Context, fileID string) ([]*entity.FileItem, error) {
	var out []*entity.FileItem
	for _, it := range f.items {
		if it.FileID == fileID && it.Kind == entity.FileItemKindPage {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (f *fakeItems) ListPagesByIDs(_ context.Context, userID string, fileIDs, ids []string) ([]*entity.FileItem, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	files := map[string]bool{}
	for _, id := range fileIDs {
		files[id] = true
	}
	var out []*entity.FileItem
	for _, it := range f.items {
		if it.Kind == entity.FileItemKindPage && it.UserID == userID && want[it.ID] && files[it.FileID] {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeItems) MatchFilePages(_ context.Context, p repository.MatchParams) ([]*entity.MatchedFileItem, error) {
	files := map[string]bool{}
	for _, id := range p.FileIDs {
		files[id] = true
	}
	var chunks, pages []*entity.MatchedFileItem
	for _, it := range f.items {
		if it.UserID != p.UserID || !files[it.FileID] {
			continue
		}
		if it.Kind == entity.FileItemKindPage {
			pages = append(pages, &entity.MatchedFileItem{ID: it.ID, FileID: it.FileID, Content: it.Content, Similarity: -1})
			continue
		}
		var vec []float32
		switch p.Column {
		case "openai_embedding":
			if it.OpenAIEmbedding != nil {
				vec = it.OpenAIEmbedding.Slice()
			}
		case "local_embedding":
			if it.LocalEmbedding != nil {
				vec = it.LocalEmbedding.Slice()
			}
		}
		if vec == nil {
			continue
		}
		chunks = append(chunks, &entity.MatchedFileItem{
			ID: it.ID, FileID: it.FileID, Source: *it.Source, Content: it.Content,
			Similarity: ranking.Cosine(p.Embedding, vec),
		})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Similarity > chunks[j].Similarity })
	if len(chunks) > p.MatchCount {
		chunks = chunks[:p.MatchCount]
	}
	return append(chunks, pages...), nil
}

// fakeTx 失败时把 files 与 items 回滚到事务开始前（二者非空时）。
type fakeTx struct {
	calls     int
	files     *fakeFiles
	items     *fakeItems
	commitErr error
}

func (t *fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	var savedItems []*entity.FileItem
	savedFiles := map[string]*entity.File{}
	if t.items != nil {
		savedItems = append(savedItems, t.items.items...)
	}
	if t.files != nil {
		for id, f := range t.files.files {
			savedFiles[id] = f
		}
	}

	err := fn(ctx)
	if err == nil {
		err = t.commitErr
	}
	if err != nil {
		if t.items != nil {
			t.items.items = savedItems
		}
		if t.files != nil {
			t.files.files = savedFiles
		}
	}
	return err
}

// textExtractor 以空行分页。
type textExtractor struct{}

func (textExtractor) Supports(format string) bool { return format == "txt" }

func (textExtractor) Extract(_ context.Context, format string, data []byte) ([]Page, error) {
	if format != "txt" {
		return nil, Unsupported("file type %q", format)
	}
	var pages []Page
	for _, part := range strings.Split(string(data), "\n\n") {
		if strings.TrimSpace(part) != "" {
			pages = append(pages, Page{Content: part})
		}
	}
	return pages, nil
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	return nil, ErrFileLocked
}

type countingCache struct {
	mu    sync.Mutex
	data  map[string][]float32
	loads int
}

func (c *countingCache) GetOrLoad(ctx context.Context, key string, _ time.Duration, loader func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]float32{}
	}
	if v, ok := c.data[key]; ok {
		return v, nil
	}
	v, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	c.loads++
	c.data[key] = v
	return v, nil
}

func idSeq(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%04d", prefix, n)
	}
}
