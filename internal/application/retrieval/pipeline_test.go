package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-retrieval-api/internal/domain/entity"
)

const (
	testUser = "user-1"
	testFile = "7b0c5a52-2f0e-4f4e-9d4c-2a1b8c3d4e5f"
	docText  = "alpha alpha notes\n\nbeta section\n\ngamma appendix"
)

type pipeline struct {
	embedder *keywordEmbedder
	store    *memStore
	files    *fakeFiles
	items    *fakeItems
	tx       *fakeTx
	cache    *countingCache
	indexer  *Indexer
	engine   *Engine
}

func newPipeline(t *testing.T, backend string) *pipeline {
	t.Helper()
	p := &pipeline{
		embedder: newKeywordEmbedder(ProviderLocal, "alpha", "beta", "gamma"),
		store:    newMemStore(),
		files:    newFakeFiles(),
		items:    &fakeItems{},
		cache:    &countingCache{},
	}
	p.tx = &fakeTx{files: p.files, items: p.items}
	chunker, err := NewChunker(RuneTokenizer{}, 1000, 100, WithIDGenerator(idSeq("chunk")))
	require.NoError(t, err)
	gen := NewGenerator(p.embedder)
	stores := VectorStores{ProviderLocal: p.store}

	p.indexer = NewIndexer(textExtractor{}, chunker, gen, stores, p.files, p.items, p.tx, nil)
	p.engine = NewEngine(gen, stores, p.items, p.cache, EngineOptions{
		Backend:       backend,
		QueryCacheTTL: time.Minute,
	})
	return p
}

func (p *pipeline) process(t *testing.T) *ProcessOutput {
	t.Helper()
	out, err := p.indexer.Process(context.Background(), ProcessInput{
		UserID:   testUser,
		FileID:   testFile,
		FileName: "notes.txt",
		Data:     []byte(docText),
		Provider: ProviderLocal,
	})
	require.NoError(t, err)
	return out
}

func TestProcessIndexesDocument(t *testing.T) {
	p := newPipeline(t, BackendStore)
	ctx := context.Background()

	out := p.process(t)
	assert.Equal(t, 3, out.PageCount)
	assert.Equal(t, 3, out.ChunkCount)
	assert.Equal(t, Fingerprint(strings.Split(docText, "\n\n")), out.DeterministicFileID)
	assert.Equal(t, len([]rune(strings.ReplaceAll(docText, "\n\n", ""))), out.TotalTokens)

	n, err := p.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	file, err := p.files.GetByID(ctx, testFile)
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, out.TotalTokens, file.Tokens)
	assert.Equal(t, out.DeterministicFileID, file.DeterministicID)
	assert.Equal(t, "txt", file.Type)

	var pages, chunks int
	for _, it := range p.items.items {
		switch it.Kind {
		case entity.FileItemKindPage:
			pages++
			assert.Nil(t, it.LocalEmbedding)
		case entity.FileItemKindChunk:
			chunks++
			require.NotNil(t, it.LocalEmbedding)
			assert.Nil(t, it.OpenAIEmbedding)
			require.NotNil(t, it.Source)
		}
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, 3, chunks)
}

func TestProcessTwiceKeepsOneCopy(t *testing.T) {
	p := newPipeline(t, BackendStore)
	first := p.process(t)
	second := p.process(t)

	assert.Equal(t, first.DeterministicFileID, second.DeterministicFileID)
	n, err := p.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, p.items.items, 6)
}

func TestProcessRejections(t *testing.T) {
	ctx := context.Background()
	base := ProcessInput{
		UserID:   testUser,
		FileID:   testFile,
		FileName: "notes.txt",
		Data:     []byte(docText),
		Provider: ProviderLocal,
	}

	t.Run("unsupported format before embedding", func(t *testing.T) {
		p := newPipeline(t, BackendStore)
		in := base
		in.FileName = "slides.pptx"
		_, err := p.indexer.Process(ctx, in)
		assert.ErrorIs(t, err, ErrUnsupportedInput)
		assert.Zero(t, p.embedder.calls)
	})

	t.Run("unknown provider", func(t *testing.T) {
		p := newPipeline(t, BackendStore)
		in := base
		in.Provider = ProviderOpenAI
		_, err := p.indexer.Process(ctx, in)
		assert.ErrorIs(t, err, ErrUnsupportedInput)
	})

	t.Run("missing credential before embedding", func(t *testing.T) {
		p := newPipeline(t, BackendStore)
		p.embedder.credErr = ErrMissingCredential
		_, err := p.indexer.Process(ctx, base)
		assert.ErrorIs(t, err, ErrMissingCredential)
		assert.Zero(t, p.embedder.calls)
		assert.Empty(t, p.files.files)
	})

	t.Run("provider failure keeps status", func(t *testing.T) {
		p := newPipeline(t, BackendStore)
		p.embedder.embedErr = &ProviderError{Provider: ProviderLocal, StatusCode: 429, Message: "slow down"}
		_, err := p.indexer.Process(ctx, base)
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 429, pe.StatusCode)
		n, _ := p.store.Count(ctx)
		assert.Zero(t, n)
	})

	t.Run("short embedding batch", func(t *testing.T) {
		p := newPipeline(t, BackendStore)
		p.embedder.shortBatch = true
		_, err := p.indexer.Process(ctx, base)
		var pe *ProviderError
		assert.ErrorAs(t, err, &pe)
	})

	t.Run("persist failure", func(t *testing.T) {
		p := newPipeline(t, BackendStore)
		p.files.upsertErr = errors.New("connection reset")
		_, err := p.indexer.Process(ctx, base)
		var pe *PersistError
		assert.ErrorAs(t, err, &pe)
	})

	t.Run("invalid ids", func(t *testing.T) {
		p := newPipeline(t, BackendStore)
		in := base
		in.FileID = "not-a-uuid"
		_, err := p.indexer.Process(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput)

		in = base
		in.UserID = " "
		_, err = p.indexer.Process(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("file owned by another user", func(t *testing.T) {
		p := newPipeline(t, BackendStore)
		p.process(t)
		in := base
		in.UserID = "intruder"
		_, err := p.indexer.Process(ctx, in)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("file locked", func(t *testing.T) {
		p := newPipeline(t, BackendStore)
		p.indexer.locker = busyLocker{}
		_, err := p.indexer.Process(ctx, base)
		assert.ErrorIs(t, err, ErrFileLocked)
	})
}

func TestRetrieve(t *testing.T) {
	for _, backend := range []string{BackendStore, BackendPGVector} {
		t.Run(backend, func(t *testing.T) {
			p := newPipeline(t, backend)
			p.process(t)
			ctx := context.Background()

			out, err := p.engine.Retrieve(ctx, RetrieveInput{
				UserID:   testUser,
				Query:    "tell me about alpha",
				FileIDs:  []string{testFile, testFile},
				Provider: ProviderLocal,
			})
			require.NoError(t, err)
			require.Len(t, out.Results, 1)
			assert.Equal(t, "alpha alpha notes", out.Results[0].Content)
			assert.Equal(t, testFile, out.Results[0].FileID)
			assert.Greater(t, out.Results[0].Similarity, 0.99)
		})
	}
}

func TestRetrieveScoping(t *testing.T) {
	p := newPipeline(t, BackendStore)
	p.process(t)
	ctx := context.Background()

	t.Run("other user sees nothing", func(t *testing.T) {
		out, err := p.engine.Retrieve(ctx, RetrieveInput{
			UserID: "someone-else", Query: "alpha", FileIDs: []string{testFile}, Provider: ProviderLocal,
		})
		require.NoError(t, err)
		assert.Empty(t, out.Results)
	})

	t.Run("no file ids", func(t *testing.T) {
		out, err := p.engine.Retrieve(ctx, RetrieveInput{
			UserID: testUser, Query: "alpha", Provider: ProviderLocal,
		})
		require.NoError(t, err)
		assert.NotNil(t, out.Results)
		assert.Empty(t, out.Results)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := p.engine.Retrieve(ctx, RetrieveInput{
			UserID: testUser, Query: "  ", FileIDs: []string{testFile}, Provider: ProviderLocal,
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("missing credential", func(t *testing.T) {
		p.embedder.credErr = ErrMissingCredential
		defer func() { p.embedder.credErr = nil }()
		_, err := p.engine.Retrieve(ctx, RetrieveInput{
			UserID: testUser, Query: "alpha", FileIDs: []string{testFile}, Provider: ProviderLocal,
		})
		assert.ErrorIs(t, err, ErrMissingCredential)
	})
}

func TestRetrieveModes(t *testing.T) {
	ctx := context.Background()

	t.Run("mmr on store backend", func(t *testing.T) {
		p := newPipeline(t, BackendStore)
		p.process(t)
		mode := MMRMode(0.7)
		out, err := p.engine.Retrieve(ctx, RetrieveInput{
			UserID: testUser, Query: "beta", FileIDs: []string{testFile}, Provider: ProviderLocal, Mode: &mode,
		})
		require.NoError(t, err)
		require.NotEmpty(t, out.Results)
		assert.Equal(t, "beta section", out.Results[0].Content)
	})

	t.Run("non-default mode on pgvector", func(t *testing.T) {
		p := newPipeline(t, BackendPGVector)
		mode := LearnerMode(LearnerSVM)
		_, err := p.engine.Retrieve(ctx, RetrieveInput{
			UserID: testUser, Query: "beta", FileIDs: []string{testFile}, Provider: ProviderLocal, Mode: &mode,
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestRetrieveCachesQueryEmbedding(t *testing.T) {
	p := newPipeline(t, BackendStore)
	p.process(t)
	ctx := context.Background()
	callsAfterIngest := p.embedder.calls

	in := RetrieveInput{UserID: testUser, Query: "gamma", FileIDs: []string{testFile}, Provider: ProviderLocal}
	for i := 0; i < 3; i++ {
		_, err := p.engine.Retrieve(ctx, in)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, p.cache.loads)
	assert.Equal(t, callsAfterIngest+1, p.embedder.calls)
}

func TestDebug(t *testing.T) {
	p := newPipeline(t, BackendStore)
	p.process(t)

	out, err := p.engine.Debug(context.Background(), DebugInput{
		UserID:   testUser,
		Query:    "gamma",
		Provider: ProviderLocal,
		TopK:     2,
	})
	require.NoError(t, err)
	require.Len(t, out.Hits, 2)
	assert.Equal(t, 2, out.Debug.RawHits)
	assert.Equal(t, "default", out.Debug.Mode)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "gamma appendix", out.Results[0].Content)
	assert.Equal(t, out.Hits[0].Score, out.Debug.BestScore)

	_, err = p.engine.Debug(context.Background(), DebugInput{UserID: testUser, Query: "gamma", Provider: ProviderOpenAI})
	assert.ErrorIs(t, err, ErrVectorDisabled)
}

func TestReindexAndDelete(t *testing.T) {
	p := newPipeline(t, BackendStore)
	first := p.process(t)
	ctx := context.Background()

	out, err := p.indexer.Reindex(ctx, testUser, testFile, ProviderLocal)
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount, out.ChunkCount)
	assert.Equal(t, first.DeterministicFileID, out.DeterministicFileID)
	n, _ := p.store.Count(ctx)
	assert.Equal(t, 3, n)

	_, err = p.indexer.Reindex(ctx, "intruder", testFile, ProviderLocal)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.indexer.DeleteFile(ctx, testUser, testFile))
	n, _ = p.store.Count(ctx)
	assert.Zero(t, n)
	assert.Empty(t, p.items.items)
	file, _ := p.files.GetByID(ctx, testFile)
	assert.Nil(t, file)

	assert.ErrorIs(t, p.indexer.DeleteFile(ctx, testUser, testFile), ErrNotFound)
}

func (p *pipeline) retrieveAlpha(t *testing.T) *RetrieveOutput {
	t.Helper()
	out, err := p.engine.Retrieve(context.Background(), RetrieveInput{
		UserID:   testUser,
		Query:    "tell me about alpha",
		FileIDs:  []string{testFile},
		Provider: ProviderLocal,
	})
	require.NoError(t, err)
	return out
}

func TestReprocessAddFailureKeepsPreviousVectors(t *testing.T) {
	p := newPipeline(t, BackendStore)
	ctx := context.Background()
	p.process(t)
	before, err := p.store.Entries(ctx, testFile)
	require.NoError(t, err)
	require.Len(t, before, 3)

	p.store.addErr = errors.New("disk full")
	_, err = p.indexer.Process(ctx, ProcessInput{
		UserID:   testUser,
		FileID:   testFile,
		FileName: "notes.txt",
		Data:     []byte(docText),
		Provider: ProviderLocal,
	})
	var pe *PersistError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "add vectors", pe.Op)
	assert.Contains(t, err.Error(), "disk full")

	after, err := p.store.Entries(ctx, testFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	out := p.retrieveAlpha(t)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "alpha alpha notes", out.Results[0].Content)
}

func TestCommitFailureRestoresVectors(t *testing.T) {
	p := newPipeline(t, BackendStore)
	ctx := context.Background()
	p.process(t)

	p.tx.commitErr = errors.New("connection reset")
	err := p.indexer.DeleteFile(ctx, testUser, testFile)
	require.Error(t, err)

	n, err := p.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	file, _ := p.files.GetByID(ctx, testFile)
	assert.NotNil(t, file)

	p.tx.commitErr = nil
	out := p.retrieveAlpha(t)
	require.Len(t, out.Results, 1)
}

func TestGenerator(t *testing.T) {
	ctx := context.Background()
	e := newKeywordEmbedder(ProviderLocal, "x")
	g := NewGenerator(e, nil)

	_, err := g.For(ProviderOpenAI)
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	vectors, err := g.Embed(ctx, ProviderLocal, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, e.calls)

	var progressed []int
	vectors, err = g.Embed(ctx, ProviderLocal, []string{"x", "xx"}, func(done, total int) {
		progressed = append(progressed, done, total)
	})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{2, 0.01}, vectors[1])
	assert.Equal(t, []int{2, 2}, progressed)

	v, err := g.EmbedQuery(ctx, ProviderLocal, "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.01}, v)

	var nilGen *Generator
	_, err = nilGen.For(ProviderLocal)
	assert.ErrorIs(t, err, ErrVectorDisabled)
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" OpenAI ")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p)

	p, err = ParseProvider("local")
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, p)

	_, err = ParseProvider("cohere")
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestFormatFromName(t *testing.T) {
	assert.Equal(t, "pdf", FormatFromName("Report.PDF"))
	assert.Equal(t, "md", FormatFromName("notes.md"))
	assert.Equal(t, "", FormatFromName("README"))
}
