package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"rag-retrieval-api/internal/domain/entity"
	"rag-retrieval-api/internal/domain/repository"
	"rag-retrieval-api/pkg/logger"
	"rag-retrieval-api/pkg/metrics"
)

// 向量库条目的元数据键
const (
	MetaFileID    = "file_id"
	MetaUserID    = "user_id"
	MetaSource    = "source"
	MetaPageIndex = "page_index"
	MetaProvider  = "provider"
)

// Indexer 负责写路径：抽取、指纹、切分、向量化、入库。
type Indexer struct {
	extractor Extractor
	chunker   *Chunker
	embedder  *Generator
	stores    VectorStores
	files     repository.FileRepository
	items     repository.FileItemRepository
	tx        repository.Transactor
	locker    FileLocker
}

func NewIndexer(
	extractor Extractor,
	chunker *Chunker,
	embedder *Generator,
	stores VectorStores,
	files repository.FileRepository,
	items repository.FileItemRepository,
	tx repository.Transactor,
	locker FileLocker,
) *Indexer {
	if locker == nil {
		locker = noopLocker{}
	}
	return &Indexer{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		stores:    stores,
		files:     files,
		items:     items,
		tx:        tx,
		locker:    locker,
	}
}

// FormatFromName 从文件名推断格式（小写扩展名，不含点）。
func FormatFromName(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimSpace(name))), ".")
}

// Process 入库一个上传文件，返回内容指纹与统计。
// 同一文件重复入库时先按来源删除旧条目再写入，最终每个 chunk 只保留一份。
func (i *Indexer) Process(ctx context.Context, in ProcessInput) (out *ProcessOutput, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.IngestTotal.WithLabelValues(string(in.Provider), status).Inc()
	}()

	if err := validateIDs(in.UserID, in.FileID); err != nil {
		return nil, err
	}
	format := strings.ToLower(strings.TrimSpace(in.Format))
	if format == "" {
		format = FormatFromName(in.FileName)
	}
	if !i.extractor.Supports(format) {
		return nil, Unsupported("file type %q", format)
	}
	if err := i.embedder.CheckCredential(ctx, in.Provider); err != nil {
		return nil, err
	}

	ctx = logger.WithContext(ctx, logger.FileIDKey, in.FileID)

	release, err := i.locker.Acquire(ctx, in.FileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(context.WithoutCancel(ctx)) }()

	if existing, err := i.files.GetByID(ctx, in.FileID); err != nil {
		return nil, Persist("load file", err)
	} else if existing != nil && existing.UserID != in.UserID {
		return nil, ErrNotFound
	}

	pages, err := i.extractor.Extract(ctx, format, in.Data)
	if err != nil {
		return nil, err
	}
	for idx := range pages {
		if pages[idx].ID == "" {
			pages[idx].ID = uuid.NewString()
		}
		pages[idx].SourceDocumentID = in.FileID
	}

	file := &entity.File{
		ID:       in.FileID,
		UserID:   in.UserID,
		Name:     in.FileName,
		Type:     format,
		Size:     int64(len(in.Data)),
		Provider: string(in.Provider),
	}
	out, err = i.index(ctx, file, pages, in.Provider)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "document processed",
		"provider", in.Provider,
		"format", format,
		"pages", out.PageCount,
		"chunks", out.ChunkCount,
		"tokens", out.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Reindex 用已入库的整页条目重建 chunk 链并重新向量化。
func (i *Indexer) Reindex(ctx context.Context, userID, fileID string, provider Provider) (*ProcessOutput, error) {
	if err := validateIDs(userID, fileID); err != nil {
		return nil, err
	}
	if err := i.embedder.CheckCredential(ctx, provider); err != nil {
		return nil, err
	}
	ctx = logger.WithContext(ctx, logger.FileIDKey, fileID)

	release, err := i.locker.Acquire(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(context.WithoutCancel(ctx)) }()

	file, err := i.ownedFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	rows, err := i.items.ListPages(ctx, fileID)
	if err != nil {
		return nil, Persist("list pages", err)
	}
	pages := make([]Page, 0, len(rows))
	for _, row := range rows {
		pages = append(pages, Page{
			ID:               row.ID,
			Content:          row.Content,
			Metadata:         row.Metadata,
			SourceDocumentID: fileID,
		})
	}

	file.Provider = string(provider)
	out, err := i.index(ctx, file, pages, provider)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "document reindexed", "provider", provider, "chunks", out.ChunkCount, "tokens", out.TotalTokens)
	return out, nil
}

// DeleteFile 删除文件的向量、条目与文件记录。
func (i *Indexer) DeleteFile(ctx context.Context, userID, fileID string) error {
	if err := validateIDs(userID, fileID); err != nil {
		return err
	}
	ctx = logger.WithContext(ctx, logger.FileIDKey, fileID)

	release, err := i.locker.Acquire(ctx, fileID)
	if err != nil {
		return err
	}
	defer func() { _ = release(context.WithoutCancel(ctx)) }()

	if _, err := i.ownedFile(ctx, userID, fileID); err != nil {
		return err
	}

	var undo func()
	err = i.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := i.items.DeleteByFile(ctx, fileID); err != nil {
			return Persist("delete file items", err)
		}
		if err := i.files.Delete(ctx, fileID); err != nil {
			return Persist("delete file", err)
		}
		var err error
		undo, err = i.swapVectors(ctx, fileID, nil, nil)
		return err
	})
	if err != nil {
		if undo != nil {
			undo()
		}
		return err
	}
	logger.Info(ctx, "document deleted")
	return nil
}

func (i *Indexer) index(ctx context.Context, file *entity.File, pages []Page, provider Provider) (*ProcessOutput, error) {
	store, err := i.stores.For(provider)
	if err != nil {
		return nil, err
	}

	fingerprint := PageFingerprint(pages)
	chain := i.chunker.Chunk(pages)

	embedStart := time.Now()
	vectors, err := i.embedder.Embed(ctx, provider, chain.Contents(), func(done, total int) {
		logger.Debug(ctx, "embedding progress", "done", done, "total", total)
	})
	metrics.EmbeddingDuration.WithLabelValues(string(provider)).Observe(time.Since(embedStart).Seconds())
	if err != nil {
		return nil, err
	}

	totalTokens := chain.TotalTokens()
	file.Tokens = totalTokens
	file.DeterministicID = fingerprint

	rows := buildFileItems(file, pages, chain, vectors, provider, i.chunker.Tokenizer())
	entries := buildEntries(file, chain, vectors, provider)

	// 向量库不参与数据库事务；事务失败时用 undo 恢复旧向量
	var undo func()
	err = i.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := i.files.Upsert(ctx, file); err != nil {
			return Persist("upsert file", err)
		}
		if err := i.items.ReplaceByFile(ctx, file.ID, rows); err != nil {
			return Persist("replace file items", err)
		}
		var err error
		undo, err = i.swapVectors(ctx, file.ID, store, entries)
		return err
	})
	if err != nil {
		if undo != nil {
			undo()
		}
		return nil, err
	}

	metrics.IngestChunks.WithLabelValues(string(provider)).Observe(float64(chain.Len()))
	metrics.IngestTokens.WithLabelValues(string(provider)).Add(float64(totalTokens))

	return &ProcessOutput{
		DeterministicFileID: fingerprint,
		ChunkCount:          chain.Len(),
		PageCount:           len(pages),
		TotalTokens:         totalTokens,
	}, nil
}

// swapVectors 记录来源文档现有的向量条目，删除后写入 entries（store 为 nil 时只删除）。
// 删除或写入失败时先恢复旧条目再返回错误；成功时返回的 undo 用于事务提交失败后的恢复。
func (i *Indexer) swapVectors(ctx context.Context, sourceID string, store VectorStore, entries []Entry) (func(), error) {
	previous, err := i.stores.EntriesEverywhere(ctx, sourceID)
	if err != nil {
		return nil, Persist("collect vectors", err)
	}
	undo := func() { i.restoreVectors(ctx, sourceID, previous) }

	if err := i.stores.DeleteEverywhere(ctx, sourceID); err != nil {
		undo()
		return nil, Persist("delete vectors", err)
	}
	if store != nil && len(entries) > 0 {
		if err := store.Add(ctx, entries); err != nil {
			undo()
			return nil, Persist("add vectors", err)
		}
	}
	return undo, nil
}

// restoreVectors 清掉来源文档当前的条目并写回 previous；失败只记录日志。
func (i *Indexer) restoreVectors(ctx context.Context, sourceID string, previous map[Provider][]Entry) {
	ctx = context.WithoutCancel(ctx)
	if err := i.stores.DeleteEverywhere(ctx, sourceID); err != nil {
		logger.Error(ctx, "failed to clear vectors before restore", err)
	}
	restored := 0
	for p, entries := range previous {
		store, err := i.stores.For(p)
		if err != nil {
			continue
		}
		if err := store.Add(ctx, entries); err != nil {
			logger.Error(ctx, "failed to restore vectors", err, "provider", p, "entries", len(entries))
			continue
		}
		restored += len(entries)
	}
	logger.Warn(ctx, "vectors restored after failed write", "entries", restored)
}

func (i *Indexer) ownedFile(ctx context.Context, userID, fileID string) (*entity.File, error) {
	file, err := i.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, Persist("load file", err)
	}
	if file == nil || file.UserID != userID {
		return nil, ErrNotFound
	}
	return file, nil
}

func buildEntries(file *entity.File, chain ChunkChain, vectors [][]float32, provider Provider) []Entry {
	entries := make([]Entry, 0, chain.Len())
	for idx, ch := range chain.Chunks {
		entries = append(entries, Entry{
			ID:               ch.ID,
			Embedding:        vectors[idx],
			SourceDocumentID: file.ID,
			Metadata: map[string]any{
				MetaFileID:    file.ID,
				MetaUserID:    file.UserID,
				MetaSource:    ch.SourceRef,
				MetaPageIndex: ch.PageIndex,
				MetaProvider:  string(provider),
			},
		})
	}
	return entries
}

func buildFileItems(file *entity.File, pages []Page, chain ChunkChain, vectors [][]float32, provider Provider, tok Tokenizer) []*entity.FileItem {
	rows := make([]*entity.FileItem, 0, len(pages)+chain.Len())
	for idx, p := range pages {
		rows = append(rows, &entity.FileItem{
			ID:       p.ID,
			FileID:   file.ID,
			UserID:   file.UserID,
			Kind:     entity.FileItemKindPage,
			Seq:      idx,
			Content:  p.Content,
			Tokens:   CountTokens(tok, p.Content),
			Metadata: p.Metadata,
		})
	}
	for idx, ch := range chain.Chunks {
		source := ch.SourceRef
		row := &entity.FileItem{
			ID:      ch.ID,
			FileID:  file.ID,
			UserID:  file.UserID,
			Kind:    entity.FileItemKindChunk,
			Seq:     idx,
			Source:  &source,
			Content: ch.Content,
			Tokens:  ch.TokenCount,
		}
		if ch.NextRef != "" {
			next := ch.NextRef
			row.Next = &next
		}
		vec := pgvector.NewVector(vectors[idx])
		switch provider {
		case ProviderOpenAI:
			row.OpenAIEmbedding = &vec
		case ProviderLocal:
			row.LocalEmbedding = &vec
		}
		rows = append(rows, row)
	}
	return rows
}

func validateIDs(userID, fileID string) error {
	if strings.TrimSpace(userID) == "" {
		return Invalid("user_id is required")
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return Invalid("file_id must be a uuid")
	}
	return nil
}
