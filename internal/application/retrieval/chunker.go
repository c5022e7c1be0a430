package retrieval

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultChunkSize    = 4000
	DefaultChunkOverlap = 200
)

// Chunker 把页切成 token 窗口并串成单链。
// 窗口不跨页；同一页内相邻窗口重叠 overlap 个 token。
type Chunker struct {
	tokenizer Tokenizer
	size      int
	overlap   int
	newID     func() string
}

type ChunkerOption func(*Chunker)

// WithIDGenerator 替换 chunk ID 生成器（默认 uuid）。
func WithIDGenerator(fn func() string) ChunkerOption {
	return func(c *Chunker) {
		if fn != nil {
			c.newID = fn
		}
	}
}

func NewChunker(tokenizer Tokenizer, size, overlap int, opts ...ChunkerOption) (*Chunker, error) {
	if tokenizer == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	c := &Chunker{
		tokenizer: tokenizer,
		size:      size,
		overlap:   overlap,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Chunker) Tokenizer() Tokenizer { return c.tokenizer }

// Chunk 按页顺序切分并链接整条链。空白页被跳过。
func (c *Chunker) Chunk(pages []Page) ChunkChain {
	chain := ChunkChain{Chunks: make([]Chunk, 0, len(pages))}
	for pageIdx, page := range pages {
		if strings.TrimSpace(page.Content) == "" {
			continue
		}
		tokens := c.tokenizer.Encode(page.Content)
		if len(tokens) <= c.size {
			chain.Chunks = append(chain.Chunks, c.newChunk(page, pageIdx, page.Content, len(tokens)))
			continue
		}

		for start := 0; start < len(tokens); {
			start = c.alignStart(tokens, start)
			if start >= len(tokens) {
				break
			}
			end := c.windowEnd(tokens, start)
			window := tokens[start:end]
			chain.Chunks = append(chain.Chunks, c.newChunk(page, pageIdx, c.tokenizer.Decode(window), len(window)))
			if end == len(tokens) {
				break
			}
			next := end - c.overlap
			if next <= start {
				next = end
			}
			start = next
		}
	}

	for i := range chain.Chunks {
		if i+1 < len(chain.Chunks) {
			chain.Chunks[i].NextIndex = i + 1
			chain.Chunks[i].NextRef = chain.Chunks[i+1].ID
		} else {
			chain.Chunks[i].NextIndex = -1
			chain.Chunks[i].NextRef = ""
		}
	}
	return chain
}

// alignStart 把窗口起点后移到完整字符的首个 token。
// 字节级 BPE 可能把一个多字节字符拆进多个 token。
func (c *Chunker) alignStart(tokens []int, start int) int {
	for start > 0 && start < len(tokens) {
		head := c.tokenizer.Decode(tokens[start:min(start+utf8.UTFMax, len(tokens))])
		if r, n := utf8.DecodeRuneInString(head); r != utf8.RuneError || n != 1 {
			return start
		}
		start++
	}
	return start
}

// windowEnd 返回不超过 size 且解码为合法 UTF-8 的最远终点。
// 单个字符超过整个窗口时向后延伸到字符结束。
func (c *Chunker) windowEnd(tokens []int, start int) int {
	limit := min(start+c.size, len(tokens))
	for end := limit; end > start; end-- {
		if utf8.ValidString(c.tokenizer.Decode(tokens[start:end])) {
			return end
		}
	}
	for end := limit + 1; end <= len(tokens); end++ {
		if utf8.ValidString(c.tokenizer.Decode(tokens[start:end])) {
			return end
		}
	}
	return len(tokens)
}

func (c *Chunker) newChunk(page Page, pageIdx int, content string, tokenCount int) Chunk {
	return Chunk{
		ID:         c.newID(),
		Content:    content,
		TokenCount: tokenCount,
		SourceRef:  page.ID,
		PageIndex:  pageIdx,
		NextIndex:  -1,
	}
}
