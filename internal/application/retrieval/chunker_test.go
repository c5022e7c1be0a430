package retrieval

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("chunk-%03d", n)
	}
}

func TestNewChunkerValidation(t *testing.T) {
	tests := []struct {
		name    string
		tok     Tokenizer
		size    int
		overlap int
		wantErr bool
	}{
		{"valid", RuneTokenizer{}, 500, 50, false},
		{"zero overlap", RuneTokenizer{}, 10, 0, false},
		{"nil tokenizer", nil, 500, 50, true},
		{"zero size", RuneTokenizer{}, 0, 0, true},
		{"negative overlap", RuneTokenizer{}, 10, -1, true},
		{"overlap equals size", RuneTokenizer{}, 10, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.tok, tt.size, tt.overlap)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunkThreePages(t *testing.T) {
	c, err := NewChunker(RuneTokenizer{}, 500, 50, WithIDGenerator(counterIDs()))
	require.NoError(t, err)

	pages := []Page{
		{ID: "p1", Content: strings.Repeat("a", 1000)},
		{ID: "p2", Content: strings.Repeat("b", 1000)},
		{ID: "p3", Content: strings.Repeat("c", 1000)},
	}
	chain := c.Chunk(pages)
	require.Equal(t, 9, chain.Len())

	wantSizes := []int{500, 500, 100}
	for i, ch := range chain.Chunks {
		assert.Equal(t, pages[i/3].ID, ch.SourceRef)
		assert.Equal(t, i/3, ch.PageIndex)
		assert.Equal(t, wantSizes[i%3], ch.TokenCount)
		assert.Equal(t, wantSizes[i%3], len(ch.Content))
		// 窗口不跨页
		assert.Equal(t, strings.Repeat(string(pages[i/3].Content[0]), ch.TokenCount), ch.Content)
	}

	visited := 0
	chain.Walk(func(idx int, ch Chunk) bool {
		assert.Equal(t, visited, idx)
		visited++
		return true
	})
	assert.Equal(t, 9, visited)
	assert.Equal(t, -1, chain.Chunks[8].NextIndex)
	assert.Empty(t, chain.Chunks[8].NextRef)
	assert.Equal(t, chain.Chunks[3].ID, chain.Chunks[2].NextRef)
	assert.Equal(t, 1100*3, chain.TotalTokens())
}

func TestChunkOverlap(t *testing.T) {
	c, err := NewChunker(RuneTokenizer{}, 4, 2, WithIDGenerator(counterIDs()))
	require.NoError(t, err)

	chain := c.Chunk([]Page{{ID: "p", Content: "abcdefgh"}})
	assert.Equal(t, []string{"abcd", "cdef", "efgh"}, chain.Contents())
}

// byteTokenizer 每个字节一个 token，多字节字符必然被拆开。
type byteTokenizer struct{}

func (byteTokenizer) Name() string { return "bytes" }

func (byteTokenizer) Encode(text string) []int {
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i])
	}
	return out
}

func (byteTokenizer) Decode(tokens []int) string {
	buf := make([]byte, len(tokens))
	for i, t := range tokens {
		buf[i] = byte(t)
	}
	return string(buf)
}

func TestChunkSplitsOnRuneBoundaries(t *testing.T) {
	c, err := NewChunker(byteTokenizer{}, 3, 1, WithIDGenerator(counterIDs()))
	require.NoError(t, err)

	chain := c.Chunk([]Page{{ID: "p", Content: "aé日b"}})
	assert.Equal(t, []string{"aé", "日", "b"}, chain.Contents())
	for _, ch := range chain.Chunks {
		assert.True(t, utf8.ValidString(ch.Content))
		assert.LessOrEqual(t, ch.TokenCount, 3)
		assert.Equal(t, len(ch.Content), ch.TokenCount)
	}
}

func TestChunkWideRuneLargerThanWindow(t *testing.T) {
	c, err := NewChunker(byteTokenizer{}, 2, 1, WithIDGenerator(counterIDs()))
	require.NoError(t, err)

	chain := c.Chunk([]Page{{ID: "p", Content: "日本"}})
	assert.Equal(t, []string{"日", "本"}, chain.Contents())
}

func TestChunkShortAndBlankPages(t *testing.T) {
	c, err := NewChunker(RuneTokenizer{}, 100, 10, WithIDGenerator(counterIDs()))
	require.NoError(t, err)

	chain := c.Chunk([]Page{
		{ID: "blank", Content: "  \n\t"},
		{ID: "short", Content: "  hello world  "},
		{ID: "empty"},
	})
	require.Equal(t, 1, chain.Len())
	assert.Equal(t, "  hello world  ", chain.Chunks[0].Content)
	assert.Equal(t, "short", chain.Chunks[0].SourceRef)
	assert.Equal(t, 1, chain.Chunks[0].PageIndex)
	assert.Equal(t, -1, chain.Chunks[0].NextIndex)

	empty := c.Chunk(nil)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, -1, empty.Head())
	assert.Empty(t, empty.Contents())
}

func TestChunkIsDeterministic(t *testing.T) {
	pages := []Page{
		{ID: "p1", Content: strings.Repeat("xyz ", 90)},
		{ID: "p2", Content: "tail"},
	}
	a, err := NewChunker(RuneTokenizer{}, 64, 8, WithIDGenerator(counterIDs()))
	require.NoError(t, err)
	b, err := NewChunker(RuneTokenizer{}, 64, 8, WithIDGenerator(counterIDs()))
	require.NoError(t, err)

	assert.Equal(t, a.Chunk(pages), b.Chunk(pages))
}

func TestRuneTokenizerRoundTrip(t *testing.T) {
	tok := RuneTokenizer{}
	s := "检索 pipeline ✓"
	assert.Equal(t, s, tok.Decode(tok.Encode(s)))
	assert.Equal(t, 13, CountTokens(tok, s))
	assert.Equal(t, 0, CountTokens(tok, ""))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]string{"page one", "page two"})
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint([]string{"page one", "page two"}))
	assert.NotEqual(t, a, Fingerprint([]string{"page two", "page one"}))
	// 空输入即空串的摘要
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Fingerprint(nil))

	pages := []Page{{ID: "x", Content: "page one"}, {ID: "y", Content: "page two"}}
	assert.Equal(t, a, PageFingerprint(pages))
}
