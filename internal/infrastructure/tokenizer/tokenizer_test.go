package tokenizer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-retrieval-api/internal/application/retrieval"
)

func TestCL100KRoundTrip(t *testing.T) {
	tok, err := New(EncodingCL100K)
	require.NoError(t, err)
	assert.Equal(t, EncodingCL100K, tok.Name())

	text := "Retrieval-augmented generation splits documents into chunks."
	ids := tok.Encode(text)
	assert.NotEmpty(t, ids)
	assert.Less(t, len(ids), len(text))
	assert.Equal(t, text, tok.Decode(ids))
}

func TestCL100KChunking(t *testing.T) {
	tok, err := New("")
	require.NoError(t, err)

	chunker, err := retrieval.NewChunker(tok, 8, 2)
	require.NoError(t, err)
	chain := chunker.Chunk([]retrieval.Page{{ID: "p", Content: "one two three four five six seven eight nine ten eleven twelve"}})
	require.Greater(t, chain.Len(), 1)
	for _, ch := range chain.Chunks {
		assert.LessOrEqual(t, ch.TokenCount, 8)
	}
}

func TestCL100KChunkingKeepsRunesWhole(t *testing.T) {
	tok, err := New(EncodingCL100K)
	require.NoError(t, err)

	chunker, err := retrieval.NewChunker(tok, 7, 2)
	require.NoError(t, err)
	content := strings.Repeat("检索增强生成🙂測試", 20)
	chain := chunker.Chunk([]retrieval.Page{{ID: "p", Content: content}})
	require.Greater(t, chain.Len(), 1)

	for i, ch := range chain.Chunks {
		assert.True(t, utf8.ValidString(ch.Content), "chunk %d: %q", i, ch.Content)
		assert.NotContains(t, ch.Content, string(utf8.RuneError), "chunk %d", i)
		assert.LessOrEqual(t, ch.TokenCount, 7, "chunk %d", i)
		assert.Positive(t, ch.TokenCount, "chunk %d", i)
		assert.Contains(t, content, ch.Content, "chunk %d", i)
	}
	assert.True(t, strings.HasPrefix(content, chain.Chunks[0].Content))
	assert.True(t, strings.HasSuffix(content, chain.Chunks[chain.Len()-1].Content))
}

func TestNewSelectsImplementation(t *testing.T) {
	tok, err := New("RUNES")
	require.NoError(t, err)
	assert.Equal(t, retrieval.RuneTokenizer{}, tok)

	_, err = New("sentencepiece")
	assert.Error(t, err)
}
