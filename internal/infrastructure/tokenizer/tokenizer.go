// Package tokenizer 提供切分与计数使用的 token 编码器
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"rag-retrieval-api/internal/application/retrieval"
)

const (
	// EncodingCL100K OpenAI text-embedding-3 系列使用的 BPE 词表
	EncodingCL100K = "cl100k_base"
	// EncodingRunes 按 Unicode 码点计数
	EncodingRunes = "runes"
)

var loaderOnce sync.Once

// TikToken 基于 tiktoken 的 BPE 编码器，词表随二进制离线加载
type TikToken struct {
	name string
	enc  *tiktoken.Tiktoken
}

// NewTikToken 加载指定编码
func NewTikToken(encoding string) (*TikToken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &TikToken{name: encoding, enc: enc}, nil
}

func (t *TikToken) Name() string { return t.name }

// Encode 特殊 token 按普通文本处理
func (t *TikToken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TikToken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// New 按配置名创建 Tokenizer
func New(name string) (retrieval.Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncodingCL100K:
		return NewTikToken(EncodingCL100K)
	case EncodingRunes:
		return retrieval.RuneTokenizer{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}
