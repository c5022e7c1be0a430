package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// Provider Embedding 提供方。
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderLocal  Provider = "local"
)

// ParseProvider 解析请求中的 provider 名称。
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderLocal:
		return ProviderLocal, nil
	default:
		return "", Unsupported("embeddings provider %q", s)
	}
}

// ProgressFunc 在批次边界回报进度。
type ProgressFunc func(done, total int)

// Embedder 文本向量化（port），由基础设施层实现。
// 返回的向量与输入等长、同序。
type Embedder interface {
	Provider() Provider
	Dimension() int
	// CheckCredential 在任何 embedding 工作之前校验凭据。
	CheckCredential(ctx context.Context) error
	Embed(ctx context.Context, texts []string, progress ProgressFunc) ([][]float32, error)
}

// Generator 按 provider 分发到具体 Embedder。
type Generator struct {
	embedders map[Provider]Embedder
}

func NewGenerator(embedders ...Embedder) *Generator {
	g := &Generator{embedders: make(map[Provider]Embedder, len(embedders))}
	for _, e := range embedders {
		if e != nil {
			g.embedders[e.Provider()] = e
		}
	}
	return g
}

// For 返回 provider 对应的 Embedder。
func (g *Generator) For(p Provider) (Embedder, error) {
	if g == nil {
		return nil, ErrVectorDisabled
	}
	e, ok := g.embedders[p]
	if !ok {
		return nil, Unsupported("embeddings provider %q is not configured", p)
	}
	return e, nil
}

// CheckCredential 对 provider 做一次凭据校验。
func (g *Generator) CheckCredential(ctx context.Context, p Provider) error {
	e, err := g.For(p)
	if err != nil {
		return err
	}
	return e.CheckCredential(ctx)
}

// Embed 调用 provider 并校验输出形状。凭据需由调用方预先校验。
func (g *Generator) Embed(ctx context.Context, p Provider, texts []string, progress ProgressFunc) ([][]float32, error) {
	e, err := g.For(p)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.Embed(ctx, texts, progress)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, &ProviderError{
			Provider: p,
			Message:  fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(vectors)),
		}
	}
	dim := e.Dimension()
	for i, v := range vectors {
		if len(v) == 0 || (dim > 0 && len(v) != dim) {
			return nil, &ProviderError{
				Provider: p,
				Message:  fmt.Sprintf("embedding %d has dimension %d, want %d", i, len(v), dim),
			}
		}
	}
	return vectors, nil
}

// EmbedQuery 向量化单条查询。
func (g *Generator) EmbedQuery(ctx context.Context, p Provider, text string) ([]float32, error) {
	vectors, err := g.Embed(ctx, p, []string{text}, nil)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
