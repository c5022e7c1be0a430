package embedding

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/internal/config"
	"rag-retrieval-api/pkg/logger"
)

const (
	defaultLocalBatchSize = 100
	defaultLocalModel     = "intfloat/multilingual-e5-small"
)

// LocalClient 本地 text-embeddings-inference 服务。
// /embed_all 返回逐 token 的隐藏状态，均值池化与 L2 归一化在进程内完成。
type LocalClient struct {
	transport   httpTransport
	url         string
	model       string
	dimension   int
	batchSize   int
	concurrency int
}

type embedAllRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// NewLocalClient 创建本地 Embedding 客户端
func NewLocalClient(cfg *config.LocalEmbeddingConfig) (*LocalClient, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("local embedding endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid local embedding endpoint: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/embed_all"
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultLocalBatchSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 384
	}
	model := cfg.Model
	if model == "" {
		model = defaultLocalModel
	}
	return &LocalClient{
		transport:   newTransport(retrieval.ProviderLocal, cfg.Timeout),
		url:         u.String(),
		model:       model,
		dimension:   dim,
		batchSize:   batchSize,
		concurrency: concurrency,
	}, nil
}

func (c *LocalClient) Provider() retrieval.Provider { return retrieval.ProviderLocal }

func (c *LocalClient) Dimension() int { return c.dimension }

// CheckCredential 本地模型无需凭据
func (c *LocalClient) CheckCredential(context.Context) error { return nil }

// Embed 按 batchSize 分批并发请求；结果与输入同序，与批大小无关
func (c *LocalClient) Embed(ctx context.Context, texts []string, progress retrieval.ProgressFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.batchSize {
		start := start
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vectors, err := c.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)

			mu.Lock()
			done += end - start
			current := done
			if progress != nil {
				progress(current, len(texts))
			}
			mu.Unlock()
			logger.Debug(ctx, "local embedding batch done", "model", c.model, "done", current, "total", len(texts))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LocalClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var states [][][]float32
	if err := c.transport.postJSON(ctx, c.url, nil, &embedAllRequest{Inputs: texts, Truncate: true}, &states); err != nil {
		return nil, err
	}
	if len(states) != len(texts) {
		return nil, &retrieval.ProviderError{
			Provider: retrieval.ProviderLocal,
			Message:  fmt.Sprintf("expected %d token state sets, got %d", len(texts), len(states)),
		}
	}
	out := make([][]float32, len(states))
	for i, tokens := range states {
		v, err := meanPool(tokens)
		if err != nil {
			return nil, &retrieval.ProviderError{Provider: retrieval.ProviderLocal, Message: err.Error()}
		}
		out[i] = v
	}
	return out, nil
}

// meanPool 对 token 隐藏状态取均值后做 L2 归一化
func meanPool(tokens [][]float32) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no token states returned")
	}
	dim := len(tokens[0])
	if dim == 0 {
		return nil, fmt.Errorf("empty token state")
	}
	sum := make([]float64, dim)
	for _, tok := range tokens {
		if len(tok) != dim {
			return nil, fmt.Errorf("token state dimension %d, want %d", len(tok), dim)
		}
		for j, v := range tok {
			sum[j] += float64(v)
		}
	}
	var norm float64
	n := float64(len(tokens))
	for j := range sum {
		sum[j] /= n
		norm += sum[j] * sum[j]
	}
	norm = math.Sqrt(norm)
	out := make([]float32, dim)
	for j, v := range sum {
		if norm > 0 {
			v /= norm
		}
		out[j] = float32(v)
	}
	return out, nil
}
