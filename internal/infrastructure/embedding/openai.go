package embedding

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/internal/config"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIModel     = "text-embedding-3-small"
	defaultAzureAPIVersion = "2024-02-01"
)

// OpenAIClient 远程 Embedding：OpenAI 或 Azure OpenAI，一次请求处理整批文本
type OpenAIClient struct {
	transport httpTransport
	apiKey    string
	model     string
	dimension int
	url       string
	azure     bool
}

type openAIRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model,omitempty"`
	EncodingFormat string   `json:"encoding_format"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient 创建远程 Embedding 客户端
func NewOpenAIClient(cfg *config.OpenAIEmbeddingConfig) (*OpenAIClient, error) {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}
	c := &OpenAIClient{
		transport: newTransport(retrieval.ProviderOpenAI, cfg.Timeout),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		model:     model,
		dimension: dim,
		azure:     cfg.UseAzure,
	}

	if cfg.UseAzure {
		endpoint := strings.TrimRight(cfg.AzureEndpoint, "/")
		if endpoint == "" || cfg.AzureDeployment == "" {
			return nil, fmt.Errorf("azure embedding requires endpoint and deployment")
		}
		version := cfg.AzureAPIVersion
		if version == "" {
			version = defaultAzureAPIVersion
		}
		u, err := url.Parse(fmt.Sprintf("%s/openai/deployments/%s/embeddings", endpoint, url.PathEscape(cfg.AzureDeployment)))
		if err != nil {
			return nil, fmt.Errorf("invalid azure endpoint: %w", err)
		}
		q := u.Query()
		q.Set("api-version", version)
		u.RawQuery = q.Encode()
		c.url = u.String()
		return c, nil
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid embedding base url: %w", err)
	}
	c.url = base + "/embeddings"
	return c, nil
}

func (c *OpenAIClient) Provider() retrieval.Provider { return retrieval.ProviderOpenAI }

func (c *OpenAIClient) Dimension() int { return c.dimension }

// CheckCredential 只校验 key 是否配置；无效 key 由 provider 返回 401 体现
func (c *OpenAIClient) CheckCredential(context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: openai api key is not configured", retrieval.ErrMissingCredential)
	}
	return nil
}

// Embed 一次请求向量化整批文本，按 data[].index 还原输入顺序
func (c *OpenAIClient) Embed(ctx context.Context, texts []string, progress retrieval.ProgressFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := c.CheckCredential(ctx); err != nil {
		return nil, err
	}

	req := &openAIRequest{Input: texts, EncodingFormat: "float"}
	headers := map[string]string{}
	if c.azure {
		headers["api-key"] = c.apiKey
	} else {
		req.Model = c.model
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var resp openAIResponse
	if err := c.transport.postJSON(ctx, c.url, headers, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, &retrieval.ProviderError{
			Provider: retrieval.ProviderOpenAI,
			Message:  fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		if d.Index != i {
			return nil, &retrieval.ProviderError{
				Provider: retrieval.ProviderOpenAI,
				Message:  fmt.Sprintf("unexpected embedding index %d", d.Index),
			}
		}
		out[i] = d.Embedding
	}
	if progress != nil {
		progress(len(texts), len(texts))
	}
	return out, nil
}
