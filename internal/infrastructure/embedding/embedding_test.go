package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/internal/config"
)

func TestOpenAIEmbedRestoresOrder(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		// 故意逆序返回
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Index: i, Embedding: []float32{float32(len(req.Input[i])), 0}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(&config.OpenAIEmbeddingConfig{APIKey: "sk-test", BaseURL: srv.URL, Dimension: 2})
	require.NoError(t, err)

	var progressed int
	vectors, err := c.Embed(context.Background(), []string{"a", "bbb", "cc"}, func(done, total int) {
		progressed = done
		assert.Equal(t, 3, total)
	})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {3, 0}, {2, 0}}, vectors)
	assert.Equal(t, 3, progressed)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/embeddings", gotPath)
}

func TestOpenAIAzureRequest(t *testing.T) {
	var gotKey, gotVersion, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		gotVersion = r.URL.Query().Get("api-version")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5,0.5]}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(&config.OpenAIEmbeddingConfig{
		APIKey:          "azure-key",
		UseAzure:        true,
		AzureEndpoint:   srv.URL,
		AzureDeployment: "embed-small",
		AzureAPIVersion: "2024-06-01",
		Dimension:       2,
	})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "azure-key", gotKey)
	assert.Equal(t, "2024-06-01", gotVersion)
	assert.Equal(t, "/openai/deployments/embed-small/embeddings", gotPath)

	_, err = NewOpenAIClient(&config.OpenAIEmbeddingConfig{UseAzure: true})
	assert.Error(t, err)
}

func TestOpenAIProviderStatusPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(&config.OpenAIEmbeddingConfig{APIKey: "sk", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"x"}, nil)
	var pe *retrieval.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "Rate limit reached", pe.Message)
	assert.Equal(t, retrieval.ProviderOpenAI, pe.Provider)
}

func TestOpenAIMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(&config.OpenAIEmbeddingConfig{APIKey: "sk", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"x"}, nil)
	var pe *retrieval.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Zero(t, pe.StatusCode)
}

func TestOpenAIMissingKey(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(&config.OpenAIEmbeddingConfig{APIKey: "  ", BaseURL: srv.URL})
	require.NoError(t, err)

	assert.ErrorIs(t, c.CheckCredential(context.Background()), retrieval.ErrMissingCredential)
	_, err = c.Embed(context.Background(), []string{"x"}, nil)
	assert.ErrorIs(t, err, retrieval.ErrMissingCredential)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

// teiServer 对每段文本返回 len(text) 个 token 状态，第 i 个 token 为 [i+1, 1]
func teiServer(t *testing.T, batches *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed_all", r.URL.Path)
		atomic.AddInt32(batches, 1)
		var req embedAllRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([][][]float32, len(req.Inputs))
		for i, text := range req.Inputs {
			for j := range text {
				out[i] = append(out[i], []float32{float32(j + 1), 1})
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func TestLocalEmbedBatchInvariance(t *testing.T) {
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}

	var batches int32
	srv := teiServer(t, &batches)
	defer srv.Close()

	embed := func(batchSize, concurrency int) [][]float32 {
		c, err := NewLocalClient(&config.LocalEmbeddingConfig{
			Endpoint:    srv.URL,
			BatchSize:   batchSize,
			Concurrency: concurrency,
			Dimension:   2,
		})
		require.NoError(t, err)
		v, err := c.Embed(context.Background(), texts, nil)
		require.NoError(t, err)
		return v
	}

	one := embed(1, 1)
	assert.Equal(t, int32(len(texts)), atomic.SwapInt32(&batches, 0))
	three := embed(3, 2)
	assert.Equal(t, int32(3), atomic.SwapInt32(&batches, 0))
	all := embed(100, 4)
	assert.Equal(t, int32(1), atomic.LoadInt32(&batches))

	assert.Equal(t, one, three)
	assert.Equal(t, one, all)

	for i, v := range all {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6, "vector %d", i)
	}
	// "a" 只有一个 token [1,1]，归一化后两维相等
	assert.InDelta(t, all[0][0], all[0][1], 1e-6)
	// 更长文本的均值在第一维更大
	assert.Greater(t, all[3][0], all[1][0])
}

func TestLocalEmbedProgress(t *testing.T) {
	var batches int32
	srv := teiServer(t, &batches)
	defer srv.Close()

	c, err := NewLocalClient(&config.LocalEmbeddingConfig{Endpoint: srv.URL, BatchSize: 2, Concurrency: 1})
	require.NoError(t, err)

	var reports [][2]int
	_, err = c.Embed(context.Background(), []string{"a", "b", "c", "d", "e"}, func(done, total int) {
		reports = append(reports, [2]int{done, total})
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, reports)
}

func TestLocalEmbedUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"model is loading","error_type":"Overloaded"}`))
	}))
	defer srv.Close()

	c, err := NewLocalClient(&config.LocalEmbeddingConfig{Endpoint: srv.URL + "/"})
	require.NoError(t, err)
	assert.NoError(t, c.CheckCredential(context.Background()))

	_, err = c.Embed(context.Background(), []string{"x"}, nil)
	var pe *retrieval.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
	assert.Equal(t, "model is loading", pe.Message)
}

func TestMeanPool(t *testing.T) {
	v, err := meanPool([][]float32{{3, 0}, {3, 8}})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	_, err = meanPool(nil)
	assert.Error(t, err)
	_, err = meanPool([][]float32{{1, 2}, {1}})
	assert.Error(t, err)
}

func TestUpstreamMessage(t *testing.T) {
	assert.Equal(t, "bad key", upstreamMessage([]byte(`{"error":{"message":"bad key"}}`), "401"))
	assert.Equal(t, "plain", upstreamMessage([]byte(`{"error":"plain"}`), "500"))
	assert.Equal(t, "oops", upstreamMessage([]byte("oops"), "500"))
	assert.Equal(t, "502 Bad Gateway", upstreamMessage([]byte(" "), "502 Bad Gateway"))
	assert.True(t, strings.Contains(upstreamMessage([]byte(`{"detail":"x"}`), "400"), "detail"))
}
