// Package embedding 提供 Embedding 服务客户端
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/pkg/metrics"
	"rag-retrieval-api/pkg/tracer"
)

const maxErrorBody = 4 << 10

// httpTransport 两个 provider 共用的 JSON-over-HTTP 调用
type httpTransport struct {
	provider   retrieval.Provider
	httpClient *http.Client
}

func newTransport(provider retrieval.Provider, timeout time.Duration) httpTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return httpTransport{
		provider:   provider,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// postJSON 发送请求并把响应解码到 out。非 2xx 响应转为 ProviderError，保留上游状态码与消息。
func (t httpTransport) postJSON(ctx context.Context, url string, headers map[string]string, in, out any) (err error) {
	ctx, span := tracer.Start(ctx, "embedding.request")
	span.SetAttributes(attribute.String("embedding.provider", string(t.provider)))
	defer span.End()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
		}
		metrics.EmbeddingBatchesTotal.WithLabelValues(string(t.provider), status).Inc()
	}()

	reqBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return &retrieval.ProviderError{Provider: t.provider, Message: fmt.Sprintf("embedding request failed: %v", err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return &retrieval.ProviderError{
			Provider:   t.provider,
			StatusCode: httpResp.StatusCode,
			Message:    upstreamMessage(body, httpResp.Status),
		}
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return &retrieval.ProviderError{Provider: t.provider, Message: fmt.Sprintf("failed to decode embed response: %v", err)}
	}
	return nil
}

// upstreamMessage 优先取 {"error":{"message":...}} 或 {"error":"..."}，否则返回原始响应体。
func upstreamMessage(body []byte, fallback string) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && len(envelope.Error) > 0 {
		var detail struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &detail) == nil && detail.Message != "" {
			return detail.Message
		}
		var s string
		if json.Unmarshal(envelope.Error, &s) == nil && s != "" {
			return s
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return fallback
}
