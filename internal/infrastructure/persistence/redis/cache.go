package redis

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/pkg/logger"
)

var cacheTracer = otel.Tracer("redis.cache")

// QueryCache 查询向量缓存，值为 JSON 编码的 []float32
type QueryCache struct {
	client *Client
	group  singleflight.Group
}

var _ retrieval.QueryCache = (*QueryCache)(nil)

// NewQueryCache 创建查询向量缓存
func NewQueryCache(client *Client) *QueryCache {
	return &QueryCache{client: client}
}

// GetOrLoad Read-Through，并发未命中经 singleflight 合并为一次加载。
// 缓存读写失败只记录日志，不影响返回结果。
func (c *QueryCache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.GetOrLoad",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if v, ok := c.get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return v, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	result, err, shared := c.group.Do(key, func() (interface{}, error) {
		// 再次检查缓存（可能已被其他请求填充）
		if v, ok := c.get(ctx, key); ok {
			return v, nil
		}
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, v, ttl)
		return v, nil
	})
	span.SetAttributes(attribute.Bool("cache.shared", shared))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	v := result.([]float32)
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

func (c *QueryCache) get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !IsNil(err) {
			logger.Warn(ctx, "query cache read failed", "key", key, "error", err.Error())
		}
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil || len(v) == 0 {
		return nil, false
	}
	return v, true
}

func (c *QueryCache) set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		logger.Warn(ctx, "query cache write failed", "key", key, "error", err.Error())
	}
}
