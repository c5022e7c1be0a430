package retrieval

import (
	"context"
	"time"
)

// Extractor 把原始字节按格式拆成页（port）。未知格式返回 ErrUnsupportedInput。
type Extractor interface {
	Supports(format string) bool
	Extract(ctx context.Context, format string, data []byte) ([]Page, error)
}

// FileLocker 文件级写锁，串行化同一文件的入库/重建/删除。
type FileLocker interface {
	// Acquire 获取锁；被占用时返回 ErrFileLocked。返回的 release 可重复调用。
	Acquire(ctx context.Context, fileID string) (release func(context.Context) error, err error)
}

// QueryCache 查询向量缓存。
type QueryCache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) ([]float32, error)) ([]float32, error)
}

// JobPublisher 投递异步文件任务。
type JobPublisher interface {
	PublishReindex(ctx context.Context, userID, fileID string, provider Provider) (string, error)
	PublishDelete(ctx context.Context, userID, fileID string) (string, error)
}

// noopLocker 未配置锁时使用的进程内实现。
type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
