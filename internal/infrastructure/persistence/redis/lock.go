package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/pkg/logger"
)

const defaultLockTTL = 10 * time.Minute

// releaseScript 仅当 token 匹配时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// FileLocker 基于 SET NX PX 的文件级写锁
type FileLocker struct {
	client *Client
	ttl    time.Duration
}

var _ retrieval.FileLocker = (*FileLocker)(nil)

// NewFileLocker 创建文件锁
func NewFileLocker(client *Client) *FileLocker {
	ttl := client.config.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &FileLocker{client: client, ttl: ttl}
}

// BuildFileLockKey 构建文件锁键
func BuildFileLockKey(fileID string) string {
	return fmt.Sprintf("rag:lock:file:%s", fileID)
}

// Acquire 获取文件锁；已被占用返回 retrieval.ErrFileLocked
func (l *FileLocker) Acquire(ctx context.Context, fileID string) (func(context.Context) error, error) {
	ctx, span := tracer.Start(ctx, "redis.FileLocker.Acquire")
	span.SetAttributes(attribute.String("file.id", fileID))
	defer span.End()

	key := BuildFileLockKey(fileID)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	if !ok {
		span.SetAttributes(attribute.Bool("lock.acquired", false))
		return nil, retrieval.ErrFileLocked
	}
	span.SetAttributes(attribute.Bool("lock.acquired", true))

	var once sync.Once
	release := func(ctx context.Context) error {
		var rerr error
		once.Do(func() {
			n, err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Int()
			if err != nil {
				rerr = fmt.Errorf("failed to release file lock: %w", err)
				return
			}
			if n == 0 {
				logger.Warn(ctx, "file lock expired before release", "file_id", fileID)
			}
		})
		return rerr
	}
	return release, nil
}
