// Package vectorstore 提供进程内向量库及其快照持久化
package vectorstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"rag-retrieval-api/internal/config"
)

// SnapshotFileName 每个向量库快照的文件名
const SnapshotFileName = "vector_store.json"

// ErrSnapshotNotFound 快照尚不存在
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStorage 快照的读写介质
type SnapshotStorage interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	// Kind 用于指标标签：file | s3
	Kind() string
	String() string
}

// OpenStorage 根据 location 选择介质；location 为基础目录，快照位于 <location>/<name>/vector_store.json。
// 支持 file:///abs/dir、相对或绝对路径，以及 s3://bucket/prefix。
func OpenStorage(ctx context.Context, location, name string, s3cfg *config.S3Config) (SnapshotStorage, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("snapshot location is empty")
	}
	if !strings.Contains(location, "://") {
		return NewFileStorage(filepath.Join(location, name, SnapshotFileName)), nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot location %q: %w", location, err)
	}
	switch u.Scheme {
	case "file":
		dir := u.Path
		if u.Host != "" {
			dir = filepath.Join(u.Host, u.Path)
		}
		return NewFileStorage(filepath.Join(dir, name, SnapshotFileName)), nil
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("snapshot location %q has no bucket", location)
		}
		client, err := NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		key := path.Join(strings.TrimPrefix(u.Path, "/"), name, SnapshotFileName)
		return NewS3Storage(client, u.Host, key), nil
	default:
		return nil, fmt.Errorf("unsupported snapshot scheme %q", u.Scheme)
	}
}

// FileStorage 本地文件快照，先写临时文件再原子重命名
type FileStorage struct {
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (s *FileStorage) Kind() string { return "file" }

func (s *FileStorage) String() string { return "file://" + s.path }

func (s *FileStorage) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	return data, err
}

func (s *FileStorage) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".vector_store-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// S3API S3Storage 依赖的最小客户端接口
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client 按配置创建 S3 客户端；Endpoint 非空时指向 MinIO/LocalStack 等兼容服务
func NewS3Client(ctx context.Context, cfg *config.S3Config) (*s3.Client, error) {
	if cfg == nil {
		cfg = &config.S3Config{}
	}
	var options []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		options = append(options, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Storage 对象存储快照，单对象整体覆盖写
type S3Storage struct {
	client S3API
	bucket string
	key    string
}

func NewS3Storage(client S3API, bucket, key string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket, key: key}
}

func (s *S3Storage) Kind() string { return "s3" }

func (s *S3Storage) String() string { return "s3://" + s.bucket + "/" + s.key }

func (s *S3Storage) Load(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot object: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Storage) Save(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put snapshot object: %w", err)
	}
	return nil
}
