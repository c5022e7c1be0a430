package retrieval

import (
	"errors"
	"fmt"
)

var (
	// ErrVectorDisabled 表示向量检索/索引能力未配置（向量库或 Embedder 不可用）。
	ErrVectorDisabled = errors.New("vector retrieval is disabled")

	// ErrUnsupportedInput 文件格式或 provider 不受支持，在切分前拒绝。
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrMissingCredential provider 凭据缺失或无效，在 embedding 前拒绝且不重试。
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidInput 请求参数不合法。
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound 目标记录不存在。
	ErrNotFound = errors.New("not found")

	// ErrFileLocked 同一文件正在被其他写流程处理。
	ErrFileLocked = errors.New("file is locked by another writer")
)

// Unsupported 构造 ErrUnsupportedInput。
func Unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedInput, fmt.Sprintf(format, args...))
}

// Invalid 构造 ErrInvalidInput。
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ProviderError Embedding provider 返回的失败，保留上游状态码与消息。
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s embedding provider failed: status=%d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s embedding provider failed: %s", e.Provider, e.Message)
}

// PersistError 持久化写入失败（快照、数据库），与 provider 失败区分上报。
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Persist 包装持久化错误；err 为 nil 时返回 nil。
func Persist(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistError{Op: op, Err: err}
}
