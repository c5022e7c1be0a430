package handler

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/internal/interfaces/http/dto"
	"rag-retrieval-api/pkg/errors"
	"rag-retrieval-api/pkg/logger"
)

// toAppError 把领域错误映射为带 HTTP 状态的 AppError
func toAppError(err error) *errors.AppError {
	if errors.IsAppError(err) {
		return errors.AsAppError(err)
	}

	var providerErr *retrieval.ProviderError
	var persistErr *retrieval.PersistError
	switch {
	case stderrors.As(err, &providerErr):
		appErr := errors.Wrap(err, errors.CodeProviderFailure, providerErr.Message)
		if providerErr.StatusCode >= 400 {
			appErr.WithStatus(providerErr.StatusCode)
		}
		return appErr
	case stderrors.Is(err, retrieval.ErrUnsupportedInput):
		return errors.Wrap(err, errors.CodeUnsupportedInput, err.Error())
	case stderrors.Is(err, retrieval.ErrMissingCredential):
		return errors.Wrap(err, errors.CodeMissingCredential, err.Error())
	case stderrors.Is(err, retrieval.ErrInvalidInput):
		return errors.Wrap(err, errors.CodeInvalidParam, err.Error())
	case stderrors.Is(err, retrieval.ErrNotFound):
		return errors.Wrap(err, errors.CodeFileNotFound, "file not found")
	case stderrors.Is(err, retrieval.ErrFileLocked):
		return errors.Wrap(err, errors.CodeConflict, "file is being processed, retry later")
	case stderrors.Is(err, retrieval.ErrVectorDisabled):
		return errors.Wrap(err, errors.CodeServiceUnavailable, "vector retrieval is not configured")
	case stderrors.As(err, &persistErr):
		return errors.Wrap(err, errors.CodeStoreIOError, "failed to persist "+persistErr.Op)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.CodeServiceUnavailable, "request timed out").WithStatus(http.StatusGatewayTimeout)
	default:
		return errors.Wrap(err, errors.CodeInternalError, "internal server error")
	}
}

// respondError 记录并输出错误响应；5xx 记 Error，其余记 Warn
func respondError(c *gin.Context, op string, err error) {
	appErr := toAppError(err)
	ctx := c.Request.Context()
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Error(ctx, op+" failed", err, "code", string(appErr.Code))
	} else {
		logger.Warn(ctx, op+" rejected", "code", string(appErr.Code), "error", err.Error())
	}

	dto.ErrorWithDetail(c, appErr.HTTPStatus, appErr.Message, &dto.ErrorDetail{
		ErrorCode: string(appErr.Code),
	})
}

// currentUser 认证中间件写入的用户标识
func currentUser(c *gin.Context) string {
	return c.GetString("user_id")
}
