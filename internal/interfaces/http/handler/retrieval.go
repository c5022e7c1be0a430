// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/internal/interfaces/http/dto"
	"rag-retrieval-api/pkg/logger"
)

const defaultMaxUploadSize int64 = 32 << 20

// FileIndexer 写路径：入库与删除
type FileIndexer interface {
	Process(ctx context.Context, in retrieval.ProcessInput) (*retrieval.ProcessOutput, error)
	DeleteFile(ctx context.Context, userID, fileID string) error
}

// Retriever 读路径：检索与调试
type Retriever interface {
	Retrieve(ctx context.Context, in retrieval.RetrieveInput) (*retrieval.RetrieveOutput, error)
	Debug(ctx context.Context, in retrieval.DebugInput) (*retrieval.DebugOutput, error)
}

// RetrievalHandlerConfig 处理器参数
type RetrievalHandlerConfig struct {
	MaxUploadSize int64
	DefaultMode   retrieval.Mode
	// MMRLambda 请求未给出 mmr_lambda 时使用；nil 取 0.5，0 表示只看多样性
	MMRLambda *float64
}

// RetrievalHandler 检索处理器
type RetrievalHandler struct {
	indexer   FileIndexer
	retriever Retriever
	jobs      retrieval.JobPublisher
	cfg       RetrievalHandlerConfig
	mmrLambda float64
}

// NewRetrievalHandler 创建检索处理器；jobs 为 nil 时异步任务接口返回 503
func NewRetrievalHandler(indexer FileIndexer, retriever Retriever, jobs retrieval.JobPublisher, cfg RetrievalHandlerConfig) *RetrievalHandler {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaultMaxUploadSize
	}
	lambda := 0.5
	if cfg.MMRLambda != nil {
		lambda = *cfg.MMRLambda
	}
	return &RetrievalHandler{
		indexer:   indexer,
		retriever: retriever,
		jobs:      jobs,
		cfg:       cfg,
		mmrLambda: lambda,
	}
}

// Process 上传并入库文档
// @Summary 文档入库
// @Description 上传文件，抽取页、切分、向量化并写入向量库与文件条目
// @Tags Retrieval
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "文档（csv/json/md/pdf/txt）"
// @Param file_id formData string true "文件 ID（uuid）"
// @Param embeddings_provider formData string true "openai | local"
// @Success 200 {object} dto.ProcessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 413 {object} dto.ErrorResponse
// @Router /v1/retrieval/process [post]
func (h *RetrievalHandler) Process(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadSize)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			dto.Error(c, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
			return
		}
		dto.BadRequest(c, "file is required")
		return
	}

	provider, err := retrieval.ParseProvider(c.PostForm("embeddings_provider"))
	if err != nil {
		respondError(c, "process", err)
		return
	}
	fileID := strings.TrimSpace(c.PostForm("file_id"))
	if _, err := uuid.Parse(fileID); err != nil {
		dto.BadRequest(c, "file_id must be a uuid")
		return
	}

	f, err := header.Open()
	if err != nil {
		dto.BadRequest(c, "failed to open uploaded file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		dto.BadRequest(c, "failed to read uploaded file")
		return
	}

	ctx := logger.WithContext(c.Request.Context(), logger.FileIDKey, fileID)
	out, err := h.indexer.Process(ctx, retrieval.ProcessInput{
		UserID:   currentUser(c),
		FileID:   fileID,
		FileName: header.Filename,
		Format:   retrieval.FormatFromName(header.Filename),
		Data:     data,
		Provider: provider,
	})
	if err != nil {
		respondError(c, "process", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewProcessResponse(out))
}

// Retrieve 检索相关页
// @Summary 检索
// @Description 向量化问题，检索相关 chunk 并汇总为整页
// @Tags Retrieval
// @Accept json
// @Produce json
// @Param body body dto.RetrieveRequest true "检索请求"
// @Success 200 {object} dto.RetrieveResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /v1/retrieval/retrieve [post]
func (h *RetrievalHandler) Retrieve(c *gin.Context) {
	var req dto.RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	provider, err := retrieval.ParseProvider(req.EmbeddingsProvider)
	if err != nil {
		respondError(c, "retrieve", err)
		return
	}
	mode, err := req.ToMode(h.mmrLambda)
	if err != nil {
		respondError(c, "retrieve", err)
		return
	}

	out, err := h.retriever.Retrieve(c.Request.Context(), retrieval.RetrieveInput{
		UserID:      currentUser(c),
		Query:       req.UserInput,
		FileIDs:     req.FileIDs,
		Provider:    provider,
		SourceCount: req.SourceCount,
		Mode:        mode,
	})
	if err != nil {
		respondError(c, "retrieve", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewRetrieveResponse(out))
}

// Debug 调试检索
// @Summary 调试检索
// @Description 直接查询向量库，返回原始命中、汇总结果与耗时
// @Tags Retrieval
// @Accept json
// @Produce json
// @Param body body dto.DebugRequest true "调试检索请求"
// @Success 200 {object} dto.Response[dto.DebugResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/retrieval/debug [post]
func (h *RetrievalHandler) Debug(c *gin.Context) {
	var req dto.DebugRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	provider, err := retrieval.ParseProvider(req.EmbeddingsProvider)
	if err != nil {
		respondError(c, "debug retrieval", err)
		return
	}
	mode, err := req.ToMode(h.mmrLambda)
	if err != nil {
		respondError(c, "debug retrieval", err)
		return
	}
	if mode == nil {
		mode = &h.cfg.DefaultMode
	}
	filters, err := req.ToFilters()
	if err != nil {
		respondError(c, "debug retrieval", err)
		return
	}

	out, err := h.retriever.Debug(c.Request.Context(), retrieval.DebugInput{
		UserID:   currentUser(c),
		Query:    req.Query,
		Provider: provider,
		TopK:     req.TopK,
		Mode:     *mode,
		Filters:  filters,
		DocIDs:   req.DocIDs,
	})
	if err != nil {
		respondError(c, "debug retrieval", err)
		return
	}

	dto.Success(c, dto.NewDebugResponse(out))
}

// Reindex 提交重建索引任务
// @Summary 重建索引
// @Description 用已入库的整页内容异步重建 chunk 与向量
// @Tags Retrieval
// @Accept json
// @Produce json
// @Param fid path string true "文件 ID"
// @Param body body dto.ReindexRequest true "重建请求"
// @Success 202 {object} dto.Response[dto.JobAcceptedResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/retrieval/files/{fid}/reindex [post]
func (h *RetrievalHandler) Reindex(c *gin.Context) {
	fileID := c.Param("fid")
	if _, err := uuid.Parse(fileID); err != nil {
		dto.BadRequest(c, "file_id must be a uuid")
		return
	}

	var req dto.ReindexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	provider, err := retrieval.ParseProvider(req.EmbeddingsProvider)
	if err != nil {
		respondError(c, "reindex", err)
		return
	}

	if h.jobs == nil {
		dto.ServiceUnavailable(c, "job queue is not configured")
		return
	}

	ctx := logger.WithContext(c.Request.Context(), logger.FileIDKey, fileID)
	jobID, err := h.jobs.PublishReindex(ctx, currentUser(c), fileID, provider)
	if err != nil {
		respondError(c, "reindex", err)
		return
	}

	logger.Info(ctx, "reindex job queued", "job_id", jobID, "provider", provider)
	dto.Accepted(c, dto.JobAcceptedResponse{
		JobID:  jobID,
		FileID: fileID,
		Status: "queued",
	})
}

// DeleteFile 删除文件的向量与条目；async=true 时投递删除任务
// @Summary 删除文件
// @Tags Retrieval
// @Param fid path string true "文件 ID"
// @Param async query bool false "异步删除"
// @Success 204
// @Success 202 {object} dto.Response[dto.JobAcceptedResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/retrieval/files/{fid} [delete]
func (h *RetrievalHandler) DeleteFile(c *gin.Context) {
	fileID := c.Param("fid")
	ctx := logger.WithContext(c.Request.Context(), logger.FileIDKey, fileID)

	if c.Query("async") == "true" {
		if _, err := uuid.Parse(fileID); err != nil {
			dto.BadRequest(c, "file_id must be a uuid")
			return
		}
		if h.jobs == nil {
			dto.ServiceUnavailable(c, "job queue is not configured")
			return
		}
		jobID, err := h.jobs.PublishDelete(ctx, currentUser(c), fileID)
		if err != nil {
			respondError(c, "delete file", err)
			return
		}
		logger.Info(ctx, "delete job queued", "job_id", jobID)
		dto.Accepted(c, dto.JobAcceptedResponse{JobID: jobID, FileID: fileID, Status: "queued"})
		return
	}

	if err := h.indexer.DeleteFile(ctx, currentUser(c), fileID); err != nil {
		respondError(c, "delete file", err)
		return
	}

	dto.NoContent(c)
}
