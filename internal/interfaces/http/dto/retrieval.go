// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"strings"

	"rag-retrieval-api/internal/application/retrieval"
)

// ProcessResponse 文档入库响应
type ProcessResponse struct {
	Message             string `json:"message"`
	DeterministicFileID string `json:"deterministic_file_id"`
	ChunkCount          int    `json:"chunk_count"`
	PageCount           int    `json:"page_count"`
	TotalTokens         int    `json:"total_tokens"`
}

// NewProcessResponse 由入库结果构造响应
func NewProcessResponse(out *retrieval.ProcessOutput) *ProcessResponse {
	return &ProcessResponse{
		Message:             "Embed Successful",
		DeterministicFileID: out.DeterministicFileID,
		ChunkCount:          out.ChunkCount,
		PageCount:           out.PageCount,
		TotalTokens:         out.TotalTokens,
	}
}

// ModeOptions 排序模式参数；mode 为空时使用服务端默认
type ModeOptions struct {
	Mode      string   `json:"mode,omitempty"`
	MMRLambda *float64 `json:"mmr_lambda,omitempty"`
	Learner   string   `json:"learner,omitempty"`
}

// ToMode 解析为检索模式；未指定时返回 nil
func (o ModeOptions) ToMode(defaultLambda float64) (*retrieval.Mode, error) {
	name := strings.ToLower(strings.TrimSpace(o.Mode))
	if name == "" {
		if o.Learner == "" {
			return nil, nil
		}
		name = "learner"
	}
	if name == "learner" {
		name = strings.ToLower(strings.TrimSpace(o.Learner))
		if name == "" {
			return nil, retrieval.Invalid("learner is required for learner mode")
		}
	}
	lambda := defaultLambda
	if o.MMRLambda != nil {
		lambda = *o.MMRLambda
	}
	m, err := retrieval.ParseMode(name, lambda)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RetrieveRequest 检索请求
type RetrieveRequest struct {
	UserInput          string   `json:"user_input" binding:"required,max=20000"`
	FileIDs            []string `json:"file_ids"`
	EmbeddingsProvider string   `json:"embeddings_provider" binding:"required"`
	SourceCount        int      `json:"source_count,omitempty" binding:"omitempty,min=0"`
	ModeOptions
}

// RetrieveResponse 检索响应
type RetrieveResponse struct {
	Results []retrieval.RetrievedPage `json:"results"`
}

// NewRetrieveResponse 由检索结果构造响应；无结果时返回空数组
func NewRetrieveResponse(out *retrieval.RetrieveOutput) *RetrieveResponse {
	results := out.Results
	if results == nil {
		results = []retrieval.RetrievedPage{}
	}
	return &RetrieveResponse{Results: results}
}

// FilterRequest 元数据过滤条件
type FilterRequest struct {
	Key    string `json:"key" binding:"required"`
	Op     string `json:"op,omitempty"`
	Value  any    `json:"value,omitempty"`
	Values []any  `json:"values,omitempty"`
}

// DebugRequest 调试检索请求
type DebugRequest struct {
	Query              string          `json:"query" binding:"required,max=20000"`
	EmbeddingsProvider string          `json:"embeddings_provider" binding:"required"`
	TopK               int             `json:"top_k,omitempty" binding:"omitempty,min=1,max=1000"`
	Filters            []FilterRequest `json:"filters,omitempty"`
	DocIDs             []string        `json:"doc_ids,omitempty"`
	ModeOptions
}

// ToFilters 转换为领域过滤器；op 缺省为 exact
func (r *DebugRequest) ToFilters() ([]retrieval.Filter, error) {
	if len(r.Filters) == 0 {
		return nil, nil
	}
	out := make([]retrieval.Filter, 0, len(r.Filters))
	for _, f := range r.Filters {
		switch retrieval.FilterOp(strings.ToLower(f.Op)) {
		case "", retrieval.FilterExact:
			out = append(out, retrieval.ExactMatch(f.Key, f.Value))
		case retrieval.FilterInArray:
			out = append(out, retrieval.InArray(f.Key, f.Values...))
		default:
			return nil, retrieval.Invalid("unknown filter op %q", f.Op)
		}
	}
	return out, nil
}

// DebugInfo 调试统计
type DebugInfo struct {
	EmbedTimeMs int64   `json:"embed_time_ms"`
	QueryTimeMs int64   `json:"query_time_ms"`
	RawHits     int     `json:"raw_hits"`
	BestScore   float64 `json:"best_score"`
	CutoffScore float64 `json:"cutoff_score"`
	Mode        string  `json:"mode"`
}

// DebugResponse 调试检索响应
type DebugResponse struct {
	Hits    []retrieval.Hit           `json:"hits"`
	Results []retrieval.RetrievedPage `json:"results"`
	Debug   DebugInfo                 `json:"debug"`
}

// NewDebugResponse 由调试结果构造响应
func NewDebugResponse(out *retrieval.DebugOutput) *DebugResponse {
	resp := &DebugResponse{
		Hits:    out.Hits,
		Results: out.Results,
		Debug: DebugInfo{
			EmbedTimeMs: out.Debug.EmbedTimeMs,
			QueryTimeMs: out.Debug.QueryTimeMs,
			RawHits:     out.Debug.RawHits,
			BestScore:   out.Debug.BestScore,
			CutoffScore: out.Debug.CutoffScore,
			Mode:        out.Debug.Mode,
		},
	}
	if resp.Hits == nil {
		resp.Hits = []retrieval.Hit{}
	}
	if resp.Results == nil {
		resp.Results = []retrieval.RetrievedPage{}
	}
	return resp
}

// ReindexRequest 重建索引请求
type ReindexRequest struct {
	EmbeddingsProvider string `json:"embeddings_provider" binding:"required"`
}

// JobAcceptedResponse 异步任务受理响应
type JobAcceptedResponse struct {
	JobID  string `json:"job_id"`
	FileID string `json:"file_id"`
	Status string `json:"status"`
}
