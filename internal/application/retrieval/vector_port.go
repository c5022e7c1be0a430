package retrieval

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// VectorStore 定义应用层对“向量存储/检索”的最小依赖（port）。
// 由基础设施层提供具体实现（内存快照库或 Milvus）。
type VectorStore interface {
	// Get 返回 id 对应的向量；不存在时返回 ErrNotFound。
	Get(ctx context.Context, id string) ([]float32, error)
	// Add 按 id 插入或覆盖。
	Add(ctx context.Context, entries []Entry) error
	// Entries 返回引用 sourceDocumentID 的全部条目（按 ID 排序）。
	Entries(ctx context.Context, sourceDocumentID string) ([]Entry, error)
	// Delete 删除引用 sourceDocumentID 的全部条目。
	Delete(ctx context.Context, sourceDocumentID string) error
	// Query 先按 DocIDs、再按 Filters 缩小候选，最后按 Mode 排序。
	// 候选不足 TopK 时返回全部候选，不报错。
	Query(ctx context.Context, q Query) ([]Hit, error)
	// Count 当前条目数。
	Count(ctx context.Context) (int, error)
}

// Entry 向量库条目。SourceDocumentID 为空时不建立反向映射，无法按来源删除。
type Entry struct {
	ID               string
	Embedding        []float32
	SourceDocumentID string
	Metadata         map[string]any
}

// Hit 查询命中。
type Hit struct {
	ID               string         `json:"id"`
	Score            float64        `json:"score"`
	SourceDocumentID string         `json:"source_document_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Query 向量查询参数。
type Query struct {
	Vector  []float32
	TopK    int
	Mode    Mode
	Filters []Filter
	// DocIDs 非空时只在这些条目 ID 中检索
	DocIDs []string
}

// FilterOp 元数据过滤操作。
type FilterOp string

const (
	FilterExact   FilterOp = "exact"
	FilterInArray FilterOp = "in"
)

// Filter 元数据谓词；同一查询中的多个谓词须同时满足。
type Filter struct {
	Key    string   `json:"key"`
	Op     FilterOp `json:"op"`
	Value  any      `json:"value,omitempty"`
	Values []any    `json:"values,omitempty"`
}

// ExactMatch 构造 {key, equals} 过滤器。
func ExactMatch(key string, value any) Filter {
	return Filter{Key: key, Op: FilterExact, Value: value}
}

// InArray 构造 {key, in-array} 过滤器；空集合不匹配任何条目。
func InArray(key string, values ...any) Filter {
	return Filter{Key: key, Op: FilterInArray, Values: values}
}

// InStrings InArray 的字符串便捷版本。
func InStrings(key string, values []string) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return InArray(key, vs...)
}

func (f Filter) Validate() error {
	if strings.TrimSpace(f.Key) == "" {
		return Invalid("filter key is required")
	}
	switch f.Op {
	case FilterExact, FilterInArray:
		return nil
	default:
		return Invalid("unknown filter op %q", f.Op)
	}
}

// Match 判断元数据是否满足谓词；缺失键视为不满足。
func (f Filter) Match(metadata map[string]any) bool {
	v, ok := metadata[f.Key]
	if !ok {
		return false
	}
	switch f.Op {
	case FilterExact:
		return valuesEqual(v, f.Value)
	case FilterInArray:
		for _, candidate := range f.Values {
			if valuesEqual(v, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// MatchAll 判断元数据是否满足全部谓词。
func MatchAll(filters []Filter, metadata map[string]any) bool {
	for _, f := range filters {
		if !f.Match(metadata) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ModeKind 排序模式的判别标签。
type ModeKind int

const (
	ModeDefault ModeKind = iota
	ModeMMR
	ModeLearner
)

// LearnerKind learner 模式下拟合的模型。
type LearnerKind string

const (
	LearnerLinear LearnerKind = "linear"
	LearnerSVM    LearnerKind = "svm"
)

const DefaultMMRLambda = 0.5

// Mode 排序模式：default（余弦 top-k）、mmr（多样性重排）、learner（拟合模型打分）。
type Mode struct {
	Kind ModeKind
	// Lambda 仅 MMR 使用，取值 [0,1]
	Lambda float64
	// Learner 仅 learner 模式使用
	Learner LearnerKind
}

func DefaultMode() Mode { return Mode{Kind: ModeDefault} }

func MMRMode(lambda float64) Mode { return Mode{Kind: ModeMMR, Lambda: lambda} }

func LearnerMode(kind LearnerKind) Mode { return Mode{Kind: ModeLearner, Learner: kind} }

// ParseMode 解析模式名：default | mmr | linear | svm。
func ParseMode(name string, lambda float64) (Mode, error) {
	var m Mode
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		m = DefaultMode()
	case "mmr":
		m = MMRMode(lambda)
	case "linear", "linear_regression":
		m = LearnerMode(LearnerLinear)
	case "svm":
		m = LearnerMode(LearnerSVM)
	default:
		return Mode{}, Invalid("unknown query mode %q", name)
	}
	if err := m.Validate(); err != nil {
		return Mode{}, err
	}
	return m, nil
}

func (m Mode) Validate() error {
	switch m.Kind {
	case ModeDefault:
		return nil
	case ModeMMR:
		if m.Lambda < 0 || m.Lambda > 1 {
			return Invalid("mmr lambda must be in [0, 1], got %v", m.Lambda)
		}
		return nil
	case ModeLearner:
		switch m.Learner {
		case LearnerLinear, LearnerSVM:
			return nil
		default:
			return Invalid("unknown learner %q", m.Learner)
		}
	default:
		return Invalid("unknown query mode kind %d", m.Kind)
	}
}

func (m Mode) String() string {
	switch m.Kind {
	case ModeDefault:
		return "default"
	case ModeMMR:
		return "mmr"
	case ModeLearner:
		return string(m.Learner)
	default:
		return fmt.Sprintf("mode(%d)", m.Kind)
	}
}

// Validate 校验查询参数。
func (q Query) Validate() error {
	if len(q.Vector) == 0 {
		return Invalid("query vector is empty")
	}
	if q.TopK <= 0 {
		return Invalid("top_k must be positive, got %d", q.TopK)
	}
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return q.Mode.Validate()
}

// VectorStores 每个 provider 一个向量库；不同 provider 的向量维度不同，不能混存。
type VectorStores map[Provider]VectorStore

// For 返回 provider 对应的向量库。
func (s VectorStores) For(p Provider) (VectorStore, error) {
	store, ok := s[p]
	if !ok || store == nil {
		return nil, ErrVectorDisabled
	}
	return store, nil
}

// EntriesEverywhere 收集来源文档在各向量库中的条目。
func (s VectorStores) EntriesEverywhere(ctx context.Context, sourceDocumentID string) (map[Provider][]Entry, error) {
	out := make(map[Provider][]Entry, len(s))
	for _, p := range []Provider{ProviderOpenAI, ProviderLocal} {
		store, ok := s[p]
		if !ok || store == nil {
			continue
		}
		entries, err := store.Entries(ctx, sourceDocumentID)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			out[p] = entries
		}
	}
	return out, nil
}

// DeleteEverywhere 从所有向量库中删除来源文档。
func (s VectorStores) DeleteEverywhere(ctx context.Context, sourceDocumentID string) error {
	for _, p := range []Provider{ProviderOpenAI, ProviderLocal} {
		store, ok := s[p]
		if !ok || store == nil {
			continue
		}
		if err := store.Delete(ctx, sourceDocumentID); err != nil {
			return err
		}
	}
	return nil
}
