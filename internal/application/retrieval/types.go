package retrieval

// Page 文档中的一个逻辑单元（PDF 页、CSV 行、Markdown 段等），生成后不可变。
type Page struct {
	ID               string
	Content          string
	Metadata         map[string]any
	SourceDocumentID string
}

// Chunk 页内按 token 切出的窗口。
type Chunk struct {
	ID         string
	Content    string
	TokenCount int
	// SourceRef 来源页 ID
	SourceRef string
	// PageIndex 来源页在输入中的下标
	PageIndex int
	// NextIndex 链上下一个 chunk 在 ChunkChain.Chunks 中的下标，-1 表示链尾
	NextIndex int
	// NextRef 链上下一个 chunk 的 ID，空串表示链尾
	NextRef string
}

// ChunkChain 一次切分产生的 chunk 链，按文档顺序存放。
type ChunkChain struct {
	Chunks []Chunk
}

func (c ChunkChain) Len() int { return len(c.Chunks) }

// Head 返回链头下标；空链返回 -1。
func (c ChunkChain) Head() int {
	if len(c.Chunks) == 0 {
		return -1
	}
	return 0
}

// Walk 沿 NextIndex 遍历整条链。
func (c ChunkChain) Walk(fn func(idx int, ch Chunk) bool) {
	for i := c.Head(); i >= 0; i = c.Chunks[i].NextIndex {
		if !fn(i, c.Chunks[i]) {
			return
		}
	}
}

func (c ChunkChain) TotalTokens() int {
	total := 0
	for _, ch := range c.Chunks {
		total += ch.TokenCount
	}
	return total
}

// Contents 按链顺序返回 chunk 文本。
func (c ChunkChain) Contents() []string {
	out := make([]string, 0, len(c.Chunks))
	c.Walk(func(_ int, ch Chunk) bool {
		out = append(out, ch.Content)
		return true
	})
	return out
}

// ItemKind 区分 chunk 条目与整页条目。
type ItemKind string

const (
	ItemKindChunk ItemKind = "chunk"
	ItemKindPage  ItemKind = "page"
)

// PageSentinelSimilarity 整页条目在相似度检索结果中的标记分数。
const PageSentinelSimilarity = -1.0

// MatchedItem 相似度检索返回的一行：chunk 命中带真实分数，整页条目带 -1 标记。
type MatchedItem struct {
	ID         string
	FileID     string
	Source     string
	Content    string
	Similarity float64
}

// IsPage 是否为整页条目。
func (m MatchedItem) IsPage() bool {
	return m.Similarity == PageSentinelSimilarity
}

// ProcessInput 文档入库请求。
type ProcessInput struct {
	UserID   string
	FileID   string
	FileName string
	Format   string
	Data     []byte
	Provider Provider
}

// ProcessOutput 文档入库结果。
type ProcessOutput struct {
	DeterministicFileID string
	ChunkCount          int
	PageCount           int
	TotalTokens         int
}

// RetrieveInput 检索请求。
type RetrieveInput struct {
	UserID      string
	Query       string
	FileIDs     []string
	Provider    Provider
	SourceCount int
	// Mode 为零值时使用配置的默认模式
	Mode *Mode
}

// RetrievedPage 检索返回给调用方的页。
type RetrievedPage struct {
	ID         string  `json:"id"`
	FileID     string  `json:"file_id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// RetrieveOutput 检索结果。
type RetrieveOutput struct {
	Results []RetrievedPage
}

// DebugInput 直接查询向量库的调试请求。
type DebugInput struct {
	UserID   string
	Query    string
	Provider Provider
	TopK     int
	Mode     Mode
	Filters  []Filter
	DocIDs   []string
}

// DebugInfo 调试检索的耗时与分数统计。
type DebugInfo struct {
	EmbedTimeMs int64
	QueryTimeMs int64
	RawHits     int
	BestScore   float64
	CutoffScore float64
	Mode        string
}

// DebugOutput 调试检索结果。
type DebugOutput struct {
	Hits    []Hit
	Results []RetrievedPage
	Debug   DebugInfo
}
