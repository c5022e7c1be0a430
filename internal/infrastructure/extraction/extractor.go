// Package extraction 把上传文件按格式拆成页
package extraction

import (
	"context"
	"strings"
	"unicode/utf8"

	"rag-retrieval-api/internal/application/retrieval"
)

// 支持的文件格式
const (
	FormatCSV      = "csv"
	FormatJSON     = "json"
	FormatMarkdown = "md"
	FormatPDF      = "pdf"
	FormatText     = "txt"
)

type extractFunc func(data []byte) ([]retrieval.Page, error)

// Extractor 按扩展名分发到具体格式的拆页实现
type Extractor struct {
	byFormat map[string]extractFunc
}

var _ retrieval.Extractor = (*Extractor)(nil)

// New 创建支持 csv/json/md/pdf/txt 的 Extractor
func New() *Extractor {
	return &Extractor{
		byFormat: map[string]extractFunc{
			FormatCSV:      extractCSV,
			FormatJSON:     extractJSON,
			FormatMarkdown: extractMarkdown,
			FormatPDF:      extractPDF,
			FormatText:     extractText,
		},
	}
}

func (e *Extractor) Supports(format string) bool {
	_, ok := e.byFormat[normalizeFormat(format)]
	return ok
}

// Extract 返回按文档顺序排列的页；空白页已被剔除
func (e *Extractor) Extract(ctx context.Context, format string, data []byte) ([]retrieval.Page, error) {
	fn, ok := e.byFormat[normalizeFormat(format)]
	if !ok {
		return nil, retrieval.Unsupported("file type %q", format)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages, err := fn(data)
	if err != nil {
		return nil, err
	}
	out := pages[:0]
	for _, p := range pages {
		if strings.TrimSpace(p.Content) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func normalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

// decodeText 校验 UTF-8 并去掉 BOM
func decodeText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", retrieval.Unsupported("file is not valid UTF-8 text")
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}

func extractText(data []byte) ([]retrieval.Page, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	return []retrieval.Page{{Content: text, Metadata: map[string]any{"format": FormatText}}}, nil
}
