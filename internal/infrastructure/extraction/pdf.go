package extraction

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"rag-retrieval-api/internal/application/retrieval"
)

// extractPDF 每个 PDF 页一页；不做 OCR，扫描件页会因无文本被剔除
func extractPDF(data []byte) (pages []retrieval.Page, err error) {
	// 解析器遇到损坏的交叉引用表会 panic
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, retrieval.Unsupported("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, retrieval.Unsupported("malformed pdf: %v", err)
	}

	total := reader.NumPage()
	pages = make([]retrieval.Page, 0, total)
	for i := 1; i <= total; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		pages = append(pages, retrieval.Page{
			Content: text,
			Metadata: map[string]any{
				"format": FormatPDF,
				"loc":    map[string]any{"pageNumber": i},
			},
		})
	}
	return pages, nil
}
