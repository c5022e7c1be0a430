package extraction

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"rag-retrieval-api/internal/application/retrieval"
)

// extractCSV 首行为表头，其余每行一页，内容为 "列名: 值" 逐行排列
func extractCSV(data []byte) ([]retrieval.Page, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader([]byte(text)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, retrieval.Unsupported("malformed csv header: %v", err)
	}

	var pages []retrieval.Page
	for row := 1; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, retrieval.Unsupported("malformed csv at row %d: %v", row, err)
		}
		var sb strings.Builder
		for i, value := range record {
			name := fmt.Sprintf("column_%d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
		}
		pages = append(pages, retrieval.Page{
			Content:  sb.String(),
			Metadata: map[string]any{"format": FormatCSV, "row": row},
		})
	}
	return pages, nil
}
