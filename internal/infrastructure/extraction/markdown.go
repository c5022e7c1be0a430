package extraction

import (
	"regexp"
	"strings"

	"rag-retrieval-api/internal/application/retrieval"
)

var (
	headingLine = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*\s*$`)
	fenceLine   = regexp.MustCompile("^\\s*(```|~~~)")
)

// extractMarkdown 每个标题开启新的一页；围栏代码块内的 # 不视为标题
func extractMarkdown(data []byte) ([]retrieval.Page, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	var (
		pages   []retrieval.Page
		buf     []string
		heading string
		inFence bool
	)
	flush := func() {
		content := strings.TrimSpace(strings.Join(buf, "\n"))
		if content != "" {
			meta := map[string]any{"format": FormatMarkdown, "section": len(pages)}
			if heading != "" {
				meta["heading"] = heading
			}
			pages = append(pages, retrieval.Page{Content: content, Metadata: meta})
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if fenceLine.MatchString(line) {
			inFence = !inFence
		}
		if !inFence {
			if m := headingLine.FindStringSubmatch(line); m != nil {
				flush()
				heading = m[1]
			}
		}
		buf = append(buf, line)
	}
	flush()
	return pages, nil
}
