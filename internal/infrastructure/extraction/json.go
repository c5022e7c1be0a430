package extraction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"rag-retrieval-api/internal/application/retrieval"
)

type jsonLeaf struct {
	Path string
	Text string
}

// extractJSON 顶层数组的每个元素、或顶层对象的每个键各成一页；
// 页内容为该子树全部叶子的 "JSON Pointer: 值" 行
func extractJSON(data []byte) ([]retrieval.Page, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, retrieval.Unsupported("malformed json: %v", err)
	}

	type part struct {
		pointer string
		value   any
	}
	var parts []part
	switch v := root.(type) {
	case []any:
		for i, el := range v {
			parts = append(parts, part{pointer: joinJSONPointer("", fmt.Sprintf("%d", i)), value: el})
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, part{pointer: joinJSONPointer("", k), value: v[k]})
		}
	default:
		parts = append(parts, part{pointer: "", value: v})
	}

	pages := make([]retrieval.Page, 0, len(parts))
	for _, p := range parts {
		var leaves []jsonLeaf
		collectJSONLeaves(p.value, p.pointer, &leaves)
		if len(leaves) == 0 {
			continue
		}
		lines := make([]string, len(leaves))
		for i, l := range leaves {
			lines[i] = l.Path + ": " + l.Text
		}
		pages = append(pages, retrieval.Page{
			Content:  strings.Join(lines, "\n"),
			Metadata: map[string]any{"format": FormatJSON, "pointer": normalizeJSONPointer(p.pointer)},
		})
	}
	return pages, nil
}

func collectJSONLeaves(v any, path string, out *[]jsonLeaf) {
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectJSONLeaves(vv[k], joinJSONPointer(path, k), out)
		}
	case []any:
		for idx := range vv {
			collectJSONLeaves(vv[idx], joinJSONPointer(path, fmt.Sprintf("%d", idx)), out)
		}
	case string:
		if s := strings.TrimSpace(vv); s != "" {
			*out = append(*out, jsonLeaf{Path: normalizeJSONPointer(path), Text: s})
		}
	case float64, bool:
		b, _ := json.Marshal(vv)
		*out = append(*out, jsonLeaf{Path: normalizeJSONPointer(path), Text: string(b)})
	}
}

func joinJSONPointer(base, token string) string {
	t := strings.ReplaceAll(token, "~", "~0")
	t = strings.ReplaceAll(t, "/", "~1")
	if strings.TrimSpace(base) == "" {
		return "/" + t
	}
	return base + "/" + t
}

func normalizeJSONPointer(p string) string {
	if strings.TrimSpace(p) == "" {
		return "/"
	}
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
