package milvus

import (
	"fmt"
	"strconv"
	"strings"

	"rag-retrieval-api/internal/application/retrieval"
)

// buildExpr 把 DocIDs 与元数据过滤器下推为 Milvus 布尔表达式。
// 无法表达的字面量不下推，residual 为 true 时调用方须在结果上再次过滤；
// empty 为 true 表示结果必为空。
func buildExpr(q retrieval.Query) (expr string, residual, empty bool) {
	var parts []string

	if len(q.DocIDs) > 0 {
		parts = append(parts, fieldID+" in "+stringList(dedupe(q.DocIDs)))
	}

	for _, f := range q.Filters {
		path := fmt.Sprintf("%s[%s]", fieldMetadata, strconv.Quote(f.Key))
		switch f.Op {
		case retrieval.FilterExact:
			if lit, ok := literal(f.Value); ok {
				parts = append(parts, path+" == "+lit)
			} else {
				residual = true
			}
		case retrieval.FilterInArray:
			if len(f.Values) == 0 {
				return "", false, true
			}
			lits := make([]string, 0, len(f.Values))
			pushable := true
			for _, v := range f.Values {
				lit, ok := literal(v)
				if !ok {
					pushable = false
					break
				}
				lits = append(lits, lit)
			}
			if pushable {
				parts = append(parts, path+" in ["+strings.Join(lits, ", ")+"]")
			} else {
				residual = true
			}
		default:
			residual = true
		}
	}
	return strings.Join(parts, " && "), residual, false
}

// searchLimit 返回 Search 的召回数量。重排模式或存在未下推的过滤器时
// 召回整个候选池，否则只取 TopK。
func searchLimit(q retrieval.Query, residual bool, pool int) int {
	if q.Mode.Kind == retrieval.ModeDefault && !residual {
		return q.TopK
	}
	if pool <= 0 {
		pool = defaultRerankPool
	}
	return max(pool, q.TopK)
}

func literal(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	default:
		return "", false
	}
}

func stringList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
