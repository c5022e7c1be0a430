package retrieval

import "sort"

// DefaultCutoffRatio chunk 分数相对最佳分数的保留比例。
const DefaultCutoffRatio = 0.995

// Consolidation 汇总结果。
type Consolidation struct {
	Pages  []RetrievedPage
	Best   float64
	Cutoff float64
}

// Consolidate 保留分数 >= best*ratio 的 chunk，映射到来源页并按页去重。
// items 中 Similarity == -1 的行是候选整页，其余为 chunk 命中。
// 页按其最佳 chunk 的分数降序返回，Similarity 为该最佳分数。
// 没有正分 chunk 时返回空结果。
func Consolidate(items []MatchedItem, ratio float64) Consolidation {
	var (
		chunks []MatchedItem
		pages  = make(map[string]MatchedItem)
	)
	for _, it := range items {
		if it.IsPage() {
			if _, seen := pages[it.ID]; !seen {
				pages[it.ID] = it
			}
			continue
		}
		chunks = append(chunks, it)
	}

	out := Consolidation{Pages: []RetrievedPage{}}
	if len(chunks) == 0 {
		return out
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Similarity > chunks[j].Similarity
	})

	best := chunks[0].Similarity
	out.Best = best
	if best <= 0 {
		return out
	}
	cutoff := best * ratio
	out.Cutoff = cutoff

	seen := make(map[string]struct{})
	for _, ch := range chunks {
		if ch.Similarity < cutoff {
			break
		}
		if _, dup := seen[ch.Source]; dup {
			continue
		}
		page, ok := pages[ch.Source]
		if !ok {
			continue
		}
		seen[ch.Source] = struct{}{}
		out.Pages = append(out.Pages, RetrievedPage{
			ID:         page.ID,
			FileID:     page.FileID,
			Content:    page.Content,
			Similarity: ch.Similarity,
		})
	}
	return out
}
