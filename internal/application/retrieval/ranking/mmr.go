package ranking

import "math"

// MMR 最大边际相关性选择：每一步选取使
// lambda*sim(query, c) - (1-lambda)*max(sim(c, s) for s in selected) 最大的候选。
// 结果按选择顺序返回，Score 为选中时的 MMR 分数；lambda=1 时与 TopK 结果一致。
func MMR(query []float32, candidates []Candidate, k int, lambda float64) []Scored {
	cands := sortedByID(candidates)
	if k > len(cands) {
		k = len(cands)
	}
	if k <= 0 {
		return []Scored{}
	}

	relevance := make([]float64, len(cands))
	for i, c := range cands {
		relevance[i] = Cosine(query, c.Vector)
	}
	// maxOverlap[i] 为候选 i 与已选集合的最大相似度
	maxOverlap := make([]float64, len(cands))
	for i := range maxOverlap {
		maxOverlap[i] = math.Inf(-1)
	}
	selected := make([]bool, len(cands))

	out := make([]Scored, 0, k)
	for len(out) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range cands {
			if selected[i] {
				continue
			}
			score := lambda * relevance[i]
			if len(out) > 0 {
				score -= (1 - lambda) * maxOverlap[i]
			}
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}
		selected[best] = true
		out = append(out, Scored{ID: cands[best].ID, Score: bestScore})

		for i := range cands {
			if selected[i] {
				continue
			}
			if sim := Cosine(cands[i].Vector, cands[best].Vector); sim > maxOverlap[i] {
				maxOverlap[i] = sim
			}
		}
	}
	return out
}
