// Package ranking 提供向量候选集的排序算法：余弦 top-k、MMR 与 learner。
package ranking

import (
	"math"
	"sort"
)

// Candidate 待排序的候选向量。
type Candidate struct {
	ID     string
	Vector []float32
}

// Scored 排序结果。
type Scored struct {
	ID    string
	Score float64
}

// Cosine 余弦相似度；维度不一致或任一向量为零向量时返回 0。
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TopK 按余弦相似度降序返回前 k 个；分数相同按 ID 升序。
func TopK(query []float32, candidates []Candidate, k int) []Scored {
	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = Scored{ID: c.ID, Score: Cosine(query, c.Vector)}
	}
	return takeTop(scored, k)
}

func takeTop(scored []Scored, k int) []Scored {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if k >= 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func sortedByID(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
