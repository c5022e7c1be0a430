package ranking

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	// ridgeAlpha 岭回归正则系数
	ridgeAlpha = 1.0
	// svmC 线性 SVM 的软间隔系数
	svmC = 0.1
	// svmEpochs Pegasos 遍历数据集的轮数
	svmEpochs = 50
	// svmMaxSteps Pegasos 总迭代步数上限
	svmMaxSteps = 200000
)

// Linear 以查询为唯一正例（目标 1）、候选为负例（目标 0）拟合带截距的岭回归，
// 按候选的预测值降序返回前 k 个。
func Linear(query []float32, candidates []Candidate, k int) ([]Scored, error) {
	cands := sortedByID(candidates)
	if len(cands) == 0 || k <= 0 {
		return []Scored{}, nil
	}
	x, err := designMatrix(query, cands)
	if err != nil {
		return nil, err
	}
	m, d := x.Dims()
	var pred []float64
	if m <= d {
		pred, err = ridgeDual(x, ridgeAlpha)
	} else {
		pred, err = ridgePrimal(x, ridgeAlpha)
	}
	if err != nil {
		return nil, err
	}
	return scoreCandidates(cands, pred[1:], k), nil
}

// SVM 以查询为唯一正例、候选为负例拟合类别均衡的线性 SVM（确定性 Pegasos），
// 按决策函数值降序返回前 k 个。
func SVM(query []float32, candidates []Candidate, k int) ([]Scored, error) {
	cands := sortedByID(candidates)
	if len(cands) == 0 || k <= 0 {
		return []Scored{}, nil
	}
	x, err := designMatrix(query, cands)
	if err != nil {
		return nil, err
	}
	w, b := pegasos(x)

	n := len(cands)
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		scores[i] = mat.Dot(x.RowView(i+1), w) + b
	}
	return scoreCandidates(cands, scores, k), nil
}

// designMatrix 第 0 行为查询，其余为候选。
func designMatrix(query []float32, cands []Candidate) (*mat.Dense, error) {
	d := len(query)
	if d == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	m := len(cands) + 1
	data := make([]float64, m*d)
	for j, v := range query {
		data[j] = float64(v)
	}
	for i, c := range cands {
		if len(c.Vector) != d {
			return nil, fmt.Errorf("candidate %s has dimension %d, want %d", c.ID, len(c.Vector), d)
		}
		row := data[(i+1)*d : (i+2)*d]
		for j, v := range c.Vector {
			row[j] = float64(v)
		}
	}
	return mat.NewDense(m, d, data), nil
}

// centered 返回按列中心化后的矩阵及中心化后的目标（y = [1, 0, ..., 0]）。
func centered(x *mat.Dense) (*mat.Dense, []float64, float64) {
	m, d := x.Dims()
	xc := mat.DenseCopyOf(x)
	for j := 0; j < d; j++ {
		var mean float64
		for i := 0; i < m; i++ {
			mean += xc.At(i, j)
		}
		mean /= float64(m)
		for i := 0; i < m; i++ {
			xc.Set(i, j, xc.At(i, j)-mean)
		}
	}
	yMean := 1 / float64(m)
	yc := make([]float64, m)
	for i := range yc {
		yc[i] = -yMean
	}
	yc[0] = 1 - yMean
	return xc, yc, yMean
}

// ridgeDual 核形式：(K + aI) c = y，预测 = yMean + y - a*c。
func ridgeDual(x *mat.Dense, alpha float64) ([]float64, error) {
	xc, yc, yMean := centered(x)
	m, _ := xc.Dims()

	var k mat.SymDense
	k.SymOuterK(1, xc)
	for i := 0; i < m; i++ {
		k.SetSym(i, i, k.At(i, i)+alpha)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(&k); !ok {
		return nil, fmt.Errorf("ridge kernel matrix is not positive definite")
	}
	var c mat.VecDense
	if err := chol.SolveVecTo(&c, mat.NewVecDense(m, yc)); err != nil {
		return nil, fmt.Errorf("ridge solve: %w", err)
	}

	pred := make([]float64, m)
	for i := range pred {
		pred[i] = yMean + yc[i] - alpha*c.AtVec(i)
	}
	return pred, nil
}

// ridgePrimal 特征形式：(X'X + aI) w = X'y，预测 = yMean + Xw。
func ridgePrimal(x *mat.Dense, alpha float64) ([]float64, error) {
	xc, yc, yMean := centered(x)
	m, d := xc.Dims()

	var g mat.SymDense
	g.SymOuterK(1, xc.T())
	for j := 0; j < d; j++ {
		g.SetSym(j, j, g.At(j, j)+alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(xc.T(), mat.NewVecDense(m, yc))

	var chol mat.Cholesky
	if ok := chol.Factorize(&g); !ok {
		return nil, fmt.Errorf("ridge gram matrix is not positive definite")
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return nil, fmt.Errorf("ridge solve: %w", err)
	}

	var p mat.VecDense
	p.MulVec(xc, &w)
	pred := make([]float64, m)
	for i := range pred {
		pred[i] = yMean + p.AtVec(i)
	}
	return pred, nil
}

// pegasos 以固定顺序遍历样本的 Pegasos 次梯度法，返回后半程平均的权重与截距。
// 样本 0 为正例，其余为负例；类别权重按 m/(2*n_class) 均衡。
func pegasos(x *mat.Dense) (*mat.VecDense, float64) {
	m, d := x.Dims()
	nNeg := m - 1
	posWeight := float64(m) / 2
	negWeight := float64(m) / (2 * float64(nNeg))
	lambda := 1 / (svmC * float64(m))

	steps := svmEpochs * m
	if steps > svmMaxSteps {
		steps = svmMaxSteps
	}
	avgFrom := steps / 2

	w := mat.NewVecDense(d, nil)
	var b float64
	avgW := mat.NewVecDense(d, nil)
	var avgB float64
	var avgN float64

	for t := 1; t <= steps; t++ {
		i := (t - 1) % m
		xi := x.RowView(i)
		y, weight := -1.0, negWeight
		if i == 0 {
			y, weight = 1.0, posWeight
		}
		eta := 1 / (lambda * float64(t))
		margin := y * (mat.Dot(w, xi) + b)

		w.ScaleVec(1-eta*lambda, w)
		if margin < 1 {
			w.AddScaledVec(w, eta*weight*y, xi)
			b += eta * weight * y / float64(m)
		}

		if t > avgFrom {
			avgW.AddVec(avgW, w)
			avgB += b
			avgN++
		}
	}
	if avgN > 0 {
		avgW.ScaleVec(1/avgN, avgW)
		avgB /= avgN
	}
	return avgW, avgB
}

func scoreCandidates(cands []Candidate, scores []float64, k int) []Scored {
	out := make([]Scored, len(cands))
	for i, c := range cands {
		out[i] = Scored{ID: c.ID, Score: scores[i]}
	}
	return takeTop(out, k)
}
