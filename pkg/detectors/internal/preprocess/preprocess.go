// Package preprocess holds the standardization and PCA steps shared by the
// boundary and reconstruction scorers. Both are plain values so they can be
// embedded in a calibrated state and serialized with it.
package preprocess

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minStd replaces the deviation of constant features.
const minStd = 1e-10

// Scaler standardizes features to zero mean and unit variance.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes per-feature population mean and standard deviation.
func FitScaler(data [][]float64) Scaler {
	dim := len(data[0])
	s := Scaler{Mean: make([]float64, dim), Std: make([]float64, dim)}
	col := make([]float64, len(data))
	for j := 0; j < dim; j++ {
		for i, row := range data {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std < minStd {
			std = 1
		}
		s.Mean[j] = mean
		s.Std[j] = std
	}
	return s
}

// Transform returns the standardized copy of x.
func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out
}

// TransformAll standardizes every row.
func (s Scaler) TransformAll(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = s.Transform(row)
	}
	return out
}

// PCA is a fitted linear projection onto the leading principal directions.
type PCA struct {
	Mean []float64
	// Components holds one unit direction per row.
	Components [][]float64
	Variances  []float64
}

// FitPCA fits up to k principal components. The effective count is capped
// at min(n-1, dim), the rank available from n centered samples.
func FitPCA(data [][]float64, k int) (PCA, error) {
	n, dim := len(data), len(data[0])
	if n < 2 {
		return PCA{}, errors.New("pca needs at least two samples")
	}

	a := mat.NewDense(n, dim, nil)
	for i, row := range data {
		a.SetRow(i, row)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(a, nil); !ok {
		return PCA{}, errors.New("pca decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	_, cols := vecs.Dims()
	limit := min(cols, n-1)
	if k <= 0 || k > limit {
		k = limit
	}

	p := PCA{
		Mean:       make([]float64, dim),
		Components: make([][]float64, k),
		Variances:  append([]float64(nil), vars[:k]...),
	}
	for j := 0; j < dim; j++ {
		p.Mean[j] = stat.Mean(mat.Col(nil, j, a), nil)
	}
	for c := 0; c < k; c++ {
		p.Components[c] = mat.Col(nil, c, &vecs)
	}
	return p, nil
}

// Dim returns the projected dimensionality.
func (p PCA) Dim() int { return len(p.Components) }

// Project maps x onto the principal directions.
func (p PCA) Project(x []float64) []float64 {
	z := make([]float64, len(p.Components))
	for c, dir := range p.Components {
		var sum float64
		for j, v := range x {
			sum += (v - p.Mean[j]) * dir[j]
		}
		z[c] = sum
	}
	return z
}

// ProjectAll projects every row.
func (p PCA) ProjectAll(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = p.Project(row)
	}
	return out
}

// Reconstruct maps latent coordinates back to feature space using only the
// listed components.
func (p PCA) Reconstruct(z []float64, visible []int) []float64 {
	out := append([]float64(nil), p.Mean...)
	for _, c := range visible {
		dir := p.Components[c]
		for j := range out {
			out[j] += z[c] * dir[j]
		}
	}
	return out
}
