// Package ocsvm implements boundary scoring with a one-class SVM.
//
// Reference vectors are standardized and reduced with PCA before an RBF
// one-class SVM is fitted with sequential minimal optimization. The scaler,
// the PCA basis and the support vectors all live in the returned State.
package ocsvm

import (
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/fishguard/pkg/detectors"
	"github.com/hed1ad/fishguard/pkg/detectors/internal/preprocess"
)

func init() {
	gob.Register(&State{})
	detectors.Register(detectors.KindBoundary, func(cfg detectors.Config) detectors.Scorer {
		return FromConfig(cfg)
	})
}

// State is the fitted boundary. Read-only after calibration.
type State struct {
	Scaler  preprocess.Scaler
	PCA     preprocess.PCA
	Support [][]float64
	Alpha   []float64
	Rho     float64
	Gamma   float64
	Cutoff  float64
}

// Kind implements detectors.State.
func (s *State) Kind() detectors.Kind { return detectors.KindBoundary }

// Dim implements detectors.State.
func (s *State) Dim() int { return len(s.Scaler.Mean) }

// Threshold implements detectors.State.
func (s *State) Threshold() float64 { return s.Cutoff }

// Decision returns the raw SVM decision value: positive inside the boundary.
func (s *State) Decision(vector []float64) float64 {
	z := s.PCA.Project(s.Scaler.Transform(vector))
	var sum float64
	for i, sv := range s.Support {
		sum += s.Alpha[i] * rbf(sv, z, s.Gamma)
	}
	return sum - s.Rho
}

// Scorer implements boundary scoring.
type Scorer struct {
	nu          float64
	gamma       float64
	components  int
	tolerance   float64
	maxIter     int
	calibration detectors.Calibration
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithNu sets the upper bound on the fraction of reference outliers.
func WithNu(nu float64) Option {
	return func(s *Scorer) {
		s.nu = nu
	}
}

// WithGamma sets the RBF bandwidth. Zero selects 1/components.
func WithGamma(g float64) Option {
	return func(s *Scorer) {
		s.gamma = g
	}
}

// WithComponents sets the PCA dimensionality.
func WithComponents(n int) Option {
	return func(s *Scorer) {
		s.components = n
	}
}

// WithThreshold shifts the decision threshold away from zero.
func WithThreshold(t float64) Option {
	return func(s *Scorer) {
		s.calibration.Threshold = t
		s.calibration.HasThreshold = true
	}
}

// New creates a boundary scorer with the given options.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		nu:         0.1,
		components: 50,
		tolerance:  1e-3,
		maxIter:    100000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConfig creates a scorer from shared configuration. Contamination is
// not used: nu bounds the outlier fraction and the threshold stays at zero
// unless set explicitly.
func FromConfig(cfg detectors.Config) *Scorer {
	var opts []Option
	if cfg.Nu > 0 {
		opts = append(opts, WithNu(cfg.Nu))
	}
	if cfg.Gamma > 0 {
		opts = append(opts, WithGamma(cfg.Gamma))
	}
	if cfg.Components > 0 {
		opts = append(opts, WithComponents(cfg.Components))
	}
	if cfg.Threshold != nil {
		opts = append(opts, WithThreshold(*cfg.Threshold))
	}
	return New(opts...)
}

// Kind implements detectors.Scorer.
func (s *Scorer) Kind() detectors.Kind { return detectors.KindBoundary }

// Calibrate fits scaler, PCA and the one-class SVM.
func (s *Scorer) Calibrate(reference [][]float64) (detectors.State, error) {
	if _, err := detectors.CheckReference(reference, 2); err != nil {
		return nil, err
	}
	if s.nu <= 0 || s.nu > 1 {
		return nil, fmt.Errorf("nu must be in (0, 1], got %v", s.nu)
	}

	scaler := preprocess.FitScaler(reference)
	scaled := scaler.TransformAll(reference)
	pca, err := preprocess.FitPCA(scaled, s.components)
	if err != nil {
		return nil, fmt.Errorf("fit pca: %w", err)
	}
	projected := pca.ProjectAll(scaled)

	gamma := s.gamma
	if gamma <= 0 {
		gamma = 1 / float64(pca.Dim())
	}

	alpha, rho := s.solve(projected, gamma)

	st := &State{
		Scaler: scaler,
		PCA:    pca,
		Rho:    rho,
		Gamma:  gamma,
		Cutoff: s.calibration.Resolve(nil, 0),
	}
	for i, a := range alpha {
		if a > 1e-12 {
			st.Support = append(st.Support, projected[i])
			st.Alpha = append(st.Alpha, a)
		}
	}
	return st, nil
}

// Score returns the negated decision value, so points outside the boundary
// score above zero.
func (s *Scorer) Score(vector []float64, state detectors.State) (detectors.Result, error) {
	if err := detectors.CheckVector(vector, state, detectors.KindBoundary); err != nil {
		return detectors.Result{}, err
	}
	st, ok := state.(*State)
	if !ok {
		return detectors.Result{}, detectors.ErrStateKind
	}
	return detectors.NewResult(-st.Decision(vector), st.Cutoff), nil
}

// solve runs SMO on the one-class dual:
//
//	min 1/2 aᵀKa  s.t.  0 <= a_i <= 1,  sum(a) = nu*n
func (s *Scorer) solve(x [][]float64, gamma float64) ([]float64, float64) {
	n := len(x)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k.SetSym(i, j, rbf(x[i], x[j], gamma))
		}
	}

	// Initial feasible point: the first nu*n multipliers at the bound.
	alpha := make([]float64, n)
	total := s.nu * float64(n)
	whole := int(total)
	for i := 0; i < whole && i < n; i++ {
		alpha[i] = 1
	}
	if whole < n {
		alpha[whole] = total - float64(whole)
	}

	grad := make([]float64, n)
	for i := 0; i < n; i++ {
		var g float64
		for j := 0; j < n; j++ {
			g += k.At(i, j) * alpha[j]
		}
		grad[i] = g
	}

	for iter := 0; iter < s.maxIter; iter++ {
		up, low := -1, -1
		gmax, gmin := math.Inf(-1), math.Inf(1)
		for t := 0; t < n; t++ {
			if alpha[t] < 1 && -grad[t] > gmax {
				gmax, up = -grad[t], t
			}
			if alpha[t] > 0 && -grad[t] < gmin {
				gmin, low = -grad[t], t
			}
		}
		if up < 0 || low < 0 || gmax-gmin < s.tolerance {
			break
		}

		curv := k.At(up, up) + k.At(low, low) - 2*k.At(up, low)
		if curv <= 0 {
			curv = 1e-12
		}
		delta := (grad[low] - grad[up]) / curv
		delta = math.Min(delta, 1-alpha[up])
		delta = math.Min(delta, alpha[low])
		if delta <= 0 {
			break
		}

		alpha[up] += delta
		alpha[low] -= delta
		for t := 0; t < n; t++ {
			grad[t] += delta * (k.At(t, up) - k.At(t, low))
		}
	}

	return alpha, computeRho(alpha, grad)
}

// computeRho averages the gradient over free multipliers, falling back to
// the midpoint of the feasible interval when none are free.
func computeRho(alpha, grad []float64) float64 {
	var sum float64
	var free int
	ub, lb := math.Inf(1), math.Inf(-1)
	for i, a := range alpha {
		switch {
		case a >= 1:
			lb = math.Max(lb, grad[i])
		case a <= 0:
			ub = math.Min(ub, grad[i])
		default:
			free++
			sum += grad[i]
		}
	}
	switch {
	case free > 0:
		return sum / float64(free)
	case math.IsInf(ub, 1):
		return lb
	case math.IsInf(lb, -1):
		return ub
	}
	return (ub + lb) / 2
}

func rbf(a, b []float64, gamma float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return math.Exp(-gamma * d)
}
