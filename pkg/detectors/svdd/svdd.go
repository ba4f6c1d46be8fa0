// Package svdd implements center-distance (hypersphere) scoring in the
// spirit of Deep SVDD: the state is the mean of the reference embeddings and
// the score is the squared Euclidean distance to it.
package svdd

import (
	"encoding/gob"

	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/fishguard/pkg/detectors"
)

func init() {
	gob.Register(&State{})
	detectors.Register(detectors.KindCenterDistance, func(cfg detectors.Config) detectors.Scorer {
		return FromConfig(cfg)
	})
}

// State is the fitted hypersphere. Read-only after calibration.
type State struct {
	Center []float64
	// Radius is the largest squared distance seen in the reference set.
	Radius float64
	Cutoff float64
}

// Kind implements detectors.State.
func (s *State) Kind() detectors.Kind { return detectors.KindCenterDistance }

// Dim implements detectors.State.
func (s *State) Dim() int { return len(s.Center) }

// Threshold implements detectors.State.
func (s *State) Threshold() float64 { return s.Cutoff }

// Scorer implements center-distance scoring.
type Scorer struct {
	calibration detectors.Calibration
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithContamination sets the expected proportion of reference outliers.
func WithContamination(c float64) Option {
	return func(s *Scorer) {
		s.calibration.Contamination = c
	}
}

// WithThreshold fixes the decision threshold.
func WithThreshold(t float64) Option {
	return func(s *Scorer) {
		s.calibration.Threshold = t
		s.calibration.HasThreshold = true
	}
}

// New creates a center-distance scorer. Without options the threshold is
// the largest reference distance.
func New(opts ...Option) *Scorer {
	s := &Scorer{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConfig creates a scorer from shared configuration.
func FromConfig(cfg detectors.Config) *Scorer {
	return &Scorer{calibration: detectors.CalibrationFromConfig(cfg)}
}

// Kind implements detectors.Scorer.
func (s *Scorer) Kind() detectors.Kind { return detectors.KindCenterDistance }

// Calibrate computes the center of the reference vectors.
func (s *Scorer) Calibrate(reference [][]float64) (detectors.State, error) {
	dim, err := detectors.CheckReference(reference, 1)
	if err != nil {
		return nil, err
	}

	center := make([]float64, dim)
	for _, row := range reference {
		floats.Add(center, row)
	}
	floats.Scale(1/float64(len(reference)), center)

	scores := make([]float64, len(reference))
	for i, row := range reference {
		scores[i] = squaredDistance(row, center)
	}
	radius := detectors.MaxOf(scores)

	return &State{
		Center: center,
		Radius: radius,
		Cutoff: s.calibration.Resolve(scores, radius),
	}, nil
}

// Score returns the squared distance from vector to the center.
func (s *Scorer) Score(vector []float64, state detectors.State) (detectors.Result, error) {
	if err := detectors.CheckVector(vector, state, detectors.KindCenterDistance); err != nil {
		return detectors.Result{}, err
	}
	st, ok := state.(*State)
	if !ok {
		return detectors.Result{}, detectors.ErrStateKind
	}
	return detectors.NewResult(squaredDistance(vector, st.Center), st.Cutoff), nil
}

func squaredDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}
