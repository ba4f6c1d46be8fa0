package ensemble

import (
	"errors"
	"fmt"

	"github.com/hed1ad/fishguard/pkg/detectors"
)

// Scorer adapts several member scorers and a combiner to the
// detectors.Scorer contract, so an ensemble can be calibrated and evaluated
// like any single kind. Ensemble states are held in memory only.
type Scorer struct {
	members  []detectors.Scorer
	combiner *Combiner
}

// NewScorer creates an ensemble scorer. A nil combiner selects weighted
// averaging with equal weights.
func NewScorer(combiner *Combiner, members ...detectors.Scorer) *Scorer {
	if combiner == nil {
		combiner = New()
	}
	return &Scorer{members: members, combiner: combiner}
}

// State is a calibrated ensemble.
type State struct {
	Models  []detectors.Model
	Weights []float64
	Cutoff  float64
}

// Kind implements detectors.State.
func (s *State) Kind() detectors.Kind { return detectors.KindEnsemble }

// Dim implements detectors.State.
func (s *State) Dim() int {
	if len(s.Models) == 0 {
		return 0
	}
	return s.Models[0].State.Dim()
}

// Threshold implements detectors.State.
func (s *State) Threshold() float64 { return s.Cutoff }

// Kind implements detectors.Scorer.
func (s *Scorer) Kind() detectors.Kind { return detectors.KindEnsemble }

// Calibrate calibrates every member on the same reference set. The first
// member failure aborts.
func (s *Scorer) Calibrate(reference [][]float64) (detectors.State, error) {
	if len(s.members) == 0 {
		return nil, errors.New("ensemble has no members")
	}

	weights := s.combiner.Weights()
	if len(weights) == 0 {
		weights = make([]float64, len(s.members))
		for i := range weights {
			weights[i] = 1
		}
	}
	if s.combiner.mode == ModeWeightedAverage {
		w, err := normalize(weights)
		if err != nil {
			return nil, err
		}
		weights = w
	}
	if len(weights) != len(s.members) {
		return nil, fmt.Errorf("%w: %d weights for %d members", ErrWeightCount, len(weights), len(s.members))
	}

	st := &State{Weights: weights}
	thresholds := make([]detectors.Result, len(s.members))
	for i, m := range s.members {
		model, err := detectors.Fit(m, reference)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", m.Kind(), err)
		}
		st.Models = append(st.Models, model)
		thresholds[i] = detectors.Result{Score: model.State.Threshold(), Threshold: model.State.Threshold()}
	}

	// the combined threshold is the combination of member thresholds
	combined, err := s.combiner.Combine(thresholds, weights)
	if err != nil {
		return nil, err
	}
	st.Cutoff = combined.Threshold
	return st, nil
}

// Score combines member results for vector.
func (s *Scorer) Score(vector []float64, state detectors.State) (detectors.Result, error) {
	if err := detectors.CheckVector(vector, state, detectors.KindEnsemble); err != nil {
		return detectors.Result{}, err
	}
	st, ok := state.(*State)
	if !ok {
		return detectors.Result{}, detectors.ErrStateKind
	}

	results := make([]detectors.Result, len(st.Models))
	for i, m := range st.Models {
		r, err := m.Score(vector)
		if err != nil {
			return detectors.Result{}, fmt.Errorf("member %s: %w", m.Scorer.Kind(), err)
		}
		results[i] = r
	}
	combined, err := s.combiner.Combine(results, st.Weights)
	if err != nil {
		return detectors.Result{}, err
	}
	return combined.Result, nil
}
