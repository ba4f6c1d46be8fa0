package ensemble

import (
	"fmt"

	"github.com/hed1ad/fishguard/pkg/detectors"
)

// Ensemble scores a vector with every member model and combines the results.
type Ensemble struct {
	members  []detectors.Model
	combiner *Combiner
}

// NewEnsemble binds calibrated members to a combiner. When the combiner has
// no weights, members are weighted equally.
func NewEnsemble(members []detectors.Model, combiner *Combiner) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, ErrNoResults
	}
	if combiner == nil {
		combiner = New()
	}
	if len(combiner.weights) == 0 {
		w := make([]float64, len(members))
		for i := range w {
			w[i] = 1
		}
		if _, err := combiner.UpdateWeights(w); err != nil {
			return nil, err
		}
	}
	if len(combiner.weights) != len(members) {
		return nil, fmt.Errorf("%w: %d weights for %d members", ErrWeightCount, len(combiner.weights), len(members))
	}
	return &Ensemble{members: members, combiner: combiner}, nil
}

// Members returns the number of member models.
func (e *Ensemble) Members() int { return len(e.members) }

// Combiner returns the underlying combiner.
func (e *Ensemble) Combiner() *Combiner { return e.combiner }

// Score evaluates vector with each member. The first member error aborts.
func (e *Ensemble) Score(vector []float64) (Result, error) {
	results := make([]detectors.Result, len(e.members))
	for i, m := range e.members {
		r, err := m.Score(vector)
		if err != nil {
			return Result{}, fmt.Errorf("member %d: %w", i, err)
		}
		results[i] = r
	}
	return e.combiner.CombineStored(results)
}
