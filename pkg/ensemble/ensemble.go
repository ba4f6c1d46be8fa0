// Package ensemble combines the results of several scorers into one decision.
package ensemble

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/fishguard/pkg/detectors"
)

var (
	// ErrDegenerateWeights is returned when weights are empty, negative or sum to zero.
	ErrDegenerateWeights = errors.New("degenerate ensemble weights")
	// ErrNoResults is returned when there is nothing to combine.
	ErrNoResults = errors.New("no results to combine")
	// ErrWeightCount is returned when weights and results differ in length.
	ErrWeightCount = errors.New("weight count does not match result count")
)

// Mode selects the aggregation rule.
type Mode int

const (
	// ModeWeightedAverage mixes scores with renormalized weights.
	ModeWeightedAverage Mode = iota
	// ModeMajorityVote counts member decisions.
	ModeMajorityVote
	// ModePlainAverage takes the unweighted mean of scores.
	ModePlainAverage
)

var modeNames = map[Mode]string{
	ModeWeightedAverage: "weighted-average",
	ModeMajorityVote:    "majority-vote",
	ModePlainAverage:    "plain-average",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode resolves a mode from its name.
func ParseMode(name string) (Mode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown ensemble mode %q", name)
}

// TieBreak decides an evenly split majority vote.
type TieBreak int

const (
	// TieAnomalous flags a tied vote as anomalous.
	TieAnomalous TieBreak = iota
	// TieNormal treats a tied vote as normal.
	TieNormal
)

// Result is a combined decision.
type Result struct {
	detectors.Result
	Members int
	Mode    Mode
}

// Combiner aggregates member results. A Combiner is immutable apart from
// its weights, which UpdateWeights replaces wholesale.
type Combiner struct {
	mode     Mode
	tieBreak TieBreak
	weights  []float64
}

// Option configures a Combiner.
type Option func(*Combiner)

// WithMode sets the aggregation mode.
func WithMode(m Mode) Option {
	return func(c *Combiner) {
		c.mode = m
	}
}

// WithTieBreak sets the tie policy for majority voting.
func WithTieBreak(t TieBreak) Option {
	return func(c *Combiner) {
		c.tieBreak = t
	}
}

// WithWeights sets the initial member weights.
func WithWeights(w ...float64) Option {
	return func(c *Combiner) {
		c.weights = append([]float64(nil), w...)
	}
}

// New creates a combiner. The default is weighted averaging with ties
// resolved as anomalous.
func New(opts ...Option) *Combiner {
	c := &Combiner{
		mode:     ModeWeightedAverage,
		tieBreak: TieAnomalous,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the aggregation mode.
func (c *Combiner) Mode() Mode { return c.mode }

// Weights returns a copy of the current weights.
func (c *Combiner) Weights() []float64 {
	return append([]float64(nil), c.weights...)
}

// Combine aggregates results with the given weights. Weights are ignored in
// the plain-average and majority-vote modes.
func (c *Combiner) Combine(results []detectors.Result, weights []float64) (Result, error) {
	if len(results) == 0 {
		return Result{}, ErrNoResults
	}

	var combined detectors.Result
	switch c.mode {
	case ModeWeightedAverage:
		w, err := normalize(weights)
		if err != nil {
			return Result{}, err
		}
		if len(w) != len(results) {
			return Result{}, fmt.Errorf("%w: %d weights for %d results", ErrWeightCount, len(w), len(results))
		}
		var score, threshold float64
		for i, r := range results {
			score += w[i] * r.Score
			threshold += w[i] * r.Threshold
		}
		combined = detectors.NewResult(score, threshold)
	case ModePlainAverage:
		scores, thresholds := split(results)
		combined = detectors.NewResult(stat.Mean(scores, nil), stat.Mean(thresholds, nil))
	case ModeMajorityVote:
		combined = c.vote(results)
	default:
		return Result{}, fmt.Errorf("unknown ensemble mode %d", c.mode)
	}

	combined = combined.WithUncertainty(uncertainty(results))
	return Result{Result: combined, Members: len(results), Mode: c.mode}, nil
}

// CombineStored aggregates results with the combiner's own weights.
func (c *Combiner) CombineStored(results []detectors.Result) (Result, error) {
	return c.Combine(results, c.weights)
}

func (c *Combiner) vote(results []detectors.Result) detectors.Result {
	anomalous := 0
	for _, r := range results {
		if r.IsAnomaly {
			anomalous++
		}
	}
	n := len(results)
	frac := float64(anomalous) / float64(n)

	var decision bool
	switch {
	case 2*anomalous > n:
		decision = true
	case 2*anomalous < n:
		decision = false
	default:
		decision = c.tieBreak == TieAnomalous
	}
	return detectors.Result{Score: frac, Threshold: 0.5, IsAnomaly: decision}
}

// UpdateWeights sets weights proportional to validation and returns them.
// The previous weights are replaced, not modified.
func (c *Combiner) UpdateWeights(validation []float64) ([]float64, error) {
	w, err := normalize(validation)
	if err != nil {
		return nil, err
	}
	c.weights = w
	return append([]float64(nil), w...), nil
}

// normalize returns a copy of w scaled to sum to one.
func normalize(w []float64) ([]float64, error) {
	if len(w) == 0 {
		return nil, fmt.Errorf("%w: no weights", ErrDegenerateWeights)
	}
	for i, v := range w {
		if v < 0 {
			return nil, fmt.Errorf("%w: weight %d is negative", ErrDegenerateWeights, i)
		}
	}
	sum := floats.Sum(w)
	if sum == 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrDegenerateWeights)
	}
	out := make([]float64, len(w))
	floats.ScaleTo(out, 1/sum, w)
	return out, nil
}

func split(results []detectors.Result) (scores, thresholds []float64) {
	scores = make([]float64, len(results))
	thresholds = make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score
		thresholds[i] = r.Threshold
	}
	return scores, thresholds
}

// uncertainty is the mean member uncertainty when any member reports one,
// otherwise the sample standard deviation of member scores. It is a
// dispersion heuristic, not a probability.
func uncertainty(results []detectors.Result) float64 {
	var reported []float64
	for _, r := range results {
		if r.HasUncertainty {
			reported = append(reported, r.Uncertainty)
		}
	}
	if len(reported) > 0 {
		return stat.Mean(reported, nil)
	}
	if len(results) < 2 {
		return 0
	}
	scores, _ := split(results)
	return stat.StdDev(scores, nil)
}
