// Package patchcore implements memory-bank nearest-neighbor scoring.
//
// Each feature vector is treated as a set of equally sized patches. Calibration
// pools the reference patches into a bounded memory bank; a query is scored by
// the worst (or mean) nearest-neighbor distance of its patches.
package patchcore

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/fishguard/pkg/detectors"
)

func init() {
	gob.Register(&State{})
	detectors.Register(detectors.KindMemoryBank, func(cfg detectors.Config) detectors.Scorer {
		return FromConfig(cfg)
	})
}

// Aggregate selects how per-patch distances are reduced to one score.
type Aggregate int

const (
	// AggregateMax uses the largest patch distance.
	AggregateMax Aggregate = iota
	// AggregateMean uses the mean patch distance.
	AggregateMean
)

// ParseAggregate resolves "max" or "mean"; empty means max.
func ParseAggregate(name string) (Aggregate, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "max":
		return AggregateMax, nil
	case "mean":
		return AggregateMean, nil
	default:
		return 0, fmt.Errorf("unknown patch aggregate %q", name)
	}
}

// State is the fitted memory bank. Read-only after calibration.
type State struct {
	Bank      [][]float64
	PatchDim  int
	VectorDim int
	Aggregate Aggregate
	Cutoff    float64
}

// Kind implements detectors.State.
func (s *State) Kind() detectors.Kind { return detectors.KindMemoryBank }

// Dim implements detectors.State.
func (s *State) Dim() int { return s.VectorDim }

// Threshold implements detectors.State.
func (s *State) Threshold() float64 { return s.Cutoff }

// Scorer implements memory-bank scoring.
type Scorer struct {
	capacity    int
	patchDim    int
	aggregate   Aggregate
	seed        int64
	calibration detectors.Calibration
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithCapacity bounds the number of patches kept in the memory bank.
func WithCapacity(n int) Option {
	return func(s *Scorer) {
		s.capacity = n
	}
}

// WithPatchDim sets the per-patch length. Zero treats each vector as one patch.
func WithPatchDim(n int) Option {
	return func(s *Scorer) {
		s.patchDim = n
	}
}

// WithAggregate selects max or mean aggregation.
func WithAggregate(a Aggregate) Option {
	return func(s *Scorer) {
		s.aggregate = a
	}
}

// WithSeed sets the subsampling seed.
func WithSeed(seed int64) Option {
	return func(s *Scorer) {
		s.seed = seed
	}
}

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

// New creates a memory-bank scorer with the given options.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		capacity:  1024,
		aggregate: AggregateMax,
		seed:      42,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConfig creates a scorer from shared configuration. An unknown
// aggregate name falls back to max.
func FromConfig(cfg detectors.Config) *Scorer {
	opts := []Option{WithSeed(cfg.RandomSeed)}
	if cfg.MemoryCapacity > 0 {
		opts = append(opts, WithCapacity(cfg.MemoryCapacity))
	}
	if cfg.PatchDim > 0 {
		opts = append(opts, WithPatchDim(cfg.PatchDim))
	}
	if agg, err := ParseAggregate(cfg.Aggregate); err == nil {
		opts = append(opts, WithAggregate(agg))
	}
	s := New(opts...)
	s.calibration = detectors.CalibrationFromConfig(cfg)
	return s
}

// Kind implements detectors.Scorer.
func (s *Scorer) Kind() detectors.Kind { return detectors.KindMemoryBank }

// Calibrate pools reference patches into the memory bank. The threshold is
// derived from leave-one-out reference scores.
func (s *Scorer) Calibrate(reference [][]float64) (detectors.State, error) {
	dim, err := detectors.CheckReference(reference, 2)
	if err != nil {
		return nil, err
	}
	patchDim := s.patchDim
	if patchDim <= 0 {
		patchDim = dim
	}
	if dim%patchDim != 0 {
		return nil, fmt.Errorf("%w: vector length %d is not a multiple of patch length %d",
			detectors.ErrDimensionMismatch, dim, patchDim)
	}

	pool := make([][]float64, 0, len(reference)*(dim/patchDim))
	owners := make([]int, 0, cap(pool))
	for i, row := range reference {
		for _, p := range split(row, patchDim) {
			pool = append(pool, p)
			owners = append(owners, i)
		}
	}

	capacity := s.capacity
	if capacity <= 0 {
		capacity = len(pool)
	}
	bank := pool
	if len(pool) > capacity {
		rng := rand.New(rand.NewSource(s.seed))
		indices := rng.Perm(len(pool))[:capacity]
		bank = make([][]float64, capacity)
		kept := make([]int, capacity)
		for i, idx := range indices {
			bank[i] = pool[idx]
			kept[i] = owners[idx]
		}
		owners = kept
	}

	st := &State{
		Bank:      copyRows(bank),
		PatchDim:  patchDim,
		VectorDim: dim,
		Aggregate: s.aggregate,
	}

	// Reference vectors are scored against the bank without their own
	// patches, otherwise every reference score is zero.
	scores := make([]float64, 0, len(reference))
	for i, row := range reference {
		if sc := st.scoreExcluding(row, owners, i); !math.IsInf(sc, 1) {
			scores = append(scores, sc)
		}
	}
	st.Cutoff = s.calibration.Resolve(scores, detectors.MaxOf(scores))

	return st, nil
}

// Score returns the aggregated nearest-neighbor distance of vector's patches.
func (s *Scorer) Score(vector []float64, state detectors.State) (detectors.Result, error) {
	if err := detectors.CheckVector(vector, state, detectors.KindMemoryBank); err != nil {
		return detectors.Result{}, err
	}
	st, ok := state.(*State)
	if !ok {
		return detectors.Result{}, detectors.ErrStateKind
	}
	return detectors.NewResult(st.score(vector), st.Cutoff), nil
}

func (s *State) score(vector []float64) float64 {
	return s.scoreExcluding(vector, nil, -1)
}

// scoreExcluding skips bank entries whose owner equals skip. It returns +Inf
// when no entry is left to compare against.
func (s *State) scoreExcluding(vector []float64, owners []int, skip int) float64 {
	patches := split(vector, s.PatchDim)
	var agg float64
	for _, p := range patches {
		d := s.nearest(p, owners, skip)
		switch s.Aggregate {
		case AggregateMean:
			agg += d
		default:
			if d > agg {
				agg = d
			}
		}
	}
	if s.Aggregate == AggregateMean && len(patches) > 0 {
		agg /= float64(len(patches))
	}
	return agg
}

func (s *State) nearest(patch []float64, owners []int, skip int) float64 {
	best := math.Inf(1)
	for i, m := range s.Bank {
		if owners != nil && owners[i] == skip {
			continue
		}
		if d := floats.Distance(patch, m, 2); d < best {
			best = d
		}
	}
	return best
}

func split(v []float64, size int) [][]float64 {
	out := make([][]float64, 0, len(v)/size)
	for i := 0; i+size <= len(v); i += size {
		out = append(out, v[i:i+size])
	}
	return out
}

func copyRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}
