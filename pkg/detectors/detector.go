// Package detectors defines the one-class scoring contract shared by all anomaly scorers.
package detectors

import (
	"fmt"
	"strings"
)

// Kind identifies a scoring strategy.
type Kind int

const (
	// KindCenterDistance scores by squared distance to the reference mean.
	KindCenterDistance Kind = iota + 1
	// KindMemoryBank scores by nearest-neighbor distance to a retained patch bank.
	KindMemoryBank
	// KindBoundary scores by a one-class SVM decision function.
	KindBoundary
	// KindReconstruction scores by masked reconstruction error.
	KindReconstruction
	// KindIsolation scores by isolation forest path length.
	KindIsolation
	// KindEnsemble combines several member kinds.
	KindEnsemble
)

var kindNames = map[Kind]string{
	KindCenterDistance: "center-distance",
	KindMemoryBank:     "memory-bank",
	KindBoundary:       "boundary",
	KindReconstruction: "reconstruction",
	KindIsolation:      "isolation",
	KindEnsemble:       "ensemble",
}

// String returns the canonical name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a kind from its canonical name.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown scorer kind %q", name)
}

// Scorer is the common interface for all one-class scoring strategies.
//
// Calibrate fits a new State from reference vectors and never modifies an
// existing one. Score evaluates one vector against a State produced by the
// same kind. Scores are oriented so that higher always means more anomalous.
type Scorer interface {
	Kind() Kind
	Calibrate(reference [][]float64) (State, error)
	Score(vector []float64, state State) (Result, error)
}

// State holds the fitted parameters of one scorer. States are read-only
// after calibration and safe for concurrent scoring.
type State interface {
	Kind() Kind
	// Dim is the feature vector length the state expects.
	Dim() int
	// Threshold is the score above which a vector is anomalous.
	Threshold() float64
}

// Result represents one anomaly scoring outcome.
type Result struct {
	// Score is the anomaly score; higher is more anomalous.
	Score float64
	// IsAnomaly indicates if the score exceeds the threshold.
	IsAnomaly bool
	// Threshold is the threshold the decision was taken against.
	Threshold float64
	// Uncertainty is an optional dispersion estimate for this score.
	Uncertainty    float64
	HasUncertainty bool
}

// NewResult builds a Result whose decision is derived from score and threshold.
func NewResult(score, threshold float64) Result {
	return Result{
		Score:     score,
		IsAnomaly: score > threshold,
		Threshold: threshold,
	}
}

// WithUncertainty returns a copy of r carrying the given uncertainty.
func (r Result) WithUncertainty(u float64) Result {
	r.Uncertainty = u
	r.HasUncertainty = true
	return r
}

// Model binds a scorer to a state it calibrated.
type Model struct {
	Scorer Scorer
	State  State
}

// Score evaluates vector against the bound state.
func (m Model) Score(vector []float64) (Result, error) {
	if m.Scorer == nil || m.State == nil {
		return Result{}, ErrNotCalibrated
	}
	return m.Scorer.Score(vector, m.State)
}

// Fit calibrates s on reference and returns the bound model.
func Fit(s Scorer, reference [][]float64) (Model, error) {
	state, err := s.Calibrate(reference)
	if err != nil {
		return Model{}, err
	}
	return Model{Scorer: s, State: state}, nil
}

// Config holds configuration shared by all scorer kinds. Zero values select
// each kind's defaults.
type Config struct {
	// Contamination is the expected proportion of outliers in the reference data.
	Contamination float64 `yaml:"contamination"`
	// Threshold overrides the calibrated threshold when set.
	Threshold *float64 `yaml:"threshold"`
	// RandomSeed for reproducibility.
	RandomSeed int64 `yaml:"random_seed"`

	// MemoryCapacity bounds the memory bank size.
	MemoryCapacity int `yaml:"memory_capacity"`
	// PatchDim is the per-patch length for memory-bank scoring.
	PatchDim int `yaml:"patch_dim"`
	// Aggregate selects max or mean over patch distances.
	Aggregate string `yaml:"aggregate"`

	// Nu upper-bounds the fraction of reference outliers for the boundary kind.
	Nu float64 `yaml:"nu"`
	// Gamma is the RBF kernel bandwidth; zero means 1/components.
	Gamma float64 `yaml:"gamma"`
	// Components is the PCA dimensionality for boundary and reconstruction kinds.
	Components int `yaml:"components"`

	// MaskRatio is the withheld latent fraction for the reconstruction kind.
	MaskRatio float64 `yaml:"mask_ratio"`
	// MaskDraws is the number of masks whose error spread is reported as
	// uncertainty by the reconstruction kind.
	MaskDraws int `yaml:"mask_draws"`

	// Trees and SampleSize configure the isolation kind.
	Trees      int `yaml:"trees"`
	SampleSize int `yaml:"sample_size"`
}

// DefaultConfig returns sensible defaults for scorer configuration.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.1,
		RandomSeed:    42,
	}
}
