// Package iforest implements the Isolation Forest algorithm as a one-class scorer.
package iforest

import (
	"encoding/gob"
	"math"
	"math/rand"

	"github.com/hed1ad/fishguard/pkg/detectors"
)

func init() {
	gob.Register(&State{})
	detectors.Register(detectors.KindIsolation, func(cfg detectors.Config) detectors.Scorer {
		return FromConfig(cfg)
	})
}

// State is a fitted forest. Read-only after calibration.
type State struct {
	Trees         []*Node
	AvgPathLength float64
	Features      int
	Cutoff        float64
}

// Kind implements detectors.State.
func (s *State) Kind() detectors.Kind { return detectors.KindIsolation }

// Dim implements detectors.State.
func (s *State) Dim() int { return s.Features }

// Threshold implements detectors.State.
func (s *State) Threshold() float64 { return s.Cutoff }

// Node is a node in an isolation tree.
type Node struct {
	// Split parameters (for internal nodes)
	SplitFeature int
	SplitValue   float64

	Left  *Node
	Right *Node

	// Size is the number of samples that reached this leaf.
	Size int
}

func (n *Node) leaf() bool { return n.Left == nil && n.Right == nil }

// Forest builds isolation forests.
type Forest struct {
	nTrees      int
	sampleSize  int
	seed        int64
	calibration detectors.Calibration
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *Forest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *Forest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *Forest) {
		f.calibration.Contamination = c
	}
}

// WithThreshold fixes the decision threshold.
func WithThreshold(t float64) Option {
	return func(f *Forest) {
		f.calibration.Threshold = t
		f.calibration.HasThreshold = true
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *Forest) {
		f.seed = seed
	}
}

// New creates a new Forest with the given options.
func New(opts ...Option) *Forest {
	f := &Forest{
		nTrees:      100,
		sampleSize:  256,
		seed:        42,
		calibration: detectors.Calibration{Contamination: 0.1},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FromConfig creates a forest from shared configuration.
func FromConfig(cfg detectors.Config) *Forest {
	opts := []Option{WithSeed(cfg.RandomSeed)}
	if cfg.Trees > 0 {
		opts = append(opts, WithTrees(cfg.Trees))
	}
	if cfg.SampleSize > 0 {
		opts = append(opts, WithSampleSize(cfg.SampleSize))
	}
	f := New(opts...)
	f.calibration = detectors.CalibrationFromConfig(cfg)
	return f
}

// Kind implements detectors.Scorer.
func (f *Forest) Kind() detectors.Kind { return detectors.KindIsolation }

// Calibrate grows the forest on the reference data. Each call uses a fresh
// generator seeded from the configured seed, so repeated calibrations on the
// same data yield identical forests.
func (f *Forest) Calibrate(reference [][]float64) (detectors.State, error) {
	nFeatures, err := detectors.CheckReference(reference, 1)
	if err != nil {
		return nil, err
	}
	nSamples := len(reference)

	sampleSize := f.sampleSize
	if sampleSize <= 0 || sampleSize > nSamples {
		sampleSize = nSamples
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))
	rng := rand.New(rand.NewSource(f.seed))

	st := &State{
		Trees:         make([]*Node, f.nTrees),
		AvgPathLength: averagePathLength(float64(sampleSize)),
		Features:      nFeatures,
	}
	for i := range st.Trees {
		indices := rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = reference[idx]
		}
		st.Trees[i] = buildNode(rng, sample, nFeatures, 0, maxDepth)
	}

	scores := make([]float64, nSamples)
	for i, row := range reference {
		scores[i] = st.score(row)
	}
	st.Cutoff = f.calibration.Resolve(scores, 0.5)
	return st, nil
}

func buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth, maxDepth int) *Node {
	n := len(data)
	if depth >= maxDepth || n <= 1 {
		return &Node{Size: n}
	}

	feature := rng.Intn(nFeatures)
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		minVal = math.Min(minVal, row[feature])
		maxVal = math.Max(maxVal, row[feature])
	}
	if minVal == maxVal {
		return &Node{Size: n}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)
	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &Node{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         buildNode(rng, leftData, nFeatures, depth+1, maxDepth),
		Right:        buildNode(rng, rightData, nFeatures, depth+1, maxDepth),
	}
}

// Score returns the isolation score in [0, 1]; higher is more anomalous.
func (f *Forest) Score(vector []float64, state detectors.State) (detectors.Result, error) {
	if err := detectors.CheckVector(vector, state, detectors.KindIsolation); err != nil {
		return detectors.Result{}, err
	}
	st, ok := state.(*State)
	if !ok {
		return detectors.Result{}, detectors.ErrStateKind
	}
	return detectors.NewResult(st.score(vector), st.Cutoff), nil
}

// score computes 2^(-E[h(x)] / c(n)).
func (s *State) score(sample []float64) float64 {
	if s.AvgPathLength == 0 || len(s.Trees) == 0 {
		return 0.5
	}
	var totalPath float64
	for _, tree := range s.Trees {
		totalPath += pathLength(sample, tree, 0)
	}
	avgPath := totalPath / float64(len(s.Trees))
	return math.Pow(2, -avgPath/s.AvgPathLength)
}

func pathLength(sample []float64, n *Node, depth int) float64 {
	if n.leaf() {
		return float64(depth) + averagePathLength(float64(n.Size))
	}
	if sample[n.SplitFeature] < n.SplitValue {
		return pathLength(sample, n.Left, depth+1)
	}
	return pathLength(sample, n.Right, depth+1)
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, with H(i) ~ ln(i) + Euler-Mascheroni
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}
