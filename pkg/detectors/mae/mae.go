// Package mae implements reconstruction-error scoring with a masked linear
// autoencoder. The encoder is a PCA projection of the standardized input and
// the decoder is its transpose; a fixed fraction of the latent coordinates is
// withheld before decoding, so only structure shared by the reference set
// survives the round trip. The spread of the error over further seeded masks
// is reported as uncertainty.
package mae

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/fishguard/pkg/detectors"
	"github.com/hed1ad/fishguard/pkg/detectors/internal/preprocess"
)

func init() {
	gob.Register(&State{})
	detectors.Register(detectors.KindReconstruction, func(cfg detectors.Config) detectors.Scorer {
		return FromConfig(cfg)
	})
}

// State is the fitted encoder/decoder pair. Read-only after calibration.
type State struct {
	Scaler  preprocess.Scaler
	PCA     preprocess.PCA
	Visible []int
	// Draws are the extra masks used for the uncertainty estimate.
	Draws  [][]int
	Cutoff float64
}

// Kind implements detectors.State.
func (s *State) Kind() detectors.Kind { return detectors.KindReconstruction }

// Dim implements detectors.State.
func (s *State) Dim() int { return len(s.Scaler.Mean) }

// Threshold implements detectors.State.
func (s *State) Threshold() float64 { return s.Cutoff }

// Reconstruct returns the standardized input and its masked reconstruction.
func (s *State) Reconstruct(vector []float64) (input, output []float64) {
	input = s.Scaler.Transform(vector)
	z := s.PCA.Project(input)
	return input, s.PCA.Reconstruct(z, s.Visible)
}

func (s *State) score(vector []float64) float64 {
	return meanSquared(s.Reconstruct(vector))
}

// spread returns the sample standard deviation of the error over the primary
// mask and every draw.
func (s *State) spread(vector []float64) (float64, bool) {
	if len(s.Draws) == 0 {
		return 0, false
	}
	input := s.Scaler.Transform(vector)
	z := s.PCA.Project(input)
	errs := make([]float64, 0, len(s.Draws)+1)
	errs = append(errs, meanSquared(input, s.PCA.Reconstruct(z, s.Visible)))
	for _, mask := range s.Draws {
		errs = append(errs, meanSquared(input, s.PCA.Reconstruct(z, mask)))
	}
	return stat.StdDev(errs, nil), true
}

func meanSquared(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum / float64(len(a))
}

// Scorer implements reconstruction scoring.
type Scorer struct {
	latent      int
	maskRatio   float64
	draws       int
	seed        int64
	calibration detectors.Calibration
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithLatent sets the number of latent components.
func WithLatent(n int) Option {
	return func(s *Scorer) {
		s.latent = n
	}
}

// WithMaskRatio sets the fraction of latent coordinates withheld.
func WithMaskRatio(r float64) Option {
	return func(s *Scorer) {
		s.maskRatio = r
	}
}

// WithMaskDraws sets how many masks contribute to the uncertainty estimate.
// Values below 2 disable it.
func WithMaskDraws(n int) Option {
	return func(s *Scorer) {
		s.draws = n
	}
}

// WithSeed sets the seed that picks the mask.
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

// New creates a reconstruction scorer with the given options.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		latent:    16,
		maskRatio: 0.75,
		draws:     8,
		seed:      42,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConfig creates a scorer from shared configuration.
func FromConfig(cfg detectors.Config) *Scorer {
	opts := []Option{WithSeed(cfg.RandomSeed)}
	if cfg.Components > 0 {
		opts = append(opts, WithLatent(cfg.Components))
	}
	if cfg.MaskRatio > 0 {
		opts = append(opts, WithMaskRatio(cfg.MaskRatio))
	}
	if cfg.MaskDraws > 0 {
		opts = append(opts, WithMaskDraws(cfg.MaskDraws))
	}
	s := New(opts...)
	s.calibration = detectors.CalibrationFromConfig(cfg)
	return s
}

// Kind implements detectors.Scorer.
func (s *Scorer) Kind() detectors.Kind { return detectors.KindReconstruction }

// Calibrate fits the scaler and encoder and fixes the latent mask.
func (s *Scorer) Calibrate(reference [][]float64) (detectors.State, error) {
	if _, err := detectors.CheckReference(reference, 2); err != nil {
		return nil, err
	}
	if s.maskRatio < 0 || s.maskRatio >= 1 {
		return nil, fmt.Errorf("mask ratio must be in [0, 1), got %v", s.maskRatio)
	}

	scaler := preprocess.FitScaler(reference)
	pca, err := preprocess.FitPCA(scaler.TransformAll(reference), s.latent)
	if err != nil {
		return nil, fmt.Errorf("fit encoder: %w", err)
	}

	st := &State{
		Scaler:  scaler,
		PCA:     pca,
		Visible: visibleSet(pca.Dim(), s.maskRatio, s.seed),
	}
	for k := 1; k < s.draws; k++ {
		st.Draws = append(st.Draws, visibleSet(pca.Dim(), s.maskRatio, s.seed+int64(k)))
	}

	scores := make([]float64, len(reference))
	for i, row := range reference {
		scores[i] = st.score(row)
	}
	st.Cutoff = s.calibration.Resolve(scores, detectors.MaxOf(scores))
	return st, nil
}

// Score returns the mean squared reconstruction error under the calibrated
// mask, with the error spread over all masks as uncertainty.
func (s *Scorer) Score(vector []float64, state detectors.State) (detectors.Result, error) {
	if err := detectors.CheckVector(vector, state, detectors.KindReconstruction); err != nil {
		return detectors.Result{}, err
	}
	st, ok := state.(*State)
	if !ok {
		return detectors.Result{}, detectors.ErrStateKind
	}
	r := detectors.NewResult(st.score(vector), st.Cutoff)
	if u, ok := st.spread(vector); ok {
		r = r.WithUncertainty(u)
	}
	return r, nil
}

// visibleSet picks the latent indices kept after masking. At least one
// coordinate always stays visible.
func visibleSet(latent int, ratio float64, seed int64) []int {
	masked := int(float64(latent) * ratio)
	if masked >= latent {
		masked = latent - 1
	}
	perm := rand.New(rand.NewSource(seed)).Perm(latent)
	visible := append([]int(nil), perm[masked:]...)
	sort.Ints(visible)
	return visible
}
