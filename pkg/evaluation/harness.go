// Package evaluation calibrates a scorer on a reference population, scores
// held-out disease and normal populations and reports how well the decisions
// separate them.
//
// When no genuine normal population exists, callers typically substitute
// pseudo-normal samples from the synth package. Specificity measured against
// such samples is a proxy, not ground truth.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/hed1ad/fishguard/pkg/dataset"
	"github.com/hed1ad/fishguard/pkg/detectors"
	"github.com/hed1ad/fishguard/pkg/features"
)

// Harness drives one evaluation run. A Harness holds no per-run state and
// may be reused.
type Harness struct {
	extractor features.Extractor
	scorer    detectors.Scorer
	reference ReferenceClass
	workers   int
	logger    *zap.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithReferenceClass sets what the reference population represents.
func WithReferenceClass(c ReferenceClass) Option {
	return func(h *Harness) {
		h.reference = c
	}
}

// WithWorkers bounds concurrent extraction and scoring.
func WithWorkers(n int) Option {
	return func(h *Harness) {
		h.workers = n
	}
}

// WithLogger sets the logger used for per-sample failures.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// New creates a harness for the given extractor and scorer.
func New(extractor features.Extractor, scorer detectors.Scorer, opts ...Option) *Harness {
	h := &Harness{
		extractor: extractor,
		scorer:    scorer,
		reference: ReferenceDiseased,
		workers:   runtime.GOMAXPROCS(0),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.workers < 1 {
		h.workers = 1
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Run calibrates on reference and scores diseased and normal, either of
// which may be empty. Samples that fail extraction are logged and counted in
// Summary.Skipped. Calibration failure aborts the run.
func (h *Harness) Run(ctx context.Context, reference, diseased, normal []dataset.Sample) (*Summary, error) {
	if h.extractor == nil || h.scorer == nil {
		return nil, errors.New("harness requires an extractor and a scorer")
	}

	model, skipped, err := h.Calibrate(ctx, reference)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Scorer:         h.scorer.Kind().String(),
		Extractor:      h.extractor.Name(),
		Reference:      h.reference,
		ReferenceCount: len(reference) - skipped,
		Threshold:      model.State.Threshold(),
		Skipped:        skipped,
	}

	diseasedScores, n, err := h.scoreAll(ctx, model, diseased)
	if err != nil {
		return nil, err
	}
	summary.Skipped += n

	normalScores, n, err := h.scoreAll(ctx, model, normal)
	if err != nil {
		return nil, err
	}
	summary.Skipped += n

	summary.Diseased = summarize(diseasedScores)
	summary.Normal = summarize(normalScores)
	summary.computeMetrics()

	h.logger.Info("evaluation finished",
		zap.String("scorer", summary.Scorer),
		zap.String("extractor", summary.Extractor),
		zap.Int("reference", summary.ReferenceCount),
		zap.Int("diseased", summary.Diseased.Count),
		zap.Int("normal", summary.Normal.Count),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// Calibrate extracts the reference population and fits the scorer on the
// samples that survive extraction. A trainable extractor is fitted on the
// reference population first. It returns the bound model and the number of
// skipped samples.
func (h *Harness) Calibrate(ctx context.Context, reference []dataset.Sample) (detectors.Model, int, error) {
	if t, ok := h.extractor.(features.Trainable); ok {
		if err := t.Fit(reference); err != nil {
			return detectors.Model{}, 0, fmt.Errorf("fit %s extractor: %w", t.Name(), err)
		}
	}
	vectors, skipped, err := h.extractAll(ctx, reference)
	if err != nil {
		return detectors.Model{}, 0, err
	}
	model, err := detectors.Fit(h.scorer, vectors)
	if err != nil {
		return detectors.Model{}, 0, fmt.Errorf("calibrate %s: %w", h.scorer.Kind(), err)
	}
	h.logger.Debug("calibrated",
		zap.String("scorer", h.scorer.Kind().String()),
		zap.Int("vectors", len(vectors)),
		zap.Float64("threshold", model.State.Threshold()),
	)
	return model, skipped, nil
}

func (h *Harness) extractAll(ctx context.Context, samples []dataset.Sample) ([][]float64, int, error) {
	vectors := make([][]float64, len(samples))
	ok := make([]bool, len(samples))

	err := h.forEach(ctx, len(samples), func(i int) {
		v, err := h.extractor.Extract(samples[i])
		if err != nil {
			h.skip(samples[i], err)
			return
		}
		vectors[i] = v
		ok[i] = true
	})
	if err != nil {
		return nil, 0, err
	}

	out := make([][]float64, 0, len(samples))
	for i, v := range vectors {
		if ok[i] {
			out = append(out, v)
		}
	}
	return out, len(samples) - len(out), nil
}

func (h *Harness) scoreAll(ctx context.Context, model detectors.Model, samples []dataset.Sample) ([]SampleScore, int, error) {
	scores := make([]SampleScore, len(samples))
	ok := make([]bool, len(samples))

	err := h.forEach(ctx, len(samples), func(i int) {
		s := samples[i]
		v, err := h.extractor.Extract(s)
		if err != nil {
			h.skip(s, err)
			return
		}
		r, err := model.Score(v)
		if err != nil {
			h.skip(s, err)
			return
		}
		scores[i] = SampleScore{ID: s.ID, Result: r, Disease: h.reference.PredictsDisease(r.IsAnomaly)}
		ok[i] = true
	})
	if err != nil {
		return nil, 0, err
	}

	out := make([]SampleScore, 0, len(samples))
	for i, s := range scores {
		if ok[i] {
			out = append(out, s)
		}
	}
	return out, len(samples) - len(out), nil
}

func (h *Harness) skip(s dataset.Sample, err error) {
	h.logger.Warn("skipping sample",
		zap.String("id", s.ID),
		zap.String("source", s.Source),
		zap.Error(err),
	)
}

// forEach runs fn for every index in [0, n) on at most h.workers goroutines.
// Each index is written by exactly one goroutine, so callers may store
// results by index without locking.
func (h *Harness) forEach(ctx context.Context, n int, fn func(i int)) error {
	if n == 0 {
		return ctx.Err()
	}
	workers := h.workers
	if workers > n {
		workers = n
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}

	var err error
feed:
	for i := 0; i < n; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return err
}
