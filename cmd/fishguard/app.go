package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"

	"go.uber.org/zap"

	"github.com/hed1ad/fishguard/internal/config"
	"github.com/hed1ad/fishguard/internal/logging"
	"github.com/hed1ad/fishguard/pkg/dataset"
	"github.com/hed1ad/fishguard/pkg/detectors"
	"github.com/hed1ad/fishguard/pkg/ensemble"
	"github.com/hed1ad/fishguard/pkg/features"
)

// app carries the loaded configuration and logger for one command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	ext    features.Extractor
}

func newApp(opts *rootOptions) (*app, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.debug {
		cfg.Debug = true
	}
	return &app{cfg: cfg, logger: logging.Must(cfg.Debug, cfg.Log)}, nil
}

func (a *app) close() {
	if a.ext != nil {
		if err := features.Close(a.ext); err != nil {
			a.logger.Warn("closing extractor", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// extractor builds the configured extractor once per command.
func (a *app) extractor() (features.Extractor, error) {
	if a.ext != nil {
		return a.ext, nil
	}
	ext, err := features.New(a.cfg.Features)
	if err != nil {
		return nil, err
	}
	a.ext = ext
	return ext, nil
}

// headStore is implemented by extractors whose trained parameters are saved
// beside a state file.
type headStore interface {
	SaveHead(w io.Writer) error
	LoadHead(r io.Reader) error
}

// trainExtractor fits a trainable extractor on samples and saves its trained
// parameters to path when path is set.
func (a *app) trainExtractor(ext features.Extractor, samples []dataset.Sample, path string) error {
	t, ok := ext.(features.Trainable)
	if !ok {
		return nil
	}
	if err := t.Fit(samples); err != nil {
		return fmt.Errorf("fit %s extractor: %w", ext.Name(), err)
	}
	hs, ok := ext.(headStore)
	if !ok || path == "" {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := hs.SaveHead(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.logger.Info("extractor head saved", zap.String("extractor", ext.Name()), zap.String("path", path))
	return nil
}

// loadHead restores parameters saved by trainExtractor.
func (a *app) loadHead(ext features.Extractor, path string) error {
	if _, ok := ext.(features.Trainable); !ok {
		return nil
	}
	hs, ok := ext.(headStore)
	if !ok {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s extractor needs a trained head: %w", ext.Name(), err)
	}
	defer f.Close()
	return hs.LoadHead(f)
}

// scorer builds the named scorer kind. Memory-bank scorers inherit the
// extractor's patch length unless configured explicitly. The ensemble kind
// combines the configured ensemble members.
func (a *app) scorer(name string, ext features.Extractor) (detectors.Scorer, error) {
	cfg := a.cfg.Scorer.Config
	kind, err := detectors.ParseKind(name)
	if err != nil {
		return nil, err
	}
	if kind == detectors.KindEnsemble {
		return a.ensembleScorer(ext)
	}
	if kind == detectors.KindMemoryBank && cfg.PatchDim == 0 && ext != nil {
		cfg.PatchDim = features.PatchDim(ext)
	}
	return detectors.New(kind, cfg)
}

func (a *app) ensembleScorer(ext features.Extractor) (detectors.Scorer, error) {
	names := a.cfg.Ensemble.Members
	if len(names) == 0 {
		return nil, errors.New("ensemble.members is empty")
	}
	members := make([]detectors.Scorer, 0, len(names))
	for _, name := range names {
		if name == detectors.KindEnsemble.String() {
			return nil, errors.New("an ensemble cannot contain itself")
		}
		s, err := a.scorer(name, ext)
		if err != nil {
			return nil, err
		}
		members = append(members, s)
	}
	combiner, err := a.combiner()
	if err != nil {
		return nil, err
	}
	return ensemble.NewScorer(combiner, members...), nil
}

// combiner builds the configured ensemble combiner.
func (a *app) combiner() (*ensemble.Combiner, error) {
	mode, err := ensemble.ParseMode(a.cfg.Ensemble.Mode)
	if err != nil {
		return nil, err
	}
	opts := []ensemble.Option{ensemble.WithMode(mode)}
	switch a.cfg.Ensemble.TieBreak {
	case "anomalous":
		opts = append(opts, ensemble.WithTieBreak(ensemble.TieAnomalous))
	case "normal":
		opts = append(opts, ensemble.WithTieBreak(ensemble.TieNormal))
	default:
		return nil, fmt.Errorf("unknown tie break %q", a.cfg.Ensemble.TieBreak)
	}
	if len(a.cfg.Ensemble.Weights) > 0 {
		opts = append(opts, ensemble.WithWeights(a.cfg.Ensemble.Weights...))
	}
	return ensemble.New(opts...), nil
}

// loadImages reads the configured RGB set, with spectral bands and labels.
func (a *app) loadImages(ctx context.Context) ([]dataset.Sample, error) {
	d := a.cfg.Dataset
	if d.RGBDir == "" {
		return nil, errors.New("dataset.rgb_dir is not configured")
	}
	cache, err := dataset.NewCache(d.CacheSize)
	if err != nil {
		return nil, err
	}
	loader, err := dataset.NewLoader(d.RGBDir,
		dataset.WithSpectralDir(d.SpectralDir),
		dataset.WithLabelDir(d.LabelDir),
		dataset.WithLimit(d.Limit),
		dataset.WithMaxBands(d.MaxBands),
		dataset.WithCache(cache),
		dataset.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	return loader.Load(ctx)
}

// loadDir reads plain images from dir.
func (a *app) loadDir(ctx context.Context, dir string) ([]dataset.Sample, error) {
	loader, err := dataset.NewLoader(dir, dataset.WithLimit(a.cfg.Dataset.Limit), dataset.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return loader.Load(ctx)
}

// splitHoldOut shuffles samples with seed and keeps frac of them apart.
func splitHoldOut(samples []dataset.Sample, frac float64, seed int64) (reference, held []dataset.Sample) {
	perm := rand.New(rand.NewSource(seed)).Perm(len(samples))
	nHeld := int(frac * float64(len(samples)))
	for i, p := range perm {
		if i < nHeld {
			held = append(held, samples[p])
		} else {
			reference = append(reference, samples[p])
		}
	}
	return reference, held
}
