package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/fishguard/pkg/dataset"
	"github.com/hed1ad/fishguard/pkg/detectors"
	"github.com/hed1ad/fishguard/pkg/ensemble"
	"github.com/hed1ad/fishguard/pkg/evaluation"
	fgio "github.com/hed1ad/fishguard/pkg/io"
	fgcsv "github.com/hed1ad/fishguard/pkg/io/csv"
)

func newScoreCmd(root *rootOptions) *cobra.Command {
	var (
		statePaths   []string
		featuresPath string
		idColumn     bool
		headPath     string
	)
	cmd := &cobra.Command{
		Use:   "score --state state.gob [--state other.gob] <image>...",
		Short: "Score images against saved states; several states are combined as an ensemble",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			if len(statePaths) == 0 {
				return errors.New("at least one --state is required")
			}
			if len(args) == 0 && featuresPath == "" {
				return errors.New("no images or --features to score")
			}
			models, err := loadModels(a, statePaths)
			if err != nil {
				return err
			}
			combiner, err := a.combiner()
			if err != nil {
				return err
			}
			ens, err := ensemble.NewEnsemble(models, combiner)
			if err != nil {
				return err
			}
			ext, err := a.extractor()
			if err != nil {
				return err
			}

			w := fgcsv.NewWriter(nopCloser{cmd.OutOrStdout()})
			defer w.Close()

			reference := a.cfg.Evaluation.ReferenceClass
			if featuresPath != "" {
				return scoreMatrix(cmd.Context(), featuresPath, idColumn, models, ens, reference, w)
			}
			if headPath == "" {
				headPath = statePaths[0] + ".head"
			}
			if err := a.loadHead(ext, headPath); err != nil {
				return err
			}
			failed := 0
			for _, path := range args {
				img, err := dataset.DecodeFile(path)
				if err != nil {
					a.logger.Warn("skipping image", zap.String("path", path), zap.Error(err))
					failed++
					continue
				}
				id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				vec, err := ext.Extract(dataset.FromImage(id, img))
				if err != nil {
					a.logger.Warn("skipping image", zap.String("path", path), zap.Error(err))
					failed++
					continue
				}

				var r fgio.Result
				if len(models) == 1 {
					res, err := models[0].Score(vec)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					r = toIOResult(id, res)
				} else {
					res, err := ens.Score(vec)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					r = toIOResult(id, res.Result)
				}
				r.PredictedDisease = reference.PredictsDisease(r.IsAnomaly)
				if err := w.Write(r); err != nil {
					return err
				}
			}
			if failed == len(args) {
				return fmt.Errorf("none of %d images could be scored", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&statePaths, "state", nil, "saved scorer state (repeatable)")
	cmd.Flags().StringVar(&featuresPath, "features", "", "score the rows of a CSV feature matrix instead of images")
	cmd.Flags().BoolVar(&idColumn, "id-column", true, "the feature CSV starts with an id column")
	cmd.Flags().StringVar(&headPath, "head", "", "trained extractor head (defaults to <first state>.head)")
	return cmd
}

// scoreMatrix scores CSV feature rows. A single state streams the rows; an
// ensemble reads the matrix whole.
func scoreMatrix(ctx context.Context, path string, idColumn bool, models []detectors.Model,
	ens *ensemble.Ensemble, reference evaluation.ReferenceClass, w *fgcsv.Writer) error {
	r, err := fgcsv.NewReader(path, fgcsv.WithIDColumn(idColumn))
	if err != nil {
		return err
	}
	defer r.Close()

	write := func(res fgio.Result) error {
		res.PredictedDisease = reference.PredictsDisease(res.IsAnomaly)
		return w.Write(res)
	}

	if len(models) > 1 {
		rows, err := r.Read()
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		ids := r.IDs()
		for i, row := range rows {
			res, err := ens.Score(row)
			if err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			id := strconv.Itoa(i + 1)
			if i < len(ids) {
				id = ids[i]
			}
			if err := write(toIOResult(id, res.Result)); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	records, err := r.StreamRecords(ctx)
	if err != nil {
		return err
	}

	// ScoreStream keeps input order, so identifiers are queued alongside.
	ids := make(chan string, 100)
	vectors := make(chan []float64)
	go func() {
		defer close(vectors)
		defer close(ids)
		for rec := range records {
			select {
			case ids <- rec.ID:
			case <-ctx.Done():
				return
			}
			select {
			case vectors <- rec.Values:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make(chan detectors.Result, 100)
	done := make(chan error, 1)
	go func() {
		done <- models[0].ScoreStream(ctx, vectors, results)
		close(results)
	}()

	n := 0
	for res := range results {
		n++
		id := <-ids
		if id == "" {
			id = strconv.Itoa(n)
		}
		if err := write(toIOResult(id, res)); err != nil {
			cancel()
			for range results {
			}
			return err
		}
	}
	if err := <-done; err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("read %s: %w", path, fgcsv.ErrNoRows)
	}
	return nil
}

func loadModels(a *app, paths []string) ([]detectors.Model, error) {
	models := make([]detectors.Model, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		state, err := detectors.LoadState(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		scorer, err := detectors.New(state.Kind(), a.cfg.Scorer.Config)
		if err != nil {
			return nil, err
		}
		models = append(models, detectors.Model{Scorer: scorer, State: state})
	}
	return models, nil
}

func toIOResult(id string, r detectors.Result) fgio.Result {
	out := fgio.Result{
		ID:        id,
		Score:     r.Score,
		Threshold: r.Threshold,
		IsAnomaly: r.IsAnomaly,
	}
	if r.HasUncertainty {
		out.Uncertainty = r.Uncertainty
	}
	return out
}

// nopCloser keeps the CSV writer from closing the command's output.
type nopCloser struct {
	io.Writer
}
