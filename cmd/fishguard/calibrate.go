package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/fishguard/pkg/detectors"
	fgcsv "github.com/hed1ad/fishguard/pkg/io/csv"
)

func newCalibrateCmd(root *rootOptions) *cobra.Command {
	var (
		scorerName   string
		out          string
		featuresPath string
		idColumn     bool
	)
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate a scorer on the reference images and save its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			if scorerName == "" {
				scorerName = a.cfg.Scorer.Name
			}
			ext, err := a.extractor()
			if err != nil {
				return err
			}
			scorer, err := a.scorer(scorerName, ext)
			if err != nil {
				return err
			}

			var reference [][]float64
			if featuresPath != "" {
				r, err := fgcsv.NewReader(featuresPath, fgcsv.WithIDColumn(idColumn))
				if err != nil {
					return err
				}
				reference, err = r.Read()
				r.Close()
				if err != nil {
					return fmt.Errorf("read %s: %w", featuresPath, err)
				}
			} else {
				samples, err := a.loadImages(cmd.Context())
				if err != nil {
					return err
				}
				if err := a.trainExtractor(ext, samples, out+".head"); err != nil {
					return err
				}
				_, reference = extractSurvivors(a.logger, ext, samples)
			}

			state, err := scorer.Calibrate(reference)
			if err != nil {
				return fmt.Errorf("calibrate %s: %w", scorer.Kind(), err)
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := detectors.SaveState(f, state); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			a.logger.Info("state saved",
				zap.String("scorer", state.Kind().String()),
				zap.Int("dim", state.Dim()),
				zap.Int("reference", len(reference)),
				zap.Float64("threshold", state.Threshold()),
				zap.String("path", out),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s state: dim=%d threshold=%.6g -> %s\n",
				state.Kind(), state.Dim(), state.Threshold(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&scorerName, "scorer", "s", "", "scorer kind (defaults to scorer.name)")
	cmd.Flags().StringVarP(&out, "out", "o", "state.gob", "state output path")
	cmd.Flags().StringVar(&featuresPath, "features", "", "calibrate from a CSV feature matrix instead of images")
	cmd.Flags().BoolVar(&idColumn, "id-column", true, "the feature CSV starts with an id column")
	return cmd
}
