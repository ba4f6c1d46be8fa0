package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/fishguard/internal/report"
	"github.com/hed1ad/fishguard/pkg/dataset"
	"github.com/hed1ad/fishguard/pkg/evaluation"
	"github.com/hed1ad/fishguard/pkg/features"
	"github.com/hed1ad/fishguard/pkg/synth"
)

func newEvaluateCmd(root *rootOptions) *cobra.Command {
	var (
		scorerNames []string
		noStore     bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Calibrate on part of the dataset and report separation of held-out disease and normal images",
		Long: `evaluate splits the configured image set into a reference part and a held-out
disease part, then scores the held-out images together with a normal population.
Without dataset.normal_dir the normal population is synthesized from the
reference images (heavy blur, inversion, heavy noise, solid fills), so the
reported specificity is only a proxy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			if len(scorerNames) == 0 {
				scorerNames = []string{a.cfg.Scorer.Name}
			}
			ext, err := a.extractor()
			if err != nil {
				return err
			}

			samples, err := a.loadImages(ctx)
			if err != nil {
				return err
			}
			reference, diseased := splitHoldOut(samples, a.cfg.Dataset.HoldOut, a.cfg.Dataset.Seed)
			normal, err := a.normalPopulation(ctx, reference)
			if err != nil {
				return err
			}

			var store *report.Store
			if !noStore {
				store, err = report.Open(a.cfg.Report.DatabasePath)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			for _, name := range scorerNames {
				summary, err := a.evaluate(ctx, ext, name, reference, diseased, normal)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), summary.String())
				if store != nil {
					id, err := store.Save(ctx, summary)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "run %s saved\n", id)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&scorerNames, "scorer", "s", nil, "scorer kinds to evaluate (defaults to scorer.name)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not record runs in the report database")
	return cmd
}

// normalPopulation loads genuine normals when configured and otherwise
// synthesizes pseudo-normals from the reference samples.
func (a *app) normalPopulation(ctx context.Context, reference []dataset.Sample) ([]dataset.Sample, error) {
	if a.cfg.Dataset.NormalDir != "" {
		return a.loadDir(ctx, a.cfg.Dataset.NormalDir)
	}
	gen := synth.NewGenerator(
		synth.WithSources(a.cfg.Evaluation.PseudoSources),
		synth.WithSeed(a.cfg.Dataset.Seed),
	)
	pseudo := gen.Generate(reference)
	a.logger.Info("synthesized pseudo-normal population",
		zap.Int("samples", len(pseudo)),
	)
	return synth.Samples(pseudo), nil
}

func (a *app) evaluate(ctx context.Context, ext features.Extractor, scorerName string, reference, diseased, normal []dataset.Sample) (*evaluation.Summary, error) {
	scorer, err := a.scorer(scorerName, ext)
	if err != nil {
		return nil, err
	}
	opts := []evaluation.Option{
		evaluation.WithReferenceClass(a.cfg.Evaluation.ReferenceClass),
		evaluation.WithLogger(a.logger),
	}
	if a.cfg.Evaluation.Workers > 0 {
		opts = append(opts, evaluation.WithWorkers(a.cfg.Evaluation.Workers))
	}
	return evaluation.New(ext, scorer, opts...).Run(ctx, reference, diseased, normal)
}
