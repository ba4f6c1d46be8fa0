package main

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/hed1ad/fishguard/pkg/dataset"
	"github.com/hed1ad/fishguard/pkg/detectors"
	"github.com/hed1ad/fishguard/pkg/ensemble"
	"github.com/hed1ad/fishguard/pkg/evaluation"
	"github.com/hed1ad/fishguard/pkg/synth"
)

func newDemoCmd(root *rootOptions) *cobra.Command {
	var (
		n    int
		seed int64
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run every scorer kind and an adaptive ensemble on synthetic imagery",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			ext, err := a.extractor()
			if err != nil {
				return err
			}

			// textured images stand in for lesion-covered disease imagery
			rng := rand.New(rand.NewSource(seed))
			samples := make([]dataset.Sample, n)
			for i := range samples {
				samples[i] = dataset.FromImage(fmt.Sprintf("synthetic%03d", i), synth.Texture(64, 64, rng))
			}
			reference, diseased := splitHoldOut(samples, 0.25, seed)
			normal := synth.Samples(synth.NewGenerator(synth.WithSeed(seed)).Generate(diseased))

			kinds := detectors.Kinds()
			var (
				members  []detectors.Scorer
				accuracy []float64
			)
			for _, kind := range kinds {
				summary, err := a.evaluate(ctx, ext, kind.String(), reference, diseased, normal)
				if err != nil {
					return err
				}
				printRow(out, summary)

				s, err := a.scorer(kind.String(), ext)
				if err != nil {
					return err
				}
				members = append(members, s)
				accuracy = append(accuracy, summary.Accuracy)
			}

			combiner, err := a.combiner()
			if err != nil {
				return err
			}
			weights, err := combiner.UpdateWeights(accuracy)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "ensemble weights from accuracy: %.3f\n", weights)

			h := evaluation.New(ext, ensemble.NewScorer(combiner, members...),
				evaluation.WithReferenceClass(a.cfg.Evaluation.ReferenceClass),
				evaluation.WithLogger(a.logger),
			)
			summary, err := h.Run(ctx, reference, diseased, normal)
			if err != nil {
				return err
			}
			printRow(out, summary)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "samples", "n", 40, "number of synthetic disease images")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	return cmd
}

func printRow(w io.Writer, s *evaluation.Summary) {
	fmt.Fprintf(w, "%-16s ref=%-3d diseased=%-3d normal=%-3d sensitivity=%6.2f%% specificity=%6.2f%% accuracy=%6.2f%%\n",
		s.Scorer, s.ReferenceCount, s.Diseased.Count, s.Normal.Count,
		100*s.Sensitivity, 100*s.Specificity, 100*s.Accuracy)
}
