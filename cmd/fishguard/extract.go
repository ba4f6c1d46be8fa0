package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/fishguard/pkg/dataset"
	"github.com/hed1ad/fishguard/pkg/features"
	fgcsv "github.com/hed1ad/fishguard/pkg/io/csv"
)

func newExtractCmd(root *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract feature vectors for the configured dataset into a CSV matrix",
		Long: `Extract feature vectors for the configured dataset into a CSV matrix.
A trainable extractor is first fitted on the dataset; its head is saved
beside the output as <out>.head.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ext, err := a.extractor()
			if err != nil {
				return err
			}
			samples, err := a.loadImages(cmd.Context())
			if err != nil {
				return err
			}
			head := ""
			if out != "" {
				head = out + ".head"
			}
			if err := a.trainExtractor(ext, samples, head); err != nil {
				return err
			}
			ids, vectors := extractSurvivors(a.logger, ext, samples)
			if len(vectors) == 0 {
				return fmt.Errorf("no sample could be extracted from %d images", len(samples))
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := fgcsv.WriteMatrix(w, ids, vectors); err != nil {
				return err
			}
			a.logger.Info("features extracted",
				zap.String("extractor", ext.Name()),
				zap.Int("dim", ext.Dim()),
				zap.Int("vectors", len(vectors)),
				zap.Int("skipped", len(samples)-len(vectors)),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output CSV path (stdout when empty)")
	return cmd
}

// extractSurvivors extracts every sample, logging and dropping failures.
func extractSurvivors(logger *zap.Logger, ext features.Extractor, samples []dataset.Sample) ([]string, [][]float64) {
	ids := make([]string, 0, len(samples))
	vectors := make([][]float64, 0, len(samples))
	for _, s := range samples {
		v, err := ext.Extract(s)
		if err != nil {
			logger.Warn("skipping sample", zap.String("id", s.ID), zap.Error(err))
			continue
		}
		ids = append(ids, s.ID)
		vectors = append(vectors, v)
	}
	return ids, vectors
}
