package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hed1ad/fishguard/internal/report"
	"github.com/hed1ad/fishguard/pkg/detectors"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var (
		scorer string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded evaluation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := report.Open(a.cfg.Report.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), scorer, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSCORER\tEXTRACTOR\tSENS\tSPEC\tSKIPPED")
			for _, r := range runs {
				s := r.Summary
				sens, spec := "-", "-"
				if s.HasMetrics {
					sens = fmt.Sprintf("%.1f%%", 100*s.Sensitivity)
					spec = fmt.Sprintf("%.1f%%", 100*s.Specificity)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04"), s.Scorer, s.Extractor, sens, spec, s.Skipped)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&scorer, "scorer", "s", "", "only runs of this scorer kind")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	return cmd
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List available scorer kinds",
		Run: func(cmd *cobra.Command, args []string) {
			for _, k := range detectors.Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			fmt.Fprintln(cmd.OutOrStdout(), detectors.KindEnsemble)
		},
	}
}
