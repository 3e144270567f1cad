package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/habitat-cli/internal/pipeline"
	"github.com/sells-group/habitat-cli/internal/training"
)

var cvCmd = &cobra.Command{
	Use:   "cv",
	Short: "Cross-validate the configured model without saving a run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if folds, _ := cmd.Flags().GetInt("folds"); folds > 0 {
			cfg.Training.NumFolds = folds
		}
		if err := cfg.Validate("cv"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p := pipeline.New(cfg, nil, pipeline.NewFileSources(cfg), training.LogitTrainer{})
		report, err := p.CrossValidate(ctx)
		if err != nil {
			return err
		}

		formatCVReport(os.Stdout, report)
		return nil
	},
}

func init() {
	cvCmd.Flags().Int("folds", 0, "number of folds (overrides training.num_folds)")
	rootCmd.AddCommand(cvCmd)
}

// formatCVReport writes one row per fold followed by the aggregate F1.
func formatCVReport(out io.Writer, r *training.CVReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FOLD\tTRAIN\tVAL\tTEST\tPRECISION\tRECALL\tF1\tTHRESHOLD\tNOTE")
	_, _ = fmt.Fprintln(w, "----\t-----\t---\t----\t---------\t------\t--\t---------\t----")

	for _, f := range r.Folds {
		threshold := "-"
		if !f.Skipped {
			threshold = strconv.FormatFloat(f.Threshold, 'f', 4, 64)
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			f.Fold,
			f.TrainSize,
			f.ValSize,
			f.TestSize,
			pct(f.Metrics.Precision),
			pct(f.Metrics.Recall),
			pct(f.Metrics.F1),
			threshold,
			f.Reason,
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nMean F1: %s ± %s over %d scored folds\n", pct(r.MeanF1), pct(r.StdF1), r.Scored)
}
