package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/pipeline"
	"github.com/sells-group/habitat-cli/internal/training"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full habitat modelling experiment",
	Long:  "Preprocesses occurrence data, optionally tunes hyperparameters, cross-validates, trains the final model and writes the experiment directory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if title, _ := cmd.Flags().GetString("title"); title != "" {
			cfg.Experiment.Title = title
		}
		if cmd.Flags().Changed("optimise") {
			cfg.Optimisation.Enabled, _ = cmd.Flags().GetBool("optimise")
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := pipeline.New(cfg, st, pipeline.NewFileSources(cfg), training.LogitTrainer{})
		result, err := p.Run(ctx)
		if err != nil {
			zap.L().Error("run failed", zap.Error(err))
			return err
		}

		formatRunResult(os.Stdout, result)
		return nil
	},
}

func init() {
	runCmd.Flags().String("title", "", "experiment title (overrides experiment.title)")
	runCmd.Flags().Bool("optimise", false, "run the hyperparameter search before training")
	rootCmd.AddCommand(runCmd)
}

// formatRunResult writes a short summary of a finished run to out.
func formatRunResult(out io.Writer, r *pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.RunID)
	_, _ = fmt.Fprintf(w, "Output:\t%s\n", r.OutputDir)
	_, _ = fmt.Fprintf(w, "Train/test:\t%d/%d\n", r.TrainSize, r.TestSize)
	if r.CV != nil {
		_, _ = fmt.Fprintf(w, "CV F1:\t%s ± %s (%d/%d folds)\n", pct(r.CV.MeanF1), pct(r.CV.StdF1), r.CV.Scored, len(r.CV.Folds))
	}
	if r.Study != nil {
		_, _ = fmt.Fprintf(w, "Best trial:\t%d of %d\n", r.Study.Best.Number, len(r.Study.Trials))
	}
	_, _ = fmt.Fprintf(w, "Threshold:\t%.4f\n", r.Threshold)
	_, _ = fmt.Fprintf(w, "Test precision:\t%s\n", pct(r.Test.Precision))
	_, _ = fmt.Fprintf(w, "Test recall:\t%s\n", pct(r.Test.Recall))
	_, _ = fmt.Fprintf(w, "Test F1:\t%s\n", pct(r.Test.F1))
	_ = w.Flush()
}

// pct formats a fraction as a percentage, or "n/a" when undefined.
func pct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}
