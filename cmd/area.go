package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/habitat-cli/internal/pipeline"
	"github.com/sells-group/habitat-cli/internal/training"
)

var areaCmd = &cobra.Command{
	Use:   "area",
	Short: "Build the accessible area for the configured presence data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("area"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p := pipeline.New(cfg, nil, pipeline.NewFileSources(cfg), training.LogitTrainer{})
		summary, err := p.Area(ctx)
		if err != nil {
			return err
		}

		formatAreaSummary(os.Stdout, summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(areaCmd)
}

// formatAreaSummary writes the bounding box and mask counts to out.
func formatAreaSummary(out io.Writer, s *pipeline.AreaSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Presence records:\t%d\n", s.Records)
	_, _ = fmt.Fprintf(w, "After quality filter:\t%d\n", s.QualityFiltered)
	_, _ = fmt.Fprintf(w, "Inside area:\t%d\n", len(s.Presence))
	_, _ = fmt.Fprintf(w, "Outside area:\t%d\n", s.Removed)
	_, _ = fmt.Fprintf(w, "Latitude:\t%.4f to %.4f\n", s.Box.MinLat, s.Box.MaxLat)
	_, _ = fmt.Fprintf(w, "Longitude:\t%.4f to %.4f\n", s.Box.MinLon, s.Box.MaxLon)
	_, _ = fmt.Fprintf(w, "Accessible cells:\t%d of %d\n", s.Accessible, s.Mask.Size())
	_ = w.Flush()
}
