package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SWAB-ITO/swab-app-sub000/internal/authority"
	"github.com/SWAB-ITO/swab-app-sub000/internal/matcher"
	"github.com/SWAB-ITO/swab-app-sub000/internal/metrics"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation pipeline for a program year",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		provider, err := initCRM()
		if err != nil {
			return err
		}

		auth := authority.Default()
		if cfg.Authority.File != "" {
			auth, err = authority.Load(cfg.Authority.File)
			if err != nil {
				return err
			}
		}

		year, _ := cmd.Flags().GetInt("year")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		replay, _ := cmd.Flags().GetBool("replay")

		p := pipeline.New(cfg, st, initJotform(), provider, auth, metrics.New())
		res, err := p.Run(ctx, pipeline.RunOptions{Year: year, DryRun: dryRun, Replay: replay})
		if res != nil {
			formatRunResult(os.Stdout, res)
		}
		if err != nil {
			zap.L().Error("run failed", zap.Error(err))
			return eris.Wrap(err, "run")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Int("year", 0, "program year (default: program.year)")
	runCmd.Flags().Bool("dry-run", false, "compute every stage without writing the registry or touching the CRM")
	runCmd.Flags().Bool("replay", false, "recompute from the raw records stored for the year instead of fetching")
	rootCmd.AddCommand(runCmd)
}

// formatRunResult writes a run summary to out.
func formatRunResult(out io.Writer, res *pipeline.Result) {
	run := res.Run
	status := string(run.Status)
	switch run.Status {
	case model.RunStatusComplete:
		status = color.New(color.FgGreen).Sprint(status)
	case model.RunStatusFailed:
		status = color.New(color.FgRed).Sprint(status)
	}
	if run.DryRun {
		status += " (dry run)"
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	_, _ = fmt.Fprintf(w, "Year:\t%d\n", run.Year)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", status)
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", run.Error)
	}

	methods := make([]string, 0, len(res.Matches))
	for m := range res.Matches {
		methods = append(methods, string(m))
	}
	slices.Sort(methods)
	for _, m := range methods {
		label := "Matched by " + m
		if matcher.Method(m) == matcher.MethodNone {
			label = "Unmatched"
		}
		_, _ = fmt.Fprintf(w, "%s:\t%d\n", label, res.Matches[matcher.Method(m)])
	}

	_, _ = fmt.Fprintf(w, "Conflicts:\t%d\n", res.Conflicts)
	_, _ = fmt.Fprintf(w, "Changes:\t%d\n", res.Changes)
	_, _ = fmt.Fprintf(w, "Issues:\t%d\n", res.Issues)
	_, _ = fmt.Fprintf(w, "Export rows:\t%d\n", res.Exported)
	_, _ = fmt.Fprintf(w, "Archived:\t%d\n", res.Archived)
	if res.Failed > 0 {
		_, _ = fmt.Fprintf(w, "Archival failures:\t%s\n", color.New(color.FgYellow).Sprint(res.Failed))
	}
	_ = w.Flush()
}
