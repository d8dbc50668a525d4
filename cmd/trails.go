package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Query the identity change trail",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		subject, _ := cmd.Flags().GetString("subject")
		typ, _ := cmd.Flags().GetString("type")
		since, _ := cmd.Flags().GetDuration("since")
		significant, _ := cmd.Flags().GetBool("significant")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ChangeFilter{
			SubjectID:       subject,
			Type:            model.ChangeType(typ),
			SignificantOnly: significant,
			Limit:           limit,
		}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		list, err := st.ListChanges(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "changes")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No changes found.")
			return nil
		}
		formatChangesList(os.Stdout, list)
		return nil
	},
}

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List warnings and errors recorded by pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, _ := cmd.Flags().GetString("run")
		kind, _ := cmd.Flags().GetString("kind")
		severity, _ := cmd.Flags().GetString("severity")
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := st.ListIssues(ctx, store.IssueFilter{
			RunID:    runID,
			Kind:     model.IssueKind(kind),
			Severity: model.Severity(severity),
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "issues")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No issues found.")
			return nil
		}
		formatIssuesList(os.Stdout, list)
		return nil
	},
}

func init() {
	changesCmd.Flags().String("subject", "", "filter by identity id")
	changesCmd.Flags().String("type", "", "filter by change type")
	changesCmd.Flags().Duration("since", 0, "only changes newer than this (e.g. 24h, 168h)")
	changesCmd.Flags().Bool("significant", false, "only significant changes")
	changesCmd.Flags().Int("limit", 100, "max number of changes to display")

	issuesCmd.Flags().String("run", "", "filter by run id")
	issuesCmd.Flags().String("kind", "", "filter by issue kind")
	issuesCmd.Flags().String("severity", "", "filter by severity")
	issuesCmd.Flags().Int("limit", 100, "max number of issues to display")

	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(issuesCmd)
}

// formatChangesList writes a tabular list of changes to w.
func formatChangesList(out io.Writer, list []model.Change) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AT\tSUBJECT\tTYPE\tFIELD\tOLD\tNEW\tSIG")
	_, _ = fmt.Fprintln(w, "--\t-------\t----\t-----\t---\t---\t---")

	for _, c := range list {
		sig := ""
		if c.Significant {
			sig = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.At.Format("2006-01-02 15:04"),
			c.SubjectID,
			c.Type,
			c.Field,
			truncate(c.OldValue, 30),
			truncate(c.NewValue, 30),
			sig,
		)
	}
	_ = w.Flush()
}

// formatIssuesList writes a tabular list of issues to w.
func formatIssuesList(out io.Writer, list []model.Issue) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tSTAGE\tSUBJECT\tKIND\tSEVERITY\tMESSAGE")
	_, _ = fmt.Fprintln(w, "---\t-----\t-------\t----\t--------\t-------")

	for _, is := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(is.RunID),
			is.Stage,
			is.SubjectID,
			is.Kind,
			severityColor(is.Severity).Sprint(is.Severity),
			is.Message,
		)
	}
	_ = w.Flush()
}
