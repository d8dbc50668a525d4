package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/SWAB-ITO/swab-app-sub000/internal/conflict"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Review reconciliation conflicts",
}

// -- conflicts list --

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflicts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		typ, _ := cmd.Flags().GetString("type")
		subject, _ := cmd.Flags().GetString("subject")
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := conflict.NewService(st).List(ctx, store.ConflictFilter{
			Status:    model.ConflictStatus(status),
			Type:      model.ConflictType(typ),
			SubjectID: subject,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "conflicts list")
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No conflicts found.")
			return nil
		}
		formatConflictsList(os.Stdout, list)
		return nil
	},
}

// -- conflicts show --

var conflictsShowCmd = &cobra.Command{
	Use:   "show <conflict-id>",
	Short: "Show a conflict with its payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c, err := st.GetConflict(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "conflicts show")
		}
		return writeConflict(os.Stdout, c)
	},
}

// -- conflicts resolve --

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a pending conflict with option a, option b or a custom value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		choose, _ := cmd.Flags().GetString("choose")
		value, _ := cmd.Flags().GetString("value")
		by, _ := cmd.Flags().GetString("by")

		d, err := parseDecision(choose, value, by)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c, err := conflict.NewService(st).Resolve(ctx, args[0], d)
		if err != nil {
			return eris.Wrap(err, "conflicts resolve")
		}
		fmt.Printf("%s %s %s\n", color.New(color.FgGreen).Sprint("resolved"), c.ID, c.Type)
		return nil
	},
}

// -- conflicts skip --

var conflictsSkipCmd = &cobra.Command{
	Use:   "skip <conflict-id>",
	Short: "Close a pending conflict without a decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		by, _ := cmd.Flags().GetString("by")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c, err := conflict.NewService(st).Skip(ctx, args[0], by)
		if err != nil {
			return eris.Wrap(err, "conflicts skip")
		}
		fmt.Printf("%s %s %s\n", color.New(color.FgYellow).Sprint("skipped"), c.ID, c.Type)
		return nil
	},
}

func init() {
	conflictsListCmd.Flags().String("status", string(model.ConflictPending), "filter by status (pending, resolved, skipped); empty for all")
	conflictsListCmd.Flags().String("type", "", "filter by conflict type")
	conflictsListCmd.Flags().String("subject", "", "filter by identity id")
	conflictsListCmd.Flags().Int("limit", 100, "max number of conflicts to display")

	conflictsResolveCmd.Flags().String("choose", "", "a, b or custom")
	conflictsResolveCmd.Flags().String("value", "", "value for a custom decision")
	conflictsResolveCmd.Flags().String("by", os.Getenv("USER"), "operator recording the decision")
	conflictsSkipCmd.Flags().String("by", os.Getenv("USER"), "operator recording the decision")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsShowCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	conflictsCmd.AddCommand(conflictsSkipCmd)
	rootCmd.AddCommand(conflictsCmd)
}

// parseDecision maps the --choose flag to a decision.
func parseDecision(choose, value, by string) (model.Decision, error) {
	d := model.Decision{Value: value, By: by}
	switch choose {
	case "a":
		d.Kind = model.DecideOptionA
	case "b":
		d.Kind = model.DecideOptionB
	case "custom":
		if value == "" {
			return d, eris.New("--value is required for a custom decision")
		}
		d.Kind = model.DecideCustom
	default:
		return d, eris.Errorf("--choose must be a, b or custom, got %q", choose)
	}
	return d, nil
}

// severityColor returns the color used for a severity in listings.
func severityColor(s model.Severity) *color.Color {
	switch s {
	case model.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case model.SeverityHigh:
		return color.New(color.FgRed)
	case model.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// formatConflictsList writes a tabular list of conflicts to w.
func formatConflictsList(out io.Writer, list []model.Conflict) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSUBJECT\tTYPE\tSEVERITY\tOPTION A\tOPTION B\tREC\tSTATUS")
	_, _ = fmt.Fprintln(w, "--\t-------\t----\t--------\t--------\t--------\t---\t------")

	for _, c := range list {
		rec := string(c.Recommended)
		if rec == "" {
			rec = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			c.SubjectID,
			c.Type,
			severityColor(c.Severity).Sprint(c.Severity),
			truncate(c.OptionA.Value, 30),
			truncate(c.OptionB.Value, 30),
			rec,
			c.Status,
		)
	}
	_ = w.Flush()
}

// writeConflict writes a conflict and its payload as indented JSON.
func writeConflict(out io.Writer, c *model.Conflict) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*model.Conflict
		Payload model.ConflictPayload `json:"payload,omitempty"`
	}{c, c.Payload})
}

// truncate shortens s to n characters for tabular output.
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
