package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SWAB-ITO/swab-app-sub000/internal/pipeline"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply registry schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var identityCmd = &cobra.Command{
	Use:   "identity <id>",
	Short: "Show a canonical identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ident, err := st.GetIdentity(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "identity")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ident)
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage CRM contacts",
}

var contactsRestoreCmd = &cobra.Command{
	Use:   "restore <contact-id>",
	Short: "Undo the archival of a CRM contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := initCRM()
		if err != nil {
			return err
		}
		if err := provider.RestoreContact(cmd.Context(), args[0]); err != nil {
			return eris.Wrapf(err, "restore contact %s", args[0])
		}
		zap.L().Info("contact restored", zap.String("crm", provider.Name()), zap.String("contact_id", args[0]))
		fmt.Printf("%s contact %s\n", color.New(color.FgGreen).Sprint("restored"), args[0])
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage year-scoped settings stored in the registry",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Override a year setting (signup_form_id, campaign_id, fundraising_goal, ...)",
	Long: "Stores an operator override for the program year. Year settings use their config key. " +
		"Status overrides use " + pipeline.StatusOverridePrefix + "<identity-id>.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		year, _ := cmd.Flags().GetInt("year")
		if year == 0 {
			year = cfg.Program.Year
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SetAppConfig(ctx, year, args[0], args[1]); err != nil {
			return eris.Wrap(err, "config set")
		}
		fmt.Printf("%d %s = %s\n", year, args[0], args[1])
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the overrides stored for a program year",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		year, _ := cmd.Flags().GetInt("year")
		if year == 0 {
			year = cfg.Program.Year
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		kv, err := st.AppConfig(ctx, year)
		if err != nil {
			return eris.Wrap(err, "config show")
		}
		if len(kv) == 0 {
			fmt.Fprintln(os.Stderr, "No overrides for "+strconv.Itoa(year)+".")
			return nil
		}
		formatAppConfig(os.Stdout, kv)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test connectivity to the registry, Jotform and the CRM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var checks []connCheck
		st, err := openStore(ctx)
		if err != nil {
			checks = append(checks, connCheck{name: "store", err: err})
		} else {
			defer st.Close() //nolint:errcheck
			checks = append(checks, connCheck{name: "store", err: st.Ping(ctx)})
		}

		checks = append(checks, connCheck{name: "jotform", err: initJotform().Ping(ctx)})

		provider, err := initCRM()
		if err == nil {
			err = provider.Ping(ctx)
		}
		checks = append(checks, connCheck{name: "crm (" + cfg.CRM.Provider + ")", err: err})

		if failed := writeChecks(os.Stdout, checks); failed > 0 {
			return eris.Errorf("check: %d of %d connections failed", failed, len(checks))
		}
		return nil
	},
}

func init() {
	configSetCmd.Flags().Int("year", 0, "program year (default: program.year)")
	configShowCmd.Flags().Int("year", 0, "program year (default: program.year)")
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)

	contactsCmd.AddCommand(contactsRestoreCmd)

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(checkCmd)
}

type connCheck struct {
	name string
	err  error
}

// writeChecks prints one line per check and returns the number that failed.
func writeChecks(out io.Writer, checks []connCheck) int {
	failed := 0
	for _, c := range checks {
		if c.err != nil {
			failed++
			_, _ = fmt.Fprintf(out, "  %-20s %s %v\n", c.name, color.New(color.FgRed).Sprint("FAIL"), c.err)
			continue
		}
		_, _ = fmt.Fprintf(out, "  %-20s %s\n", c.name, color.New(color.FgGreen).Sprint("OK"))
	}
	return failed
}

// formatAppConfig writes overrides sorted by key.
func formatAppConfig(out io.Writer, kv map[string]string) {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tVALUE")
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", k, kv[k])
	}
	_ = w.Flush()
}
