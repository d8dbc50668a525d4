package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SWAB-ITO/swab-app-sub000/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the CRM import file from the last populated export table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dir, _ := cmd.Flags().GetString("dir")
		format, _ := cmd.Flags().GetString("format")
		year, _ := cmd.Flags().GetInt("year")
		if dir == "" {
			dir = cfg.Export.Dir
		}
		if format == "" {
			format = cfg.Export.Format
		}
		if year == 0 {
			year = cfg.Program.Year
		}

		rows, err := st.ListExport(ctx)
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "Export table is empty; run the pipeline first.")
			return nil
		}

		path, err := export.WriteFile(dir, format, year, rows)
		if err != nil {
			return err
		}
		zap.L().Info("export written", zap.String("path", path), zap.Int("rows", len(rows)))
		fmt.Printf("%s %d rows to %s\n", color.New(color.FgGreen).Sprint("wrote"), len(rows), path)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("dir", "", "output directory (default: export.dir)")
	exportCmd.Flags().String("format", "", "csv or xlsx (default: export.format)")
	exportCmd.Flags().Int("year", 0, "program year for the file name (default: program.year)")
	rootCmd.AddCommand(exportCmd)
}
