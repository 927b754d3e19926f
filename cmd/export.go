package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"timer2ticket/output"
)

var (
	exportFormat string
	exportMode   string
	exportOutput string
	exportUserID string
	exportLimit  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the mappings or job logs of a user to CSV/Excel",
	Long: `Export data of one user from the storage.

Modes:
- mappings: one row per service object of every mapping
- jobs: the most recent job logs including their error detail

Output format can be selected explicitly via --format or inferred from --output extension.`,
	Example: `
  # Export mappings to CSV
  timer2ticket export --user 6502c1f0 --mode mappings --output ./mappings.csv

  # Export the last 200 job logs to Excel
  timer2ticket export --user 6502c1f0 --mode jobs --limit 200 --output ./jobs.xlsx

  # Force Excel format independent of extension
  timer2ticket export --user 6502c1f0 --mode mappings --format excel --output ./mappings.out
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := exportFormat
		if strings.TrimSpace(format) == "" {
			format = detectExportFormat(exportOutput)
		}
		writer, err := output.WriterForFormat(format)
		if err != nil {
			return err
		}

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var table output.Table
		mode := strings.TrimSpace(strings.ToLower(exportMode))
		switch mode {
		case "", "mappings":
			mode = "mappings"
			user, err := a.store.GetUser(ctx, exportUserID)
			if err != nil {
				return err
			}
			table = output.MappingsTable(user.Mappings)
		case "jobs":
			logs, err := a.store.ListJobLogs(ctx, exportUserID, exportLimit)
			if err != nil {
				return err
			}
			table = output.JobLogsTable(logs)
		default:
			return fmt.Errorf("unsupported export mode: %s (supported: mappings, jobs)", exportMode)
		}

		if err := writer.Write(exportOutput, table); err != nil {
			return err
		}
		fmt.Printf("Export completed. Rows: %d, Mode: %s, Format: %s, File: %s\n", len(table.Rows), mode, format, exportOutput)
		return nil
	},
}

func detectExportFormat(path string) string {
	switch output.FormatFromPath(path) {
	case "xlsx", "xlsm", "xls":
		return "excel"
	default:
		return "csv"
	}
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportUserID, "user", "", "User ID")
	exportCmd.Flags().StringVar(&exportMode, "mode", "mappings", "Export mode: mappings|jobs")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "Output format: csv|excel (optional, inferred from output extension)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 100, "Maximum number of job logs in jobs mode")

	_ = exportCmd.MarkFlagRequired("user")
	_ = exportCmd.MarkFlagRequired("output")
}
