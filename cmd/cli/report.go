package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/karacommerce/catalog-migrator/internal/staging"
)

var reportOutput string

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export the migration ledger to an XLSX file",
	Long: `Export the migration progress ledger to an XLSX workbook, one row per
entity type, for sharing with the commerce team.`,
	Example: `  catalog-migrator report
  catalog-migrator report --output migration-report.xlsx`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "migration-report.xlsx", "Output file path")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store := staging.NewStore(staging.Pool(), *logger)
	rows, err := store.ListProgress(ctx)
	if err != nil {
		return fmt.Errorf("failed to read progress ledger: %w", err)
	}

	if err := writeReport(reportOutput, rows); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	logger.Info().Str("file", reportOutput).Int("rows", len(rows)).Msg("Report written")
	return nil
}

func writeReport(path string, rows []staging.Progress) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Migration Progress"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Entity", "Status", "Total", "Processed", "Success", "Errors", "Started At", "Completed At", "Error Details"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}

	for rowIdx, r := range rows {
		values := []any{
			r.EntityType,
			r.Status,
			r.TotalCount,
			r.ProcessedCount,
			r.SuccessCount,
			r.ErrorCount,
			formatLedgerTime(r.StartedAt),
			formatLedgerTime(r.CompletedAt),
			deref(r.ErrorDetails),
		}
		for colIdx, v := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}

	return f.SaveAs(path)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
