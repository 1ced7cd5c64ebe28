package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/karacommerce/catalog-migrator/internal/staging"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the migration progress ledger",
	Long: `Print the migration progress ledger: one row per entity type with counters,
status, and timestamps from the most recent run.`,
	Example: `  catalog-migrator status`,
	Args:    cobra.NoArgs,
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store := staging.NewStore(staging.Pool(), *logger)
	rows, err := store.ListProgress(ctx)
	if err != nil {
		return fmt.Errorf("failed to read progress ledger: %w", err)
	}

	if len(rows) == 0 {
		fmt.Println("No migration progress recorded. Run 'catalog-migrator migrate' first.")
		return nil
	}

	displayProgress(rows)
	return nil
}

func displayProgress(rows []staging.Progress) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tSTATUS\tTOTAL\tPROCESSED\tSUCCESS\tERRORS\tSTARTED\tCOMPLETED")
	fmt.Fprintln(w, "------\t------\t-----\t---------\t-------\t------\t-------\t---------")

	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.EntityType, r.Status, r.TotalCount, r.ProcessedCount, r.SuccessCount, r.ErrorCount,
			formatLedgerTime(r.StartedAt), formatLedgerTime(r.CompletedAt))
	}

	w.Flush()
}

func formatLedgerTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
