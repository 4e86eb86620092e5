package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rentbooks/rentbooks/pkg/books"
	"github.com/rentbooks/rentbooks/pkg/db"
)

var statsRecent int

// statsCmd represents the stats command.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display run history statistics",
	Long: `Display statistics from the local run history.

Shows:
- Total and failed runs
- Bill outcomes by status
- Ledger postings recorded
- The month of the last update mailed
- The most recent runs

Example:
  rentbooks stats
  rentbooks stats --recent 20`,
	Run: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsRecent, "recent", 5, "Number of recent runs to list")
}

func runStats(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	_, paths := loadConfig()

	dbPath := paths.HistoryPath()
	slog.Debug("Opening history", "path", dbPath)

	conn, err := db.Open(dbPath)
	exitOnError(err, "failed to open history")
	defer conn.Close()

	history := db.NewHistory(conn)

	stats, err := history.GetStats(ctx)
	exitOnError(err, "failed to get statistics")

	lastReport, err := history.GetMetadata(ctx, books.LastReportKey)
	exitOnError(err, "failed to read metadata")

	fmt.Println("\n=== Run Statistics ===")
	fmt.Printf("Total runs:       %d\n", stats.TotalRuns)
	fmt.Printf("Failed runs:      %d\n", stats.FailedRuns)
	fmt.Printf("Bills posted:     %d\n", stats.Posted)
	fmt.Printf("Bill duplicates:  %d\n", stats.Duplicates)
	fmt.Printf("Bills in review:  %d\n", stats.Reviewed)
	fmt.Printf("Bills skipped:    %d\n", stats.Skipped)
	fmt.Printf("Bill errors:      %d\n", stats.Errored)
	fmt.Printf("Ledger postings:  %d\n", stats.Postings)

	if stats.LastRun.Valid {
		fmt.Printf("Last run:         %s\n", stats.LastRun.String)
	} else {
		fmt.Printf("Last run:         (never)\n")
	}
	if lastReport != "" {
		fmt.Printf("Last update:      %s\n", lastReport)
	}

	if statsRecent > 0 {
		runs, err := history.RecentRuns(ctx, statsRecent)
		exitOnError(err, "failed to list runs")
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
		}
		for _, r := range runs {
			fmt.Printf("  %s  %-10s %-12s %s\n", r.StartedAt.Format("2006-01-02 15:04"), r.Command, r.Status, r.Detail)
		}
	}

	fmt.Println()
}
