package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var billScope []string

// billsCmd represents the bills command.
var billsCmd = &cobra.Command{
	Use:   "bills",
	Short: "Post utility bills from Gmail to the ledgers",
	Long: `Scan the labelled Gmail threads and post every recognized utility bill.

For each rule in the utility rule file this command:
1. Reads the threads under the bills and records labels
2. Extracts the billed amount and date from the body or attachment
3. Posts the bill to the Duplex or Main Home ledger unless already present
4. Labels the thread, or opens a review task when no account matches

Example:
  rentbooks bills
  rentbooks bills --scope water --scope gas`,
	Run: runBills,
}

func init() {
	billsCmd.Flags().StringSliceVar(&billScope, "scope", nil, "Only run the rules with these IDs")
}

func runBills(cmd *cobra.Command, args []string) {
	slog.Info("Starting bills", "scope", billScope)

	a, err := openApp(cmd.Context(), []string{"google", "rulesSource"})
	exitOnError(err, "failed to initialize")
	defer a.Close()

	summary, err := a.newRun().Bills(cmd.Context(), billScope)
	exitOnError(err, "bills failed")

	fmt.Println("\n=== Bills ===")
	fmt.Printf("Matched:    %d\n", summary.Matched)
	fmt.Printf("Posted:     %d\n", summary.Posted)
	fmt.Printf("Duplicates: %d\n", summary.Duplicates)
	fmt.Printf("Review:     %d\n", summary.Reviewed)
	fmt.Printf("Skipped:    %d\n", summary.Skipped)
	fmt.Printf("Errors:     %d\n", summary.Errored)
	fmt.Println()

	slog.Info("Bills completed")
}
