package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rentbooks/rentbooks/pkg/recurring"
)

var manageTest bool

// rentCmd represents the rent command.
var rentCmd = &cobra.Command{
	Use:   "rent",
	Short: "Post this month's rent to the Duplex ledger",
	Long: `Read the rent table and post one entry per unit for the current month.
Entries already in the ledger are skipped.

Example:
  rentbooks rent`,
	Run: func(cmd *cobra.Command, args []string) {
		runRecurring(cmd, "rent", func(a *app) (recurring.Counts, error) {
			return a.newRun().Rent(cmd.Context())
		})
	},
}

// mortgageCmd represents the mortgage command.
var mortgageCmd = &cobra.Command{
	Use:   "mortgage",
	Short: "Post this month's mortgage payments to both ledgers",
	Long: `Read the mortgage split tables and post the principal, interest and
escrow lines for the current month to the Duplex and Main Home ledgers.

Example:
  rentbooks mortgage`,
	Run: func(cmd *cobra.Command, args []string) {
		runRecurring(cmd, "mortgage", func(a *app) (recurring.Counts, error) {
			return a.newRun().Mortgage(cmd.Context())
		})
	},
}

// manageCmd represents the manage command.
var manageCmd = &cobra.Command{
	Use:   "manage",
	Short: "Run the monthly cycle",
	Long: `Post rent and mortgage entries, then mail the monthly update.

With --test the update is sent to the operator only.

Example:
  rentbooks manage
  rentbooks manage --test`,
	Run: runManage,
}

func init() {
	manageCmd.Flags().BoolVar(&manageTest, "test", false, "Send the update to the operator only")
}

func runRecurring(cmd *cobra.Command, name string, post func(*app) (recurring.Counts, error)) {
	slog.Info("Starting recurring entries", "kind", name)

	a, err := openApp(cmd.Context())
	exitOnError(err, "failed to initialize")
	defer a.Close()

	counts, err := post(a)
	exitOnError(err, name+" failed")

	fmt.Printf("Posted %d %s entries, %d already in the ledger\n", counts.Posted, name, counts.Skipped)
}

func runManage(cmd *cobra.Command, args []string) {
	slog.Info("Starting monthly cycle", "test", manageTest)

	a, err := openApp(cmd.Context())
	exitOnError(err, "failed to initialize")
	defer a.Close()

	exitOnError(a.newRun().Manage(cmd.Context(), manageTest), "manage failed")

	slog.Info("Monthly cycle completed")
}
