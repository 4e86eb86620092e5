// Package cmd provides CLI commands for rentbooks.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rentbooks",
	Short: "Bookkeeping automation for the Duplex and Main Home",
	Long: `rentbooks keeps the rental property ledgers up to date.

It supports:
- Posting utility bills found in Gmail to the property spreadsheets
- Posting monthly rent and mortgage transactions
- Mailing the monthly update with a property value estimate
- Receiving expense form submissions over HTTP

Postings are de-duplicated against the ledgers, so every command can be
re-run safely.

Example:
  rentbooks bills
  rentbooks manage --test
  rentbooks stats`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logLevel := slog.LevelInfo
		if debug {
			logLevel = slog.LevelDebug
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(billsCmd)
	rootCmd.AddCommand(rentCmd)
	rootCmd.AddCommand(mortgageCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(manageCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}

// exitOnError logs the error and exits.
func exitOnError(err error, msg string) {
	if err != nil {
		slog.Error(msg, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
		os.Exit(1)
	}
}
