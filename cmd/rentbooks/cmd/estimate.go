package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rentbooks/rentbooks/pkg/estimate"
)

// estimateCmd represents the estimate command.
var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Print the property value estimate",
	Long: `Scrape the Trulia estimate for the configured property and print it.

A fresh estimate is cached for a day; when scraping fails the last cached
value is shown instead.

Example:
  rentbooks estimate`,
	Run: runEstimate,
}

func runEstimate(cmd *cobra.Command, args []string) {
	cfg, paths := loadConfig(
		[]string{"property", "street"},
		[]string{"property", "cityStateZip"},
		[]string{"property", "truliaId"},
	)

	addr, err := estimate.ParseAddress(cfg.Property.Street, cfg.Property.CityStateZip, cfg.Property.TruliaID)
	exitOnError(err, "invalid property address")

	exitOnError(paths.EnsureDir(paths.DataRoot()), "failed to create data directory")
	cache, err := estimate.OpenCache(paths.CachePath())
	exitOnError(err, "failed to open estimate cache")
	defer cache.Close()

	a := &app{cfg: cfg, paths: paths, cache: cache, logger: slog.Default()}
	est, err := a.estimator().Estimate(cmd.Context(), addr)
	exitOnError(err, "failed to get estimate")

	fmt.Println("\n=== Property Estimate ===")
	fmt.Printf("Link:         %s\n", est.Link)
	fmt.Printf("Estimate:     $%s\n", estimate.FormatThousands(est.Price))
	if est.Comparables > 0 {
		fmt.Printf("Comparables:  $%s (%d homes)\n", estimate.FormatThousands(est.Comparable), est.Comparables)
	} else {
		fmt.Printf("Comparables:  (none)\n")
	}
	fmt.Printf("Appreciation: $%s\n", estimate.FormatThousands(est.Appreciation))
	fmt.Printf("Fetched:      %s\n", est.FetchedAt.Format("2006-01-02 15:04"))
	fmt.Println()
}
