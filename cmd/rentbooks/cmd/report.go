package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rentbooks/rentbooks/internal/google/gcs"
	"github.com/rentbooks/rentbooks/pkg/pathutil"
	"github.com/rentbooks/rentbooks/pkg/report"
)

var (
	reportTest bool
	reportPDF  string
)

// reportCmd represents the report command.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Mail the monthly update",
	Long: `Assemble the monthly update from the Duplex workbook and mail it.

The update carries the month's cash flow, the loan balances and the scraped
property value estimate. With --test it is sent to the operator only.
With --pdf a printed copy is written to a local path or gs://bucket/object.

Example:
  rentbooks report --test
  rentbooks report --pdf gs://books-archive/updates/2024-03.pdf`,
	Run: runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportTest, "test", false, "Send the update to the operator only")
	reportCmd.Flags().StringVar(&reportPDF, "pdf", "", "Also save the update as PDF to this path")
}

func runReport(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	slog.Info("Starting report", "test", reportTest)

	a, err := openApp(ctx)
	exitOnError(err, "failed to initialize")
	defer a.Close()

	data, err := a.newRun().Report(ctx, reportTest)
	exitOnError(err, "report failed")

	fmt.Printf("Sent %s\n", data.Title)
	if data.Estimate == nil {
		fmt.Println("Property estimate unavailable this month")
	}

	if reportPDF == "" {
		return
	}

	html, err := report.RenderHTML(data)
	exitOnError(err, "failed to render update")

	pdf, err := report.RenderPDF(ctx, html)
	exitOnError(err, "failed to print update")

	if pathutil.IsRemote(reportPDF) {
		err = gcs.Write(ctx, reportPDF, pdf, "application/pdf")
	} else {
		if err = a.paths.EnsureParentDir(reportPDF); err == nil {
			err = os.WriteFile(reportPDF, pdf, 0644)
		}
	}
	exitOnError(err, "failed to save PDF")

	slog.Info("PDF saved", "path", reportPDF, "bytes", len(pdf))
}
