// Package report assembles and sends the monthly property update email.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/rentbooks/rentbooks/pkg/estimate"
	"github.com/rentbooks/rentbooks/pkg/ledger"
	"github.com/rentbooks/rentbooks/pkg/recurring"
)

// Cells locates the report figures in the Duplex workbook.
type Cells struct {
	CashFlowRow   string // Financials row whose last three cells are QTD, YTD, ITD
	Mortgage      string
	Reimbursement string
}

// DefaultCells are the report figures of the stock workbook.
var DefaultCells = Cells{
	CashFlowRow:   "'Financials'!A12:ZZ12",
	Mortgage:      "'Summary'!B15",
	Reimbursement: "'Reimbursement'!C17",
}

// Mail is an outgoing message.
type Mail struct {
	To        []string
	Cc        []string
	FromName  string
	Subject   string
	PlainBody string
	HTMLBody  string
}

// Sender delivers mail.
type Sender interface {
	Send(ctx context.Context, m Mail) error
}

// EstimateSource provides the property estimate.
type EstimateSource interface {
	Estimate(ctx context.Context, addr estimate.Address) (estimate.Estimate, error)
}

// Dates identifies the reporting period.
type Dates struct {
	Year    string
	Quarter string
}

// CashFlow holds rounded, thousands-separated cash flow figures.
type CashFlow struct {
	QTD string
	YTD string
	ITD string
}

// Finance holds rounded, thousands-separated financing balances.
type Finance struct {
	Mortgage      string
	Reimbursement string
}

// Valuation is the formatted property estimate.
type Valuation struct {
	Link         string
	Price        string
	Comparable   string
	Appreciation string
}

// Data is everything the update email shows.
type Data struct {
	Title    string
	Month    string
	Dates    Dates
	CashFlow CashFlow
	Finance  Finance
	Estimate *Valuation // nil when the estimate could not be scraped
}

// Config holds the collaborators of an Assembler.
type Config struct {
	Sheet      ledger.Sheet
	Cells      Cells
	Estimates  EstimateSource
	Address    estimate.Address
	Sender     Sender
	Operator   string
	Recipients []string
	SenderName string
	Location   *time.Location
	Now        func() time.Time
	Logger     *slog.Logger
}

// Assembler builds the monthly update.
type Assembler struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Assembler.
func New(cfg Config) *Assembler {
	if cfg.Cells == (Cells{}) {
		cfg.Cells = DefaultCells
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{cfg: cfg, logger: logger.With("component", "report")}
}

// QuarterOf labels the quarter of t. The month is divided by four, so
// April falls in Q1 and December in Q3.
func QuarterOf(t time.Time) string {
	return fmt.Sprintf("Q%d", int(math.Ceil(float64(t.Month())/4)))
}

// Build reads the report figures. A failed estimate leaves Estimate nil.
func (a *Assembler) Build(ctx context.Context) (Data, error) {
	period := recurring.PeriodAt(a.cfg.Now(), a.cfg.Location)

	data := Data{
		Title: strings.TrimSpace(a.cfg.Address.Street + " Update"),
		Month: period.Month,
		Dates: Dates{
			Year:    period.Due.Format("2006"),
			Quarter: QuarterOf(period.Due),
		},
	}

	cashFlow, err := a.cashFlow(ctx)
	if err != nil {
		return data, err
	}
	data.CashFlow = cashFlow

	finance, err := a.financing(ctx)
	if err != nil {
		return data, err
	}
	data.Finance = finance

	if a.cfg.Estimates != nil {
		est, err := a.cfg.Estimates.Estimate(ctx, a.cfg.Address)
		switch {
		case errors.Is(err, estimate.ErrScrape):
			a.logger.Warn("Property estimate unavailable", "error", err)
		case err != nil:
			a.logger.Warn("Failed to get property estimate", "error", err)
		default:
			data.Estimate = &Valuation{
				Link:         est.Link,
				Price:        estimate.FormatThousands(est.Price),
				Comparable:   estimate.FormatThousands(est.Comparable),
				Appreciation: estimate.FormatThousands(est.Appreciation),
			}
		}
	}

	return data, nil
}

func (a *Assembler) cashFlow(ctx context.Context) (CashFlow, error) {
	rows, err := a.cfg.Sheet.ReadRange(ctx, a.cfg.Cells.CashFlowRow)
	if err != nil {
		return CashFlow{}, fmt.Errorf("failed to read cash flow: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) < 3 {
		return CashFlow{}, fmt.Errorf("cash flow row %s has fewer than 3 cells", a.cfg.Cells.CashFlowRow)
	}

	last := rows[0][len(rows[0])-3:]
	values := make([]string, 3)
	for i, cell := range last {
		v, err := rounded(cell)
		if err != nil {
			return CashFlow{}, fmt.Errorf("cash flow cell %d: %w", i+1, err)
		}
		values[i] = v
	}
	return CashFlow{QTD: values[0], YTD: values[1], ITD: values[2]}, nil
}

func (a *Assembler) financing(ctx context.Context) (Finance, error) {
	mortgage, err := a.readRounded(ctx, a.cfg.Cells.Mortgage)
	if err != nil {
		return Finance{}, err
	}
	reimbursement, err := a.readRounded(ctx, a.cfg.Cells.Reimbursement)
	if err != nil {
		return Finance{}, err
	}
	return Finance{Mortgage: mortgage, Reimbursement: reimbursement}, nil
}

func (a *Assembler) readRounded(ctx context.Context, cell string) (string, error) {
	v, err := a.cfg.Sheet.ReadCell(ctx, cell)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", cell, err)
	}
	s, err := rounded(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cell, err)
	}
	return s, nil
}

func rounded(cell any) (string, error) {
	d, err := ledger.AmountOf(cell)
	if err != nil {
		return "", err
	}
	return estimate.FormatThousands(d.Round(0).IntPart()), nil
}

// Send builds the update and mails it. In test mode only the operator
// receives it.
func (a *Assembler) Send(ctx context.Context, test bool) (Data, error) {
	data, err := a.Build(ctx)
	if err != nil {
		return data, err
	}

	html, err := RenderHTML(data)
	if err != nil {
		return data, err
	}

	mail := Mail{
		To:        a.cfg.Recipients,
		Cc:        []string{a.cfg.Operator},
		FromName:  a.cfg.SenderName,
		Subject:   fmt.Sprintf("%s %s Update", a.cfg.SenderName, data.Month),
		PlainBody: RenderPlain(data),
		HTMLBody:  html,
	}
	// The operator stays on cc in test mode too.
	if test || len(mail.To) == 0 {
		mail.To = []string{a.cfg.Operator}
	}

	if err := a.cfg.Sender.Send(ctx, mail); err != nil {
		return data, fmt.Errorf("failed to send update: %w", err)
	}
	a.logger.Info("Update sent", "subject", mail.Subject, "to", strings.Join(mail.To, ","), "test", test)
	return data, nil
}
