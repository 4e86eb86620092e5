// Package recurring posts the monthly rent and mortgage transactions read
// from the property summary sheets.
package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rentbooks/rentbooks/pkg/ledger"
)

// MonthFormat labels recurring entries, e.g. "2024 March".
const MonthFormat = "2006 January"

// DueOffset is how far ahead of the run recurring entries are dated.
const DueOffset = 4 * 24 * time.Hour

const (
	rentAccount      = "1"
	mortgageCategory = "Mortgage"
)

// Ranges locates the summary tables, in A1 notation.
type Ranges struct {
	Rent           string // Duplex summary: unit, payer, amount
	DuplexMortgage string // Duplex summary: memo, account, vendor, amount
	MainMortgage   string // Main Home summary: memo, vendor, amount
}

// DefaultRanges are the summary tables of the stock workbooks.
var DefaultRanges = Ranges{
	Rent:           "'Summary'!F4:H5",
	DuplexMortgage: "'Summary'!F8:I9",
	MainMortgage:   "'Summary'!E3:G5",
}

// Generator builds recurring entries and posts them through the ledgers.
type Generator struct {
	duplexSheet ledger.Sheet
	mainSheet   ledger.Sheet
	duplex      *ledger.Poster
	main        *ledger.Poster
	ranges      Ranges
	party       string
	loc         *time.Location
	logger      *slog.Logger
}

// Config holds the collaborators of a Generator.
type Config struct {
	DuplexSheet ledger.Sheet
	MainSheet   ledger.Sheet
	Duplex      *ledger.Poster
	Main        *ledger.Poster
	Ranges      Ranges
	Party       string
	Location    *time.Location
	Logger      *slog.Logger
}

// New creates a Generator. Empty ranges fall back to DefaultRanges.
func New(cfg Config) *Generator {
	if cfg.Ranges.Rent == "" {
		cfg.Ranges.Rent = DefaultRanges.Rent
	}
	if cfg.Ranges.DuplexMortgage == "" {
		cfg.Ranges.DuplexMortgage = DefaultRanges.DuplexMortgage
	}
	if cfg.Ranges.MainMortgage == "" {
		cfg.Ranges.MainMortgage = DefaultRanges.MainMortgage
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		duplexSheet: cfg.DuplexSheet,
		mainSheet:   cfg.MainSheet,
		duplex:      cfg.Duplex,
		main:        cfg.Main,
		ranges:      cfg.Ranges,
		party:       cfg.Party,
		loc:         cfg.Location,
		logger:      logger.With("component", "recurring"),
	}
}

// Period is the month a recurring run books.
type Period struct {
	Month string    // "2024 March"
	Due   time.Time // run time plus DueOffset
}

// PeriodAt returns the period for a run at now.
func PeriodAt(now time.Time, loc *time.Location) Period {
	now = now.In(loc)
	return Period{
		Month: now.Format(MonthFormat),
		Due:   now.Add(DueOffset),
	}
}

// Counts reports how many entries were posted or skipped.
type Counts struct {
	Posted  int
	Skipped int
}

// RentEntries reads the rent table: one row per unit with unit name, payer
// and amount.
func (g *Generator) RentEntries(ctx context.Context, p Period) ([]ledger.Entry, error) {
	rows, err := g.duplexSheet.ReadRange(ctx, g.ranges.Rent)
	if err != nil {
		return nil, fmt.Errorf("failed to read rent table: %w", err)
	}

	var entries []ledger.Entry
	for i, r := range rows {
		if blank(r) {
			continue
		}
		if len(r) < 3 {
			return nil, fmt.Errorf("rent row %d: expected 3 cells, got %d", i+1, len(r))
		}
		amount, err := ledger.AmountOf(r[2])
		if err != nil {
			return nil, fmt.Errorf("rent row %d: %w", i+1, err)
		}
		entries = append(entries, ledger.Entry{
			Date:    p.Due,
			Account: rentAccount,
			Vendor:  ledger.NormalizeText(r[1]),
			Amount:  amount,
			Party:   g.party,
			Memo:    fmt.Sprintf("%s %s Rent", ledger.NormalizeText(r[0]), p.Month),
		})
	}
	return entries, nil
}

// DuplexMortgageEntries reads the Duplex mortgage table: memo, account,
// vendor, amount.
func (g *Generator) DuplexMortgageEntries(ctx context.Context, p Period) ([]ledger.Entry, error) {
	rows, err := g.duplexSheet.ReadRange(ctx, g.ranges.DuplexMortgage)
	if err != nil {
		return nil, fmt.Errorf("failed to read duplex mortgage table: %w", err)
	}

	var entries []ledger.Entry
	for i, m := range rows {
		if blank(m) {
			continue
		}
		if len(m) < 4 {
			return nil, fmt.Errorf("duplex mortgage row %d: expected 4 cells, got %d", i+1, len(m))
		}
		amount, err := ledger.AmountOf(m[3])
		if err != nil {
			return nil, fmt.Errorf("duplex mortgage row %d: %w", i+1, err)
		}
		entries = append(entries, ledger.Entry{
			Date:    p.Due,
			Account: ledger.NormalizeText(m[1]),
			Vendor:  ledger.NormalizeText(m[2]),
			Amount:  amount,
			Party:   g.party,
			Memo:    ledger.NormalizeText(m[0]),
		})
	}
	return entries, nil
}

// MainMortgageEntries reads the Main Home mortgage table: memo, vendor, amount.
func (g *Generator) MainMortgageEntries(ctx context.Context, p Period) ([]ledger.Entry, error) {
	rows, err := g.mainSheet.ReadRange(ctx, g.ranges.MainMortgage)
	if err != nil {
		return nil, fmt.Errorf("failed to read main mortgage table: %w", err)
	}

	var entries []ledger.Entry
	for i, m := range rows {
		if blank(m) {
			continue
		}
		if len(m) < 3 {
			return nil, fmt.Errorf("main mortgage row %d: expected 3 cells, got %d", i+1, len(m))
		}
		amount, err := ledger.AmountOf(m[2])
		if err != nil {
			return nil, fmt.Errorf("main mortgage row %d: %w", i+1, err)
		}
		entries = append(entries, ledger.Entry{
			Date:     p.Due,
			Vendor:   ledger.NormalizeText(m[1]),
			Amount:   amount,
			Party:    g.party,
			Category: mortgageCategory,
			Memo:     ledger.NormalizeText(m[0]),
		})
	}
	return entries, nil
}

// PostRent posts this period's rent to the Duplex ledger.
func (g *Generator) PostRent(ctx context.Context, p Period) (Counts, error) {
	entries, err := g.RentEntries(ctx, p)
	if err != nil {
		return Counts{}, err
	}
	return g.post(ctx, g.duplex, entries)
}

// PostMortgage posts this period's mortgage payments to both ledgers.
func (g *Generator) PostMortgage(ctx context.Context, p Period) (Counts, error) {
	duplexEntries, err := g.DuplexMortgageEntries(ctx, p)
	if err != nil {
		return Counts{}, err
	}
	total, err := g.post(ctx, g.duplex, duplexEntries)
	if err != nil {
		return total, err
	}

	mainEntries, err := g.MainMortgageEntries(ctx, p)
	if err != nil {
		return total, err
	}
	counts, err := g.post(ctx, g.main, mainEntries)
	total.Posted += counts.Posted
	total.Skipped += counts.Skipped
	return total, err
}

func (g *Generator) post(ctx context.Context, poster *ledger.Poster, entries []ledger.Entry) (Counts, error) {
	var counts Counts
	for _, e := range entries {
		res, err := poster.Post(ctx, e)
		if err != nil {
			return counts, fmt.Errorf("failed to post %q: %w", e.Memo, err)
		}
		if res == ledger.AlreadyPosted {
			counts.Skipped++
		} else {
			counts.Posted++
		}
	}
	g.logger.Debug("Recurring entries processed",
		"ledger", poster.Layout().Name, "posted", counts.Posted, "skipped", counts.Skipped)
	return counts, nil
}

func blank(row []any) bool {
	for _, c := range row {
		if ledger.NormalizeText(c) != "" {
			return false
		}
	}
	return true
}
