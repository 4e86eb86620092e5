package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Result reports what Post did.
type Result int

const (
	Posted Result = iota
	AlreadyPosted
)

func (r Result) String() string {
	if r == AlreadyPosted {
		return "already posted"
	}
	return "posted"
}

// Poster appends entries to one ledger, skipping entries whose identity key
// is already present.
//
// Post reads the whole ledger before every append and holds no lock, so two
// posters running at the same time can both miss each other's row. Runs are
// expected to be sequential.
type Poster struct {
	sheet   Sheet
	layout  Layout
	loc     *time.Location
	logger  *slog.Logger
	journal Journal
}

// Journal receives every decision a Poster makes. Journal errors are logged
// and never fail the post.
type Journal interface {
	RecordPost(ctx context.Context, ledger string, e Entry, res Result) error
}

// NewPoster creates a poster for the given sheet and layout.
func NewPoster(sheet Sheet, layout Layout, loc *time.Location, logger *slog.Logger) *Poster {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{
		sheet:  sheet,
		layout: layout,
		loc:    loc,
		logger: logger.With("ledger", layout.Name),
	}
}

// SetJournal makes the poster report every decision to j.
func (p *Poster) SetJournal(j Journal) {
	p.journal = j
}

// Layout returns the ledger layout.
func (p *Poster) Layout() Layout {
	return p.layout
}

// Post appends the entry unless an identical posting exists.
func (p *Poster) Post(ctx context.Context, e Entry) (Result, error) {
	key := p.layout.EntryKey(e, p.loc)

	exists, err := p.contains(ctx, key)
	if err != nil {
		return Posted, err
	}
	if exists {
		p.logger.Info(fmt.Sprintf("%s already posted (%s) for %s", e.Memo, p.layout.Name, key[0]),
			"vendor", key[1], "amount", key[2])
		p.note(ctx, e, AlreadyPosted)
		return AlreadyPosted, nil
	}

	if err := p.sheet.AppendRow(ctx, p.layout.Sheet, p.layout.Row(e, p.loc)); err != nil {
		return Posted, fmt.Errorf("failed to append %s row: %w", p.layout.Name, err)
	}

	p.logger.Info(fmt.Sprintf("%s posted (%s) for %s", e.Memo, p.layout.Name, key[0]),
		"vendor", key[1], "amount", key[2])
	p.note(ctx, e, Posted)
	return Posted, nil
}

func (p *Poster) note(ctx context.Context, e Entry, res Result) {
	if p.journal == nil {
		return
	}
	if err := p.journal.RecordPost(ctx, p.layout.Name, e, res); err != nil {
		p.logger.Warn("Failed to journal posting", "error", err)
	}
}

// Rows returns every data row of the ledger (header excluded).
func (p *Poster) Rows(ctx context.Context) ([][]any, error) {
	rows, err := p.sheet.ReadRange(ctx, p.layout.Range())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s ledger: %w", p.layout.Name, err)
	}
	if len(rows) > 0 {
		rows = rows[1:]
	}
	return rows, nil
}

func (p *Poster) contains(ctx context.Context, key Key) (bool, error) {
	rows, err := p.Rows(ctx)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if p.layout.rowKey(row, p.loc) == key {
			return true, nil
		}
	}
	return false, nil
}

// Lookup finds the first row whose date and vendor match, returning its amount.
func (l Layout) Lookup(rows [][]any, date time.Time, vendor string, loc *time.Location) (string, bool) {
	want := date.In(loc).Format(DateFormat)
	vendorPos, amountPos := -1, -1
	for i, f := range l.Shape {
		switch f {
		case FieldVendor:
			vendorPos = i
		case FieldAmount:
			amountPos = i
		}
	}
	if vendorPos < 0 || amountPos < 0 {
		return "", false
	}

	for _, row := range rows {
		if len(row) <= l.Lead+amountPos {
			continue
		}
		if NormalizeDate(row[l.Lead], loc) != want {
			continue
		}
		if NormalizeText(row[l.Lead+vendorPos]) != vendor {
			continue
		}
		return NormalizeAmount(row[l.Lead+amountPos]), true
	}
	return "", false
}
