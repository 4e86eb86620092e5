// Package sheets implements the ledger spreadsheet contract on the Google
// Sheets API.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/api/sheets/v4"
)

// Workbook is one spreadsheet.
type Workbook struct {
	service       *sheets.Service
	spreadsheetID string
	logger        *slog.Logger
}

// New creates a Workbook for the spreadsheet.
func New(service *sheets.Service, spreadsheetID string, logger *slog.Logger) *Workbook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workbook{
		service:       service,
		spreadsheetID: spreadsheetID,
		logger:        logger.With("component", "sheets", "spreadsheet_id", spreadsheetID),
	}
}

// ReadRange returns raw cell values. Dates come back as serial day numbers
// and amounts as numbers.
func (w *Workbook) ReadRange(ctx context.Context, rng string) ([][]any, error) {
	resp, err := w.service.Spreadsheets.Values.Get(w.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rng, err)
	}
	return resp.Values, nil
}

// AppendRow appends one row after the last row of the sheet, parsing values
// as if typed by a user.
func (w *Workbook) AppendRow(ctx context.Context, sheet string, row []any) error {
	rng := fmt.Sprintf("'%s'!A1", sheet)
	body := &sheets.ValueRange{Values: [][]any{cellValues(row)}}

	_, err := w.service.Spreadsheets.Values.Append(w.spreadsheetID, rng, body).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", sheet, err)
	}

	w.logger.Debug("Appended row", "sheet", sheet)
	return nil
}

// ReadCell returns the value of a single cell, nil when empty.
func (w *Workbook) ReadCell(ctx context.Context, cell string) (any, error) {
	rows, err := w.ReadRange(ctx, cell)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, nil
	}
	return rows[0][0], nil
}

// WriteCell overwrites a single cell.
func (w *Workbook) WriteCell(ctx context.Context, cell string, value any) error {
	body := &sheets.ValueRange{Values: [][]any{cellValues([]any{value})}}
	_, err := w.service.Spreadsheets.Values.Update(w.spreadsheetID, cell, body).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", cell, err)
	}
	return nil
}

// Location returns the spreadsheet's time zone.
func (w *Workbook) Location(ctx context.Context) (*time.Location, error) {
	ss, err := w.service.Spreadsheets.Get(w.spreadsheetID).Fields("properties.timeZone").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get spreadsheet properties: %w", err)
	}
	if ss.Properties == nil || ss.Properties.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(ss.Properties.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("unknown spreadsheet time zone %q: %w", ss.Properties.TimeZone, err)
	}
	return loc, nil
}

// cellValues converts values the JSON encoder would not render as numbers.
func cellValues(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		switch x := v.(type) {
		case decimal.Decimal:
			out[i] = x.InexactFloat64()
		case time.Time:
			out[i] = x.Format("01/02/2006")
		default:
			out[i] = v
		}
	}
	return out
}
