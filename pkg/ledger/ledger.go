// Package ledger posts de-duplicated transaction rows into spreadsheet ledgers.
package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the display format used for ledger dates and identity keys.
const DateFormat = "01/02/2006"

// Sheet is the narrow spreadsheet contract the ledger needs.
// Ranges use A1 notation including the sheet name, e.g. "'Summary'!F4:H5".
type Sheet interface {
	ReadRange(ctx context.Context, rng string) ([][]any, error)
	AppendRow(ctx context.Context, sheet string, row []any) error
	ReadCell(ctx context.Context, cell string) (any, error)
	WriteCell(ctx context.Context, cell string, value any) error
}

// Field names a column of a ledger row.
type Field int

const (
	FieldDate Field = iota
	FieldAccount
	FieldVendor
	FieldAmount
	FieldParty
	FieldCategory
	FieldMemo
)

// Entry is one transaction to post. Each ledger projects it into its own row shape.
type Entry struct {
	Date     time.Time
	Account  string
	Vendor   string
	Amount   decimal.Decimal
	Party    string
	Category string
	Memo     string
}

// Layout describes where a ledger keeps its columns.
type Layout struct {
	Name  string  // used in log lines, e.g. "Duplex"
	Sheet string  // sheet (tab) name
	Lead  int     // blank formula columns before the entry columns
	Shape []Field // entry columns in sheet order, starting with the date
	// Key holds the two entry positions that, with the date, identify a posting.
	Key [2]int
}

// Duplex is the rental ledger layout: three formula columns, then
// date, account, vendor, amount, party, memo.
func Duplex(sheet string) Layout {
	return Layout{
		Name:  "Duplex",
		Sheet: sheet,
		Lead:  3,
		Shape: []Field{FieldDate, FieldAccount, FieldVendor, FieldAmount, FieldParty, FieldMemo},
		Key:   [2]int{2, 3},
	}
}

// Main is the Main Home ledger layout: date, vendor, amount, party, category, notes.
func Main(sheet string) Layout {
	return Layout{
		Name:  "Main Home",
		Sheet: sheet,
		Lead:  0,
		Shape: []Field{FieldDate, FieldVendor, FieldAmount, FieldParty, FieldCategory, FieldMemo},
		Key:   [2]int{1, 2},
	}
}

// Range returns the A1 range covering every ledger column.
func (l Layout) Range() string {
	return fmt.Sprintf("'%s'!A:%s", l.Sheet, columnName(l.Lead+len(l.Shape)))
}

// Row projects an entry into the sheet row written on append.
func (l Layout) Row(e Entry, loc *time.Location) []any {
	row := make([]any, 0, l.Lead+len(l.Shape))
	for i := 0; i < l.Lead; i++ {
		row = append(row, "")
	}
	for _, f := range l.Shape {
		row = append(row, e.value(f, loc))
	}
	return row
}

// Key is the identity of a posting.
type Key [3]string

// EntryKey builds the identity key of an entry.
func (l Layout) EntryKey(e Entry, loc *time.Location) Key {
	row := l.Row(e, loc)
	return l.rowKey(row, loc)
}

// rowKey builds the identity key of a sheet row. Missing cells normalize to "".
func (l Layout) rowKey(row []any, loc *time.Location) Key {
	cell := func(pos int) any {
		if idx := l.Lead + pos; idx < len(row) {
			return row[idx]
		}
		return nil
	}

	return Key{
		NormalizeDate(cell(0), loc),
		l.normalize(l.Shape[l.Key[0]], cell(l.Key[0])),
		l.normalize(l.Shape[l.Key[1]], cell(l.Key[1])),
	}
}

func (l Layout) normalize(f Field, v any) string {
	switch f {
	case FieldDate:
		return NormalizeDate(v, time.UTC)
	case FieldAmount:
		return NormalizeAmount(v)
	default:
		return NormalizeText(v)
	}
}

func (e Entry) value(f Field, loc *time.Location) any {
	switch f {
	case FieldDate:
		return e.Date.In(loc).Format(DateFormat)
	case FieldAccount:
		return e.Account
	case FieldVendor:
		return e.Vendor
	case FieldAmount:
		return e.Amount.InexactFloat64()
	case FieldParty:
		return e.Party
	case FieldCategory:
		return e.Category
	case FieldMemo:
		return e.Memo
	}
	return ""
}

// sheetsEpoch is day zero of spreadsheet serial dates.
var sheetsEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateFormats = []string{
	DateFormat,
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"2006-01-02",
	time.RFC3339,
}

// NormalizeDate formats a cell value as MM/dd/yyyy. Unparseable values are
// returned as trimmed text so they still compare deterministically.
func NormalizeDate(v any, loc *time.Location) string {
	switch d := v.(type) {
	case nil:
		return ""
	case time.Time:
		return d.In(loc).Format(DateFormat)
	case float64:
		days := math.Floor(d)
		return sheetsEpoch.AddDate(0, 0, int(days)).Format(DateFormat)
	case int:
		return sheetsEpoch.AddDate(0, 0, d).Format(DateFormat)
	case string:
		s := strings.TrimSpace(d)
		for _, format := range dateFormats {
			if t, err := time.ParseInLocation(format, s, loc); err == nil {
				return t.Format(DateFormat)
			}
		}
		return s
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// NormalizeAmount renders an amount cell in canonical decimal form.
func NormalizeAmount(v any) string {
	switch a := v.(type) {
	case nil:
		return ""
	case decimal.Decimal:
		return a.String()
	case float64:
		return decimal.NewFromFloat(a).String()
	case int:
		return decimal.NewFromInt(int64(a)).String()
	case int64:
		return decimal.NewFromInt(a).String()
	}

	s := strings.TrimSpace(fmt.Sprint(v))
	if d, err := ParseAmount(s); err == nil {
		return d.String()
	}
	return s
}

// AmountOf converts an amount cell into a decimal.
func AmountOf(v any) (decimal.Decimal, error) {
	if v == nil {
		return decimal.Zero, fmt.Errorf("empty amount cell")
	}
	return ParseAmount(NormalizeAmount(v))
}

// ParseAmount parses a displayed currency value such as "$1,234.50" or "($12.00)".
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	s = strings.Trim(s, "()")
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// NormalizeText renders a text cell for comparison.
func NormalizeText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return decimal.NewFromFloat(t).String()
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// columnName converts a 1-based column index into its A1 letter name.
func columnName(n int) string {
	name := ""
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}
