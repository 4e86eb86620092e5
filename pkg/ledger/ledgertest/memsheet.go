// Package ledgertest provides an in-memory spreadsheet for tests.
package ledgertest

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// MemSheet is an in-memory workbook implementing ledger.Sheet.
type MemSheet struct {
	mu      sync.Mutex
	tabs    map[string][][]any
	Appends int

	// OnRead, when set, runs after a ReadRange snapshot is taken.
	OnRead func()
	// FailAppend makes AppendRow return this error.
	FailAppend error
}

// New creates an empty workbook.
func New() *MemSheet {
	return &MemSheet{tabs: make(map[string][][]any)}
}

// SetRows replaces the content of a tab. Row 1 is rows[0].
func (m *MemSheet) SetRows(tab string, rows [][]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tabs[tab] = rows
}

// Rows returns a copy of a tab's content.
func (m *MemSheet) Rows(tab string) [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRows(m.tabs[tab])
}

// ReadRange returns the rectangle addressed by rng.
func (m *MemSheet) ReadRange(ctx context.Context, rng string) ([][]any, error) {
	tab, area, err := parseRange(rng)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	rows := copyRows(m.tabs[tab])
	hook := m.OnRead
	m.mu.Unlock()

	if hook != nil {
		hook()
	}

	var out [][]any
	for r := area.row0; r < len(rows) && (area.row1 < 0 || r <= area.row1); r++ {
		var line []any
		for c := area.col0; c < len(rows[r]) && (area.col1 < 0 || c <= area.col1); c++ {
			line = append(line, rows[r][c])
		}
		out = append(out, line)
	}
	return out, nil
}

// AppendRow adds a row at the bottom of a tab.
func (m *MemSheet) AppendRow(ctx context.Context, tab string, row []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppend != nil {
		return m.FailAppend
	}
	m.tabs[tab] = append(m.tabs[tab], append([]any(nil), row...))
	m.Appends++
	return nil
}

// ReadCell returns a single cell, or nil when it is empty.
func (m *MemSheet) ReadCell(ctx context.Context, cell string) (any, error) {
	rows, err := m.ReadRange(ctx, cell)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, nil
	}
	return rows[0][0], nil
}

// WriteCell sets a single cell, growing the tab as needed.
func (m *MemSheet) WriteCell(ctx context.Context, cell string, value any) error {
	tab, area, err := parseRange(cell)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tabs[tab]
	for len(rows) <= area.row0 {
		rows = append(rows, nil)
	}
	for len(rows[area.row0]) <= area.col0 {
		rows[area.row0] = append(rows[area.row0], "")
	}
	rows[area.row0][area.col0] = value
	m.tabs[tab] = rows
	return nil
}

type rect struct {
	row0, col0, row1, col1 int // zero-based; -1 means unbounded
}

var rangePattern = regexp.MustCompile(`^'?([^'!]+)'?!([A-Z]+)(\d*)(?::([A-Z]+)(\d*))?$`)

func parseRange(rng string) (string, rect, error) {
	m := rangePattern.FindStringSubmatch(rng)
	if m == nil {
		return "", rect{}, fmt.Errorf("unsupported range %q", rng)
	}

	area := rect{
		col0: columnIndex(m[2]),
		row0: rowIndex(m[3], 0),
		col1: -1,
		row1: -1,
	}
	switch {
	case m[4] != "":
		area.col1 = columnIndex(m[4])
		area.row1 = rowIndex(m[5], -1)
	case m[3] != "":
		// single cell
		area.col1 = area.col0
		area.row1 = area.row0
	}
	return strings.TrimSpace(m[1]), area, nil
}

func columnIndex(name string) int {
	n := 0
	for _, c := range name {
		n = n*26 + int(c-'A'+1)
	}
	return n - 1
}

func rowIndex(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, _ := strconv.Atoi(s)
	return n - 1
}

func copyRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}
