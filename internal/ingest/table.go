package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ErrMissingColumn is returned when a whitelisted column is absent from the CSV header.
var ErrMissingColumn = errors.New("missing column")

// Encoding names accepted by ReadOptions.
const (
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "iso-8859-1"
)

// Table is a column-projected CSV: Columns in whitelist order, Rows aligned to them.
type Table struct {
	Columns []string
	Rows    [][]string
	index   map[string]int
}

// Value returns the cell of row i under column col, or "" when unknown.
func (t *Table) Value(i int, col string) string {
	j, ok := t.index[col]
	if !ok || i < 0 || i >= len(t.Rows) {
		return ""
	}
	return t.Rows[i][j]
}

// ReadOptions controls CSV parsing.
type ReadOptions struct {
	Columns   []string
	MaxRows   int // 0 means unlimited
	Delimiter rune
	Encoding  string
}

// ReadTable reads at most MaxRows data rows from r, keeping only Columns.
func ReadTable(r io.Reader, opts ReadOptions) (*Table, error) {
	switch strings.ToLower(opts.Encoding) {
	case "", EncodingUTF8, "utf8":
	case EncodingLatin1, "latin1", "latin-1":
		r = charmap.ISO8859_1.NewDecoder().Reader(r)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", opts.Encoding)
	}

	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv: no header row")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	positions := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if _, dup := positions[h]; !dup {
			positions[h] = i
		}
	}

	cols := opts.Columns
	if len(cols) == 0 {
		cols = make([]string, len(header))
		for i, h := range header {
			cols[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}
	}
	src := make([]int, len(cols))
	var missing []string
	for i, c := range cols {
		p, ok := positions[c]
		if !ok {
			missing = append(missing, c)
			continue
		}
		src[i] = p
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	t := &Table{Columns: cols, index: make(map[string]int, len(cols))}
	for i, c := range cols {
		t.index[c] = i
	}
	for opts.MaxRows <= 0 || len(t.Rows) < opts.MaxRows {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(t.Rows)+1, err)
		}
		row := make([]string, len(cols))
		for i, p := range src {
			if p < len(rec) {
				row[i] = strings.TrimSpace(rec[p])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
