package ingest

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Render serializes records as a fixed-width text table: one header line and
// one line per record, cells right-aligned and separated by two spaces.
// Nothing is truncated.
func Render(records []MergedRecord) string {
	cols := MergedColumns()
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = r.Values()
	}
	return RenderTable(cols, rows)
}

// RenderTable renders arbitrary rows under the given column names.
func RenderTable(cols []string, rows [][]string) string {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c)
	}
	for _, row := range rows {
		for i := range cols {
			if i < len(row) {
				widths[i] = max(widths[i], runewidth.StringWidth(row[i]))
			}
		}
	}

	var sb strings.Builder
	writeLine := func(cells []string) {
		for i := range cols {
			if i > 0 {
				sb.WriteString("  ")
			}
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			sb.WriteString(runewidth.FillLeft(cell, widths[i]))
		}
		sb.WriteByte('\n')
	}
	writeLine(cols)
	for _, row := range rows {
		writeLine(row)
	}
	return sb.String()
}
