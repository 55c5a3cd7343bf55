package ingest

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTable_AlignsByDisplayWidth(t *testing.T) {
	out := RenderTable([]string{"A", "DESCRIÇÃO"}, [][]string{
		{"1", "CAFÉ"},
		{"22", "AÇÚCAR CRISTAL"},
	})
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 3)
	w := runewidth.StringWidth(lines[0])
	for _, l := range lines {
		assert.Equal(t, w, runewidth.StringWidth(l))
	}
	assert.True(t, strings.HasSuffix(lines[1], "          CAFÉ"))
}

func TestRender_NoTruncationAndEmptyHeaderFields(t *testing.T) {
	long := strings.Repeat("X", 300)
	out := Render([]MergedRecord{{Item: InvoiceItem{AccessKey: "K9", Description: long}}})

	assert.Contains(t, out, long)
	assert.NotContains(t, out, "NaN")
	assert.NotContains(t, out, "<nil>")
	header := strings.SplitN(out, "\n", 2)[0]
	for _, c := range MergedColumns() {
		assert.Contains(t, header, c)
	}
}
