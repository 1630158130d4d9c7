package pdf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/a3tai/dispatch-sync/internal/pdf/pdftest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// word lays out s as one glyph per character, 0.6em apart like Courier.
func word(s string, x, top, size float64) []Glyph {
	var glyphs []Glyph
	for _, r := range s {
		glyphs = append(glyphs, Glyph{Text: string(r), X: x, Y: top, W: size * 0.6, Size: size})
		x += size * 0.6
	}
	return glyphs
}

func TestRect_Validate(t *testing.T) {
	assert.NoError(t, Rect{Left: 70, Top: 47, Right: 120, Bottom: 58}.Validate())
	assert.Error(t, Rect{Left: 120, Top: 47, Right: 70, Bottom: 58}.Validate())
	assert.Error(t, Rect{Left: 70, Top: 58, Right: 120, Bottom: 58}.Validate())
}

func TestRegionText(t *testing.T) {
	var glyphs []Glyph
	glyphs = append(glyphs, word("F20230001", 72, 56, 8)...)
	glyphs = append(glyphs, word("Rauch sichtbar", 30, 142, 8)...)
	glyphs = append(glyphs, word("Brand Einfamilienhaus", 30, 130, 8)...)
	glyphs = append(glyphs, word("MELDER", 306, 56, 8)...)
	// second word of a line placed by absolute position, no space glyph
	glyphs = append(glyphs, word("HANS", 345, 56, 8)...)

	tests := []struct {
		name string
		rect Rect
		want string
	}{
		{
			name: "single line",
			rect: Rect{Left: 70, Top: 47, Right: 120, Bottom: 58},
			want: "F20230001",
		},
		{
			name: "multi line keeps order top to bottom",
			rect: Rect{Left: 28, Top: 112, Right: 590, Bottom: 350},
			want: "Brand Einfamilienhaus\nRauch sichtbar",
		},
		{
			name: "gap between runs becomes a space",
			rect: Rect{Left: 304, Top: 47, Right: 446, Bottom: 70},
			want: "MELDER HANS",
		},
		{
			name: "empty region",
			rect: Rect{Left: 400, Top: 400, Right: 500, Bottom: 500},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RegionText(glyphs, tt.rect))
		})
	}
}

func TestRegionText_IgnoresGlyphsOutsideRegion(t *testing.T) {
	glyphs := word("F20230001", 72, 56, 8)
	// the last three characters fall right of the region
	got := RegionText(glyphs, Rect{Left: 70, Top: 47, Right: 100, Bottom: 58})
	assert.Equal(t, "F20230", got)
}

func TestLayoutReader_ReadRegions(t *testing.T) {
	dir := t.TempDir()
	path := pdftest.WriteFile(t, dir, "dispatch.pdf", []pdftest.Text{
		{S: "F20230001", X: 72, Top: 56, Size: 8},
		{S: "Brand Einfamilienhaus", X: 30, Top: 130, Size: 8},
		{S: "Rauch sichtbar", X: 30, Top: 142, Size: 8},
		{S: "IGNORED", X: 300, Top: 500, Size: 8},
	})

	reader := NewLayoutReader(NewValidator(1024 * 1024))
	got, err := reader.ReadRegions(path, 1, map[string]Rect{
		"order": {Left: 70, Top: 47, Right: 120, Bottom: 58},
		"notes": {Left: 28, Top: 112, Right: 590, Bottom: 350},
		"blank": {Left: 28, Top: 600, Right: 590, Bottom: 650},
	})
	require.NoError(t, err)

	assert.Equal(t, "F20230001", got["order"])
	assert.Equal(t, "Brand Einfamilienhaus\nRauch sichtbar", got["notes"])
	assert.Equal(t, "", got["blank"])
}

func TestPageGlyphs_PageHeight(t *testing.T) {
	tests := []struct {
		name string
		page pdftest.Page
	}{
		{name: "A4 inherited from page tree", page: pdftest.Page{}},
		{name: "letter inherited from page tree", page: pdftest.Page{Height: 792}},
		{name: "A5 inherited from page tree", page: pdftest.Page{Height: 595}},
		{name: "letter on the page itself", page: pdftest.Page{Height: 792, MediaBoxOnPage: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := pdftest.WritePage(t, t.TempDir(), "page.pdf", tt.page, []pdftest.Text{
				{S: "F20230001", X: 72, Top: 56, Size: 8},
			})

			glyphs, err := PageGlyphs(path, 1)
			require.NoError(t, err)
			require.NotEmpty(t, glyphs)
			for _, g := range glyphs {
				assert.InDelta(t, 56, g.Y, 0.01, g.Text)
			}
			assert.Equal(t, "F20230001", RegionText(glyphs, Rect{Left: 70, Top: 47, Right: 130, Bottom: 58}))
		})
	}
}

func TestLayoutReader_Unreadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\ngarbage"), 0o600))

	reader := NewLayoutReader(NewValidator(1024 * 1024))
	_, err := reader.ReadRegions(path, 1, map[string]Rect{"x": {Left: 0, Top: 0, Right: 1, Bottom: 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreadable))
}

func TestPageGlyphs_InvalidPage(t *testing.T) {
	dir := t.TempDir()
	path := pdftest.WriteFile(t, dir, "one.pdf", []pdftest.Text{{S: "x", X: 10, Top: 10}})

	_, err := PageGlyphs(path, 2)
	assert.True(t, errors.Is(err, ErrUnreadable))
}
