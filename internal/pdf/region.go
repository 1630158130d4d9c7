package pdf

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// A4 portrait height in points, used when a page carries no usable MediaBox.
const defaultPageHeight = 842.0

// Rect is a rectangular page region in points with the origin in the top left
// corner of the page, the same convention pdftotext -bbox reports.
type Rect struct {
	Left   float64 `json:"left" yaml:"left"`
	Top    float64 `json:"top" yaml:"top"`
	Right  float64 `json:"right" yaml:"right"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
}

// Validate rejects empty or inverted rectangles.
func (r Rect) Validate() error {
	if r.Right <= r.Left || r.Bottom <= r.Top {
		return fmt.Errorf("invalid region %+v: right/bottom must exceed left/top", r)
	}
	return nil
}

// Contains reports whether the point lies inside the rectangle, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left && x <= r.Right && y >= r.Top && y <= r.Bottom
}

// Glyph is a single positioned text element. Y is the baseline measured from the
// top of the page.
type Glyph struct {
	Text string
	X    float64
	Y    float64
	W    float64
	Size float64
}

func (g Glyph) width() float64 {
	if g.W > 0 {
		return g.W
	}
	// fonts without /Widths report zero; assume half an em
	return g.Size * 0.5
}

func (g Glyph) center() (float64, float64) {
	return g.X + g.width()/2, g.Y - g.Size*0.35
}

// RegionReader reads the text inside named regions of one page of a PDF.
type RegionReader interface {
	ReadRegions(path string, page int, regions map[string]Rect) (map[string]string, error)
}

// LayoutReader implements RegionReader on top of ledongthuc/pdf glyph positions.
type LayoutReader struct {
	validator *Validator
}

// NewLayoutReader creates a reader that validates every file before parsing it.
func NewLayoutReader(validator *Validator) *LayoutReader {
	return &LayoutReader{validator: validator}
}

// ReadRegions returns the text of every region, keyed like regions. Errors wrap
// ErrUnreadable when the file itself cannot be parsed.
func (r *LayoutReader) ReadRegions(path string, page int, regions map[string]Rect) (map[string]string, error) {
	if err := r.validator.Validate(path); err != nil {
		return nil, err
	}

	glyphs, err := PageGlyphs(path, page)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(regions))
	for name, rect := range regions {
		out[name] = RegionText(glyphs, rect)
	}
	return out, nil
}

// PageGlyphs returns all glyphs of a page converted to top-left coordinates.
func PageGlyphs(path string, pageNum int) (glyphs []Glyph, err error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, unreadable("failed to open PDF: %v", err)
	}
	defer f.Close()

	if pageNum < 1 || pageNum > reader.NumPage() {
		return nil, unreadable("invalid page number %d (document has %d pages)", pageNum, reader.NumPage())
	}

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return nil, unreadable("page %d is empty", pageNum)
	}

	// ledongthuc/pdf panics on malformed content streams
	defer func() {
		if rec := recover(); rec != nil {
			glyphs = nil
			err = unreadable("malformed content on page %d: %v", pageNum, rec)
		}
	}()

	height := pageHeight(page)
	content := page.Content()

	glyphs = make([]Glyph, 0, len(content.Text))
	for _, text := range content.Text {
		glyphs = append(glyphs, Glyph{
			Text: text.S,
			X:    text.X,
			Y:    height - text.Y,
			W:    text.W,
			Size: text.FontSize,
		})
	}

	return glyphs, nil
}

// maxTreeDepth bounds the walk up the page tree against Parent cycles.
const maxTreeDepth = 32

func pageHeight(page pdf.Page) float64 {
	box, ok := mediaBox(page)
	if !ok {
		return defaultPageHeight
	}
	height := box.Index(3).Float64() - box.Index(1).Float64()
	if height <= 0 {
		return defaultPageHeight
	}
	return height
}

// mediaBox returns the page's MediaBox. The entry is inheritable, so the page
// tree is searched upwards when the page itself has none.
func mediaBox(page pdf.Page) (pdf.Value, bool) {
	v := page.V
	for depth := 0; depth < maxTreeDepth && !v.IsNull(); depth++ {
		if box := v.Key("MediaBox"); box.Len() == 4 {
			return box, true
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}, false
}

// RegionText assembles the glyphs whose centre lies in rect into text. Lines are
// ordered top to bottom and joined with a newline; trailing whitespace is removed.
func RegionText(glyphs []Glyph, rect Rect) string {
	var inside []Glyph
	for _, g := range glyphs {
		if rect.Contains(g.center()) {
			inside = append(inside, g)
		}
	}
	if len(inside) == 0 {
		return ""
	}

	sort.SliceStable(inside, func(i, j int) bool {
		_, yi := inside[i].center()
		_, yj := inside[j].center()
		return yi < yj
	})

	var lines [][]Glyph
	var lineY float64
	for _, g := range inside {
		_, y := g.center()
		tolerance := max(g.Size, 1) * 0.5
		if len(lines) == 0 || y-lineY > tolerance {
			lines = append(lines, nil)
			lineY = y
		}
		lines[len(lines)-1] = append(lines[len(lines)-1], g)
	}

	rendered := make([]string, 0, len(lines))
	for _, line := range lines {
		rendered = append(rendered, renderLine(line))
	}

	return strings.TrimRight(strings.Join(rendered, "\n"), " \t\r\n")
}

func renderLine(line []Glyph) string {
	sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })

	var b strings.Builder
	for i, g := range line {
		if i > 0 {
			prev := line[i-1]
			gap := g.X - (prev.X + prev.width())
			if gap > max(g.Size, prev.Size)*0.3 && !strings.HasSuffix(b.String(), " ") && g.Text != " " {
				b.WriteByte(' ')
			}
		}
		b.WriteString(g.Text)
	}
	return strings.TrimRight(b.String(), " \t")
}
