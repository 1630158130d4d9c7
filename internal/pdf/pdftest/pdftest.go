// Package pdftest writes small single-page PDFs with text at known positions.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// PageHeight is the A4 height used when a Page sets none.
const PageHeight = 842.0

// Page describes the generated page.
type Page struct {
	// Height of the MediaBox in points; zero means A4.
	Height float64
	// MediaBoxOnPage puts the MediaBox on the page object instead of the
	// page tree node it would otherwise be inherited from.
	MediaBoxOnPage bool
}

// Text is one run of Courier text. Top is the baseline measured from the top of
// the page, matching the coordinates the extractor works with.
type Text struct {
	S    string
	X    float64
	Top  float64
	Size float64
}

// Build renders a one page A4 PDF with Courier text runs and a valid xref table.
func Build(texts []Text) []byte {
	return BuildPage(Page{}, texts)
}

// BuildPage is Build with a custom page size.
func BuildPage(p Page, texts []Text) []byte {
	height := p.Height
	if height == 0 {
		height = PageHeight
	}
	mediaBox := fmt.Sprintf("/MediaBox [0 0 595 %g]", height)
	treeBox, pageBox := " "+mediaBox, ""
	if p.MediaBoxOnPage {
		treeBox, pageBox = "", " "+mediaBox
	}

	var content strings.Builder
	for _, t := range texts {
		size := t.Size
		if size == 0 {
			size = 8
		}
		fmt.Fprintf(&content, "BT /F1 %g Tf 1 0 0 1 %g %g Tm (%s) Tj ET\n",
			size, t.X, height-t.Top, escape(t.S))
	}

	widths := strings.TrimSpace(strings.Repeat("600 ", 126-32+1))
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [3 0 R] /Count 1%s >>", treeBox),
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R%s /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>", pageBox),
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding " +
			"/FirstChar 32 /LastChar 126 /Widths [" + widths + "] >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return buf.Bytes()
}

// WriteFile builds the PDF into dir/name and returns the full path.
func WriteFile(t testing.TB, dir, name string, texts []Text) string {
	t.Helper()
	return WritePage(t, dir, name, Page{}, texts)
}

// WritePage is WriteFile with a custom page size.
func WritePage(t testing.TB, dir, name string, p Page, texts []Text) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, BuildPage(p, texts), 0o600); err != nil {
		t.Fatalf("failed to write test PDF: %v", err)
	}
	return path
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
