package paperparser

import (
	"bytes"
	"fmt"
	"iter"
	"math"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

const (
	pdfHeader = "%PDF-"
	pdfEOF    = "%%EOF"

	// defaultPageHeight is A4 in points, used when a page has no readable MediaBox.
	defaultPageHeight = 842.0
)

// Document is an opened PDF ready for fragment extraction.
type Document struct {
	reader *pdf.Reader
	pages  int
}

// Open parses PDF bytes held in memory. The bytes are never written to disk.
func Open(data []byte) (doc *Document, err error) {
	if len(data) == 0 {
		return nil, unreadable("", "empty file", nil)
	}
	if !bytes.HasPrefix(data, []byte(pdfHeader)) {
		return nil, unreadable("", "missing %PDF- header", nil)
	}

	data = sanitizePDF(data)

	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = unreadable("", "malformed structure", fmt.Errorf("%v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, unreadable("", "parse failed", err)
	}

	pages := reader.NumPage()
	if pages == 0 {
		return nil, unreadable("", "no pages", nil)
	}

	return &Document{reader: reader, pages: pages}, nil
}

// NumPages returns the page count reported by the PDF catalog.
func (d *Document) NumPages() int {
	return d.pages
}

// Fragments yields text runs page by page in extraction order. Pages are decoded lazily, so a
// consumer that stops early never touches the remaining pages. A page whose content stream
// cannot be decoded yields an *UnreadablePDFError and ends the sequence.
func (d *Document) Fragments() iter.Seq2[TextFragment, error] {
	return func(yield func(TextFragment, error) bool) {
		for i := 1; i <= d.pages; i++ {
			frags, err := d.pageFragments(i)
			if err != nil {
				yield(TextFragment{}, err)
				return
			}
			for _, f := range frags {
				if !yield(f, nil) {
					return
				}
			}
		}
	}
}

// Pages drains Fragments into per-page slices and returns the number of fragments seen.
func (d *Document) Pages() (map[int][]TextFragment, int, error) {
	pages := make(map[int][]TextFragment, d.pages)
	count := 0
	for f, err := range d.Fragments() {
		if err != nil {
			return nil, count, err
		}
		pages[f.Page] = append(pages[f.Page], f)
		count++
	}
	return pages, count, nil
}

func (d *Document) pageFragments(num int) (frags []TextFragment, err error) {
	defer func() {
		if r := recover(); r != nil {
			frags = nil
			err = unreadable("", fmt.Sprintf("page %d content could not be decoded", num), fmt.Errorf("%v", r))
		}
	}()

	page := d.reader.Page(num)
	if page.V.IsNull() {
		return nil, nil
	}

	height := pageHeight(page)
	content := page.Content()
	return mergeGlyphs(num, height, content.Text), nil
}

// pageHeight reads the MediaBox of the page or the nearest ancestor that defines one.
func pageHeight(page pdf.Page) float64 {
	for v := page.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Kind() != pdf.Array || box.Len() != 4 {
			continue
		}
		h := box.Index(3).Float64() - box.Index(1).Float64()
		if h > 0 {
			return h
		}
	}
	return defaultPageHeight
}

// mergeGlyphs joins the per-glyph output of the PDF reader into runs. A run ends at
// whitespace, a baseline or size change, or a horizontal jump. Y is flipped to a top-left origin.
func mergeGlyphs(page int, height float64, glyphs []pdf.Text) []TextFragment {
	var (
		out  []TextFragment
		cur  TextFragment
		text strings.Builder
		open bool
	)

	flush := func() {
		if open && strings.TrimSpace(text.String()) != "" {
			cur.Content = text.String()
			out = append(out, cur)
		}
		text.Reset()
		open = false
	}

	for _, g := range glyphs {
		if isBlank(g.S) {
			flush()
			continue
		}

		size := g.FontSize
		if size <= 0 {
			size = 1
		}
		y := height - g.Y

		if open && continues(cur, g.X, y, size) {
			text.WriteString(g.S)
			cur.Width = math.Max(cur.Width, g.X+g.W-cur.X)
			continue
		}

		flush()
		cur = TextFragment{Page: page, X: g.X, Y: y, Width: g.W, FontSize: size}
		text.WriteString(g.S)
		open = true
	}
	flush()

	return out
}

func continues(run TextFragment, x, y, size float64) bool {
	if math.Abs(run.Y-y) > 0.01*size || math.Abs(run.FontSize-size) > 0.01 {
		return false
	}
	gap := x - run.right()
	return gap > -0.5*size && gap < 0.1*size
}

func isBlank(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}

// sanitizePDF cuts trailing data appended after the last %%EOF marker, which is common for
// files saved from web pages.
func sanitizePDF(content []byte) []byte {
	lastEOF := bytes.LastIndex(content, []byte(pdfEOF))
	if lastEOF == -1 {
		return content
	}

	end := lastEOF + len(pdfEOF)
	for end < len(content) && (content[end] == '\n' || content[end] == '\r') {
		end++
	}

	if len(content)-end > 10 {
		return content[:end]
	}
	return content
}
