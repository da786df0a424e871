// Package pdftest writes small uncompressed PDFs with positioned text for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	PageWidth  = 612.0
	PageHeight = 792.0
	FontSize   = 10.0
	LineGap    = 14.0
	// Courier advances 600/1000 of the font size per glyph.
	CharWidth = 6.0
)

// Text is one Tj call. Y is the baseline measured from the top of the page.
type Text struct {
	X, Y float64
	S    string
}

// Column lays out lines from the top of a page at x, one line per LineGap.
func Column(x float64, lines ...string) []Text {
	out := make([]Text, 0, len(lines))
	for i, l := range lines {
		out = append(out, Text{X: x, Y: 72 + float64(i)*LineGap, S: l})
	}
	return out
}

// Build writes a PDF with one Courier font and one page per element of pages.
func Build(pages ...[]Text) []byte {
	widths := strings.TrimSpace(strings.Repeat("600 ", 126-32+1))
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"", // page tree, filled below
		"<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [" + widths + "] >>",
	}

	var kids []string
	for _, items := range pages {
		var content strings.Builder
		for _, it := range items {
			fmt.Fprintf(&content, "BT /F1 %g Tf 1 0 0 1 %g %g Tm (%s) Tj ET\n",
				FontSize, it.X, PageHeight-it.Y, escape(it.S))
		}
		stream := content.String()

		pageNum := len(objects) + 1
		contentNum := pageNum + 1
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
				PageWidth, PageHeight, contentNum),
			fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream),
		)
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))

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

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

// PaperLines renders n questions in the layout of a simple single-column paper.
func PaperLines(n int) []string {
	var lines []string
	for i := 1; i <= n; i++ {
		lines = append(lines,
			fmt.Sprintf("%d. What is the capital of India?", i),
			"a) Mumbai",
			"b) Delhi",
			"c) Kolkata",
			"d) Chennai",
		)
	}
	return lines
}

// AnswerKey renders "1. B" style entries, all answering b.
func AnswerKey(n int) []string {
	lines := []string{"ANSWER KEY"}
	for i := 1; i <= n; i++ {
		lines = append(lines, fmt.Sprintf("%d. B", i))
	}
	return lines
}
