package paperparser

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestOpenRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"plain text", []byte("this is not a pdf at all")},
		{"html", []byte("<!doctype html><html><body>404</body></html>")},
		{"header only", []byte("%PDF-1.4\n")},
		{"truncated", []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Open(tt.data)
			if err == nil {
				t.Fatalf("Open() = %v, want error", doc)
			}
			if !errors.Is(err, ErrUnreadablePDF) {
				t.Fatalf("Open() error = %v, want ErrUnreadablePDF", err)
			}
			var ue *UnreadablePDFError
			if !errors.As(err, &ue) {
				t.Fatalf("Open() error type = %T, want *UnreadablePDFError", err)
			}
		})
	}
}

func TestFragmentsPositions(t *testing.T) {
	data := buildPDF(t, []placedText{
		{X: 72, Y: 100, S: "1. Capital"},
		{X: 72, Y: 114, S: "a) Delhi"},
	})

	doc, err := Open(data)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var got []TextFragment
	for f, err := range doc.Fragments() {
		if err != nil {
			t.Fatalf("Fragments() error = %v", err)
		}
		got = append(got, f)
	}

	want := []struct {
		content string
		x, y    float64
	}{
		{"1.", 72, 100},
		{"Capital", 72 + 3*testCharWidth, 100},
		{"a)", 72, 114},
		{"Delhi", 72 + 3*testCharWidth, 114},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d fragments %+v, want %d", len(got), got, len(want))
	}
	for i, w := range want {
		f := got[i]
		if f.Content != w.content {
			t.Errorf("fragment %d content = %q, want %q", i, f.Content, w.content)
		}
		if f.Page != 1 {
			t.Errorf("fragment %d page = %d, want 1", i, f.Page)
		}
		if math.Abs(f.X-w.x) > 0.01 || math.Abs(f.Y-w.y) > 0.01 {
			t.Errorf("fragment %d at (%.2f, %.2f), want (%.2f, %.2f)", i, f.X, f.Y, w.x, w.y)
		}
		if math.Abs(f.FontSize-testFontSize) > 0.01 {
			t.Errorf("fragment %d font size = %.2f, want %.2f", i, f.FontSize, testFontSize)
		}
		wantWidth := float64(len(w.content)) * testCharWidth
		if math.Abs(f.Width-wantWidth) > 0.01 {
			t.Errorf("fragment %d width = %.2f, want %.2f", i, f.Width, wantWidth)
		}
	}
}

func TestFragmentsPageOrder(t *testing.T) {
	data := buildPDF(t, column(72, "first page"), column(72, "second page"))

	doc, err := Open(data)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	pages, count, err := doc.Pages()
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	if count != 4 {
		t.Fatalf("count = %d, want 4", count)
	}
	if len(pages[1]) != 2 || len(pages[2]) != 2 {
		t.Fatalf("fragments per page = %d/%d, want 2/2", len(pages[1]), len(pages[2]))
	}
	if pages[2][0].Content != "second" {
		t.Errorf("page 2 first fragment = %q, want %q", pages[2][0].Content, "second")
	}
}

func TestFragmentsStopEarly(t *testing.T) {
	data := buildPDF(t, column(72, "one two three"))
	doc, err := Open(data)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	n := 0
	for range doc.Fragments() {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("consumed %d fragments, want 1", n)
	}
}

func TestSanitizePDF(t *testing.T) {
	pdf := buildPDF(t, column(72, "text"))
	withGarbage := append(append([]byte{}, pdf...), []byte("<html><body>tracking pixel</body></html>")...)

	got := sanitizePDF(withGarbage)
	if !bytes.Equal(got, pdf) {
		t.Fatalf("sanitizePDF kept %d bytes, want %d", len(got), len(pdf))
	}

	if _, err := Open(withGarbage); err != nil {
		t.Fatalf("Open() with trailing garbage error = %v", err)
	}

	if got := sanitizePDF(pdf); !bytes.Equal(got, pdf) {
		t.Fatalf("sanitizePDF changed a clean file")
	}
}
