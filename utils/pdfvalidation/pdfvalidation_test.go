package pdfvalidation

import (
	"strings"
	"testing"

	"github.com/sahilchouksey/upsc-prep-api/services/paperparser/pdftest"
)

func TestValidatePDFBytes(t *testing.T) {
	onePage := pdftest.Build(pdftest.Column(72, "1. Question"))
	threePages := pdftest.Build(pdftest.Column(72, "a"), pdftest.Column(72, "b"), pdftest.Column(72, "c"))

	tests := []struct {
		name           string
		content        []byte
		limits         PDFLimits
		wantValid      bool
		wantUnreadable bool
		wantPages      int
		wantErr        string
	}{
		{"valid", onePage, QuestionPaperLimits, true, false, 1, ""},
		{"not a pdf", []byte("hello"), QuestionPaperLimits, false, true, 0, "missing PDF header"},
		{"too many pages", threePages, QuestionPaperLimits.WithMax(0, 2), false, false, 3, "exceeds the maximum of 2 pages for question paper"},
		{"too large", onePage, PDFLimits{MaxFileSizeMB: 0, MaxPages: 10, DocumentTypeName: "answer key"}, false, false, 0, "answer key exceeds maximum allowed size"},
		{"truncated", onePage[:40], AnswerKeyLimits, false, true, 0, "Failed to read answer key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePDFBytes(tt.content, tt.limits)
			if err != nil {
				t.Fatalf("ValidatePDFBytes() error = %v", err)
			}
			if got.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (error %q)", got.Valid, tt.wantValid, got.Error)
			}
			if got.Unreadable != tt.wantUnreadable {
				t.Errorf("Unreadable = %v, want %v", got.Unreadable, tt.wantUnreadable)
			}
			if got.PageCount != tt.wantPages {
				t.Errorf("PageCount = %d, want %d", got.PageCount, tt.wantPages)
			}
			if tt.wantErr != "" && !strings.Contains(got.Error, tt.wantErr) {
				t.Errorf("Error = %q, want it to contain %q", got.Error, tt.wantErr)
			}
		})
	}
}

func TestWithMax(t *testing.T) {
	l := AnswerKeyLimits.WithMax(5, 0)
	if l.MaxFileSizeMB != 5 || l.MaxPages != AnswerKeyLimits.MaxPages {
		t.Fatalf("WithMax(5, 0) = %+v", l)
	}
}
