package pdfvalidation

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/sahilchouksey/upsc-prep-api/services/paperparser"
)

// PDFLimits defines the validation limits for PDF uploads
type PDFLimits struct {
	MaxFileSizeMB    int
	MaxPages         int
	DocumentTypeName string // used in error messages
}

var (
	QuestionPaperLimits = PDFLimits{
		MaxFileSizeMB:    50,
		MaxPages:         200,
		DocumentTypeName: "question paper",
	}

	AnswerKeyLimits = PDFLimits{
		MaxFileSizeMB:    20,
		MaxPages:         50,
		DocumentTypeName: "answer key",
	}
)

// WithMax returns a copy of l with positive overrides applied.
func (l PDFLimits) WithMax(fileSizeMB, pages int) PDFLimits {
	if fileSizeMB > 0 {
		l.MaxFileSizeMB = fileSizeMB
	}
	if pages > 0 {
		l.MaxPages = pages
	}
	return l
}

// ValidationResult contains the result of PDF validation
type ValidationResult struct {
	Valid bool
	// Unreadable is set when the content is not a PDF we can open, as opposed
	// to a readable PDF over the limits.
	Unreadable bool
	PageCount  int
	FileSize   int64
	Error      string
}

// ReadPDFFile validates an uploaded file and returns its content.
// A rejected upload is reported through the result, not the error.
func ReadPDFFile(file *multipart.FileHeader, limits PDFLimits) ([]byte, *ValidationResult, error) {
	result := &ValidationResult{FileSize: file.Size}

	if file.Size > maxBytes(limits) {
		result.Error = fmt.Sprintf("%s exceeds maximum allowed size of %dMB", limits.DocumentTypeName, limits.MaxFileSizeMB)
		return nil, result, nil
	}

	if !strings.HasSuffix(strings.ToLower(file.Filename), ".pdf") {
		result.Error = "Only PDF files are supported"
		return nil, result, nil
	}

	f, err := file.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxBytes(limits)+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}

	result, err = ValidatePDFBytes(content, limits)
	if err != nil {
		return nil, nil, err
	}
	return content, result, nil
}

// ValidatePDFBytes validates PDF content bytes against the given limits
func ValidatePDFBytes(content []byte, limits PDFLimits) (*ValidationResult, error) {
	result := &ValidationResult{FileSize: int64(len(content))}

	if result.FileSize > maxBytes(limits) {
		result.Error = fmt.Sprintf("%s exceeds maximum allowed size of %dMB", limits.DocumentTypeName, limits.MaxFileSizeMB)
		return result, nil
	}

	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		result.Error = fmt.Sprintf("Invalid %s: missing PDF header", limits.DocumentTypeName)
		result.Unreadable = true
		return result, nil
	}

	doc, err := paperparser.Open(content)
	if err != nil {
		result.Error = fmt.Sprintf("Failed to read %s: %v", limits.DocumentTypeName, err)
		result.Unreadable = true
		return result, nil
	}

	result.PageCount = doc.NumPages()
	if result.PageCount > limits.MaxPages {
		result.Error = fmt.Sprintf("PDF has %d pages, which exceeds the maximum of %d pages for %s",
			result.PageCount, limits.MaxPages, limits.DocumentTypeName)
		return result, nil
	}

	result.Valid = true
	return result, nil
}

func maxBytes(l PDFLimits) int64 {
	return int64(l.MaxFileSizeMB) * 1024 * 1024
}
