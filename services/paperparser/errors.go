package paperparser

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreadablePDF matches any *UnreadablePDFError via errors.Is.
	ErrUnreadablePDF = errors.New("unreadable pdf")
	// ErrNoQuestionsFound matches any *NoQuestionsFoundError via errors.Is.
	ErrNoQuestionsFound = errors.New("no questions found")
)

// Document roles used in errors and logs.
const (
	DocumentQuestionPaper = "question_paper"
	DocumentAnswerKey     = "answer_key"
)

// UnreadablePDFError means the bytes are not a usable PDF or carry no extractable text.
// Re-uploading the same file will not help.
type UnreadablePDFError struct {
	Document string
	Reason   string
	Err      error
}

func (e *UnreadablePDFError) Error() string {
	msg := fmt.Sprintf("unreadable %s pdf: %s", documentLabel(e.Document), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnreadablePDFError) Unwrap() error { return e.Err }

func (e *UnreadablePDFError) Is(target error) bool { return target == ErrUnreadablePDF }

// NoQuestionsFoundError means text was extracted but no question numbering was recognised.
type NoQuestionsFoundError struct {
	LinesScanned int
}

func (e *NoQuestionsFoundError) Error() string {
	return fmt.Sprintf("no numbered questions found in %d lines of text", e.LinesScanned)
}

func (e *NoQuestionsFoundError) Is(target error) bool { return target == ErrNoQuestionsFound }

// FailureKind returns a stable identifier for a terminal pipeline error.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnreadablePDF):
		return "unreadable_pdf"
	case errors.Is(err, ErrNoQuestionsFound):
		return "no_questions_found"
	default:
		return "internal"
	}
}

func documentLabel(doc string) string {
	switch doc {
	case DocumentAnswerKey:
		return "answer key"
	case DocumentQuestionPaper:
		return "question paper"
	default:
		return "document"
	}
}

func unreadable(doc, reason string, err error) *UnreadablePDFError {
	return &UnreadablePDFError{Document: doc, Reason: reason, Err: err}
}
