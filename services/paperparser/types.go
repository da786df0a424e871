// Package paperparser turns typed UPSC question-paper PDFs (and an optional answer-key PDF)
// into structured multiple-choice question records.
//
// The work is split into stages that pass plain values to each other:
//
//	PDF bytes -> TextFragment -> Line -> RawQuestionBlock -> NormalizedBlock -> QuestionRecord
//
// with the answer key going through the first two stages and a key segmenter before it is
// matched by question number.
package paperparser

import "strings"

// TextFragment is one positioned run of text as extracted from a PDF page.
// Coordinates use a top-left origin; Y is the text baseline.
type TextFragment struct {
	Content  string  `json:"content"`
	Page     int     `json:"page"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	FontSize float64 `json:"font_size"`
}

// centerY is the vertical middle of the glyph box.
func (f TextFragment) centerY() float64 {
	return f.Y - f.FontSize/2
}

func (f TextFragment) centerX() float64 {
	return f.X + f.Width/2
}

func (f TextFragment) right() float64 {
	return f.X + f.Width
}

// Line is a reconstructed row of text within one column of a page.
type Line struct {
	Page      int            `json:"page"`
	Column    int            `json:"column"`
	Text      string         `json:"text"`
	Y         float64        `json:"y"`
	Fragments []TextFragment `json:"-"`
}

// OptionKey identifies one of the four MCQ options.
type OptionKey string

const (
	OptionA OptionKey = "A"
	OptionB OptionKey = "B"
	OptionC OptionKey = "C"
	OptionD OptionKey = "D"
)

// OptionKeys lists the option keys in display order.
var OptionKeys = []OptionKey{OptionA, OptionB, OptionC, OptionD}

// ParseOptionKey maps a/b/c/d (any case) to an OptionKey.
func ParseOptionKey(s string) (OptionKey, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return OptionA, true
	case "B":
		return OptionB, true
	case "C":
		return OptionC, true
	case "D":
		return OptionD, true
	}
	return "", false
}

// next returns the key after k, or "" after D.
func (k OptionKey) next() OptionKey {
	switch k {
	case OptionA:
		return OptionB
	case OptionB:
		return OptionC
	case OptionC:
		return OptionD
	}
	return ""
}

// RawQuestionBlock is the contiguous span of lines that belongs to one question.
type RawQuestionBlock struct {
	QuestionNumber   int
	BodyLines        []Line
	OptionLines      map[OptionKey][]Line
	InlineAnswer     *OptionKey
	ExplanationLines []Line
}

// NormalizedBlock is a RawQuestionBlock after bilingual clean-up.
type NormalizedBlock struct {
	QuestionNumber int
	Body           []string
	Options        map[OptionKey][]string
	InlineAnswer   *OptionKey
	Explanation    []string
}

// AnswerKeyEntry associates a question number with its correct option.
type AnswerKeyEntry struct {
	QuestionNumber int       `json:"question_number"`
	Answer         OptionKey `json:"answer"`
	Explanation    string    `json:"explanation,omitempty"`
}

// Answer sources recorded on QuestionRecord.AnswerSource.
const (
	AnswerSourceKey    = "answer_key"
	AnswerSourceInline = "inline"
)

// QuestionRecord is the final output unit handed to persistence.
type QuestionRecord struct {
	QuestionNumber int                  `json:"questionNumber"`
	QuestionText   string               `json:"questionText"`
	Options        map[OptionKey]string `json:"options"`
	CorrectAnswer  *OptionKey           `json:"correctAnswer"`
	AnswerSource   string               `json:"answerSource,omitempty"`
	Explanation    string               `json:"explanation,omitempty"`
	IsValid        bool                 `json:"isValid"`
	Issues         []string             `json:"issues,omitempty"`
}

// UsableOptionCount counts options with distinct non-empty text.
func (r QuestionRecord) UsableOptionCount() int {
	seen := make(map[string]struct{}, len(r.Options))
	for _, key := range OptionKeys {
		text := strings.TrimSpace(r.Options[key])
		if text == "" {
			continue
		}
		seen[strings.ToLower(text)] = struct{}{}
	}
	return len(seen)
}

// WarningKind classifies non-fatal data-quality conditions.
type WarningKind string

const (
	WarningAnswerKeyMismatch   WarningKind = "answer_key_mismatch"
	WarningInvalidQuestion     WarningKind = "invalid_question"
	WarningInstructionsSkipped WarningKind = "instructions_skipped"
)

// Warning is a non-fatal condition surfaced in the pipeline output.
// QuestionNumber is 0 for document-level warnings.
type Warning struct {
	Kind           WarningKind `json:"kind"`
	QuestionNumber int         `json:"question_number,omitempty"`
	Message        string      `json:"message"`
}
