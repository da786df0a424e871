package paperparser

import (
	"fmt"
	"regexp"
	"strings"
)

type section int

const (
	sectionBody section = iota
	sectionOption
	sectionExplanation
)

// segmenter walks classified lines and cuts them into question blocks.
type segmenter struct {
	blocks  []RawQuestionBlock
	section section
	option  OptionKey

	// subList tracks a "1. 2. 3." statement list inside the current question body.
	subList     bool
	subListLast int

	// instructions is set when an instructions heading precedes the first numbered item.
	// It is consumed by the first restart.
	instructions bool
	warnings     []Warning

	scanned int
}

var instructionsHeadingRe = regexp.MustCompile(`(?i)^\s*(?:general\s+|important\s+)?(?:instructions?|directions?)\b`)

// Segment splits the ordered lines of a question paper into question blocks. Question
// numbers in the result always run 1, 2, 3... A number that breaks the sequence, or that
// continues a statement list inside a question body, stays body text.
//
// Numbered items under an instructions heading are dropped once a second "1." starts the
// questions; each dropped item is reported as an instructions_skipped warning.
func Segment(lines []Line) ([]RawQuestionBlock, []Warning, error) {
	s := &segmenter{}
	for _, line := range lines {
		if line.Text == "" {
			continue
		}
		s.scanned++
		s.feed(line, ClassifyLine(line.Text))
	}

	if len(s.blocks) == 0 {
		return nil, s.warnings, &NoQuestionsFoundError{LinesScanned: s.scanned}
	}
	return s.blocks, s.warnings, nil
}

func (s *segmenter) current() *RawQuestionBlock {
	if len(s.blocks) == 0 {
		return nil
	}
	return &s.blocks[len(s.blocks)-1]
}

func (s *segmenter) feed(line Line, m Marker) {
	if m.Kind == QuestionStart && s.accepts(m.Number) {
		s.start(line, m)
		return
	}

	cur := s.current()
	if cur == nil {
		// preamble before question 1
		if instructionsHeadingRe.MatchString(line.Text) {
			s.instructions = true
		}
		return
	}

	switch m.Kind {
	case QuestionStart:
		s.trackSubList(m.Number)
		s.appendText(cur, withText(line, line.Text))

	case OptionMarker:
		if s.section == sectionExplanation {
			s.appendText(cur, withText(line, line.Text))
			return
		}
		s.section = sectionOption
		s.subList = false
		for _, seg := range m.Options {
			s.option = seg.Key
			cur.OptionLines[seg.Key] = append(cur.OptionLines[seg.Key], withText(line, seg.Text))
		}

	case AnswerMarker:
		if m.Answer != "" && cur.InlineAnswer == nil {
			answer := m.Answer
			cur.InlineAnswer = &answer
		}
		s.section = sectionExplanation
		if m.Text != "" {
			cur.ExplanationLines = append(cur.ExplanationLines, withText(line, m.Text))
		}

	case ExplanationMarker:
		s.section = sectionExplanation
		if m.Text != "" {
			cur.ExplanationLines = append(cur.ExplanationLines, withText(line, m.Text))
		}

	default:
		s.appendText(cur, withText(line, m.Text))
	}
}

// accepts reports whether n is the next question number. Inside a statement list the
// number that would continue the list is not a question.
func (s *segmenter) accepts(n int) bool {
	cur := s.current()
	if cur == nil {
		return n == 1
	}
	if n == 1 && s.restartable() {
		return true
	}
	if n != cur.QuestionNumber+1 {
		return false
	}
	if s.inBody() && s.subList && n == s.subListLast+1 {
		return false
	}
	return true
}

// restartable is true when the blocks so far look like a numbered instructions page: an
// instructions heading came before them and none has options, an answer or an explanation.
// A second "1." then marks the real first question.
func (s *segmenter) restartable() bool {
	if !s.instructions {
		return false
	}
	for _, b := range s.blocks {
		if len(b.OptionLines) > 0 || b.InlineAnswer != nil || len(b.ExplanationLines) > 0 {
			return false
		}
	}
	return true
}

// discardInstructions drops the instruction items collected so far and records a warning
// for each of them.
func (s *segmenter) discardInstructions() {
	for _, b := range s.blocks {
		text := strings.Join(lineTexts(b.BodyLines), " ")
		s.warnings = append(s.warnings, Warning{
			Kind:    WarningInstructionsSkipped,
			Message: fmt.Sprintf("numbered item %d before the first question was treated as an instruction: %q", b.QuestionNumber, text),
		})
	}
	s.blocks = s.blocks[:0]
	s.instructions = false
}

func (s *segmenter) inBody() bool {
	cur := s.current()
	return cur != nil && s.section == sectionBody && len(cur.OptionLines) == 0
}

func (s *segmenter) trackSubList(n int) {
	if !s.inBody() {
		return
	}
	switch {
	case n == 1:
		s.subList = true
		s.subListLast = 1
	case s.subList && n == s.subListLast+1:
		s.subListLast = n
	}
}

func (s *segmenter) start(line Line, m Marker) {
	if m.Number == 1 && len(s.blocks) > 0 {
		s.discardInstructions()
	}

	block := RawQuestionBlock{
		QuestionNumber: m.Number,
		OptionLines:    make(map[OptionKey][]Line),
	}
	if m.Text != "" {
		block.BodyLines = append(block.BodyLines, withText(line, m.Text))
	}
	s.blocks = append(s.blocks, block)

	s.section = sectionBody
	s.option = ""
	s.subList = false
	s.subListLast = 0
}

func (s *segmenter) appendText(cur *RawQuestionBlock, line Line) {
	switch s.section {
	case sectionOption:
		cur.OptionLines[s.option] = append(cur.OptionLines[s.option], line)
	case sectionExplanation:
		cur.ExplanationLines = append(cur.ExplanationLines, line)
	default:
		cur.BodyLines = append(cur.BodyLines, line)
	}
}

// withText returns a copy of line carrying only the text after its marker.
func withText(line Line, text string) Line {
	line.Text = text
	return line
}
