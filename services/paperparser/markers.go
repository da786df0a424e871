package paperparser

import (
	"regexp"
	"strconv"
	"strings"
)

// MarkerKind tags what a line starts with.
type MarkerKind int

const (
	PlainText MarkerKind = iota
	QuestionStart
	OptionMarker
	AnswerMarker
	ExplanationMarker
)

func (k MarkerKind) String() string {
	switch k {
	case QuestionStart:
		return "question"
	case OptionMarker:
		return "option"
	case AnswerMarker:
		return "answer"
	case ExplanationMarker:
		return "explanation"
	default:
		return "text"
	}
}

// OptionSegment is the text that follows one option marker.
type OptionSegment struct {
	Key  OptionKey
	Text string
}

// Marker is the classification of a single line.
//
//	QuestionStart:     Number and the question text in Text
//	OptionMarker:      Options holds one segment per marker found on the line
//	AnswerMarker:      Answer, empty when the line marks the answer as unknown; Text is any trailing text
//	ExplanationMarker: Text after the label
//	PlainText:         Text is the whole line
type Marker struct {
	Kind    MarkerKind
	Number  int
	Answer  OptionKey
	Options []OptionSegment
	Text    string
}

var (
	questionStartRe = regexp.MustCompile(`^\s*(?:Q(?:\.|uestion)?\s*)?(\d{1,3})\s*[.)](.*)$`)
	optionStartRe   = regexp.MustCompile(`^\s*(?:\(([a-dA-D])\)\s*|([a-dA-D])[.)](?:\s+|$))(.*)$`)
	answerRe        = regexp.MustCompile(`(?i)^\s*(?:ans(?:wer)?|correct\s+(?:answer|option))\s*(?:is)?\s*[.:\-]*\s*(?:\(\s*([a-d?])\s*\)|([a-d?*]))(?:[\s.,;:)\-]+(.*))?$`)
	explanationRe   = regexp.MustCompile(`(?i)^\s*(?:explanation|expl|solution)\s*[:.\-]\s*(.*)$`)
)

// ClassifyLine matches a line against the recognised marker grammars. Numbering checks
// (question numbers must run 1, 2, 3...) belong to the segmenter, not here.
func ClassifyLine(text string) Marker {
	if m := answerRe.FindStringSubmatch(text); m != nil {
		letter := m[1]
		if letter == "" {
			letter = m[2]
		}
		key, _ := ParseOptionKey(letter)
		return Marker{Kind: AnswerMarker, Answer: key, Text: strings.TrimSpace(m[3])}
	}

	if m := explanationRe.FindStringSubmatch(text); m != nil {
		return Marker{Kind: ExplanationMarker, Text: strings.TrimSpace(m[1])}
	}

	if m := questionStartRe.FindStringSubmatch(text); m != nil {
		rest := m[2]
		// 1.5 or 2)3 are numbers, not question labels
		if rest == "" || !isDigit(rest[0]) {
			n, err := strconv.Atoi(m[1])
			if err == nil && n > 0 {
				return Marker{Kind: QuestionStart, Number: n, Text: strings.TrimSpace(rest)}
			}
		}
	}

	if m := optionStartRe.FindStringSubmatch(text); m != nil {
		letter := m[1]
		if letter == "" {
			letter = m[2]
		}
		key, _ := ParseOptionKey(letter)
		return Marker{Kind: OptionMarker, Options: splitInlineOptions(key, m[3])}
	}

	return Marker{Kind: PlainText, Text: strings.TrimSpace(text)}
}

// splitInlineOptions splits "Delhi (b) Mumbai (c) Pune" that follows a first marker into one
// segment per option. Only the next letter in sequence is looked for, so "(a)" inside
// option text after "(c)" stays text.
func splitInlineOptions(first OptionKey, rest string) []OptionSegment {
	segments := []OptionSegment{{Key: first}}
	cur := &segments[0]

	for next := first.next(); next != ""; next = next.next() {
		at, end := findInlineMarker(rest, next)
		if at < 0 {
			break
		}
		cur.Text = strings.TrimSpace(rest[:at])
		rest = rest[end:]
		segments = append(segments, OptionSegment{Key: next})
		cur = &segments[len(segments)-1]
	}
	cur.Text = strings.TrimSpace(rest)

	return segments
}

// findInlineMarker locates "(b)" or "b)" preceded by whitespace.
func findInlineMarker(s string, key OptionKey) (int, int) {
	lower := strings.ToLower(string(key))
	upper := string(key)
	for i := 1; i < len(s); i++ {
		if s[i-1] != ' ' && s[i-1] != '\t' {
			continue
		}
		for _, letter := range []string{lower, upper} {
			for _, form := range []string{"(" + letter + ")", letter + ")"} {
				if strings.HasPrefix(s[i:], form) {
					return i - 1, i + len(form)
				}
			}
		}
	}
	return -1, -1
}

// KeyToken is one answer-key entry found on a line. Answer is empty for placeholders such
// as "(?)" or "*". Trailing is set on the last token of a line and carries any text left after it.
type KeyToken struct {
	Number   int
	Answer   OptionKey
	Trailing string
}

var keyEntryRe = regexp.MustCompile(`(?i)^[\s,;|]*(?:q(?:uestion)?\s*\.?\s*(?:no\.?\s*)?)?(\d{1,3})\s*[.):\-]?\s*(?:\(\s*([a-d?])\s*\)|([a-d])|(\?|\*|--?))`)

// ClassifyAnswerKeyLine extracts every "number -> answer" pair from a key line, left to
// right. Tabular keys carry several pairs per line. It returns nil for lines that do not
// start with a pair.
func ClassifyAnswerKeyLine(text string) []KeyToken {
	var tokens []KeyToken
	rest := text

	for {
		m := keyEntryRe.FindStringSubmatchIndex(rest)
		if m == nil {
			break
		}
		end := m[1]
		if end < len(rest) && isWordByte(rest[end]) {
			break
		}

		n, err := strconv.Atoi(rest[m[2]:m[3]])
		if err != nil || n == 0 {
			break
		}

		var letter string
		switch {
		case m[4] >= 0:
			letter = rest[m[4]:m[5]]
		case m[6] >= 0:
			letter = rest[m[6]:m[7]]
		}
		key, _ := ParseOptionKey(letter)

		tokens = append(tokens, KeyToken{Number: n, Answer: key})
		rest = rest[end:]
	}

	if len(tokens) > 0 {
		tokens[len(tokens)-1].Trailing = strings.TrimSpace(strings.TrimLeft(rest, " \t.,;:)-|"))
	}
	return tokens
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isWordByte(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
