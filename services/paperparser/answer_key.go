package paperparser

import (
	"fmt"
	"strings"
)

// SegmentAnswerKey reads answer-key lines into entries in document order. Placeholder
// answers such as "(?)" produce entries with an empty Answer. When a line holds a single
// entry followed by text, that text and the plain lines after it become the entry's
// explanation. Lines before the first entry (titles, headers) are skipped.
func SegmentAnswerKey(lines []Line) []AnswerKeyEntry {
	var entries []AnswerKeyEntry
	explaining := -1
	var explanation []string

	flush := func() {
		if explaining >= 0 {
			entries[explaining].Explanation = collapseSpaces(strings.Join(explanation, " "))
		}
		explaining = -1
		explanation = nil
	}

	for _, line := range lines {
		if line.Text == "" {
			continue
		}

		tokens := ClassifyAnswerKeyLine(line.Text)
		if len(tokens) == 0 {
			if explaining >= 0 {
				explanation = append(explanation, line.Text)
			}
			continue
		}

		flush()
		for _, tok := range tokens {
			entries = append(entries, AnswerKeyEntry{QuestionNumber: tok.Number, Answer: tok.Answer})
		}
		if len(tokens) == 1 && tokens[0].Trailing != "" {
			explaining = len(entries) - 1
			explanation = []string{tokens[0].Trailing}
		}
	}
	flush()

	return entries
}

// AnswerMatch is the result of aligning key entries with the paper's question numbers.
type AnswerMatch struct {
	// Supplied is false when no answer key was given at all.
	Supplied  bool
	Unmatched int
	Warnings  []Warning

	entries map[int]AnswerKeyEntry
}

// Lookup returns the key entry for question n. An entry may carry an empty Answer when the
// key marks the question as unresolved.
func (m AnswerMatch) Lookup(n int) (AnswerKeyEntry, bool) {
	e, ok := m.entries[n]
	return e, ok
}

// MatchAnswers aligns key entries to question numbers by exact number. Nothing is guessed:
// entries for numbers the paper does not have are counted and reported, questions without
// an entry stay unresolved, and a duplicate entry keeps the first occurrence.
func MatchAnswers(questions []int, entries []AnswerKeyEntry) AnswerMatch {
	match := AnswerMatch{
		Supplied: true,
		entries:  make(map[int]AnswerKeyEntry, len(entries)),
	}

	known := make(map[int]bool, len(questions))
	for _, q := range questions {
		known[q] = true
	}

	distinct := 0
	for _, e := range entries {
		if prev, dup := match.entries[e.QuestionNumber]; dup {
			match.warn(e.QuestionNumber, "duplicate answer key entry %s ignored, keeping %s", answerLabel(e.Answer), answerLabel(prev.Answer))
			continue
		}
		match.entries[e.QuestionNumber] = e
		distinct++

		if !known[e.QuestionNumber] {
			match.Unmatched++
			match.warn(e.QuestionNumber, "answer key has an entry for question %d which is not in the paper", e.QuestionNumber)
		}
	}

	for _, q := range questions {
		e, ok := match.entries[q]
		switch {
		case !ok:
			match.warn(q, "no answer key entry for question %d", q)
		case e.Answer == "":
			match.warn(q, "answer key leaves question %d unresolved", q)
		}
	}

	if distinct != len(questions) {
		match.warn(0, "answer key has %d entries but the paper has %d questions", distinct, len(questions))
	}

	return match
}

func (m *AnswerMatch) warn(question int, format string, args ...any) {
	m.Warnings = append(m.Warnings, Warning{
		Kind:           WarningAnswerKeyMismatch,
		QuestionNumber: question,
		Message:        fmt.Sprintf(format, args...),
	})
}

func answerLabel(k OptionKey) string {
	if k == "" {
		return "(?)"
	}
	return string(k)
}
