package paperparser

import (
	"reflect"
	"strings"
	"testing"
)

func TestSegmentAnswerKey(t *testing.T) {
	lines := textLines(
		"UPSC Prelims 2023 Answer Key",
		"Set A",
		"1. (b)",
		"2) c",
		"Q3 - A The Preamble was amended",
		"only once, in 1976.",
		"4. d 5. (?)",
		"Page 1",
	)

	got := SegmentAnswerKey(lines)
	want := []AnswerKeyEntry{
		{QuestionNumber: 1, Answer: OptionB},
		{QuestionNumber: 2, Answer: OptionC},
		{QuestionNumber: 3, Answer: OptionA, Explanation: "The Preamble was amended only once, in 1976."},
		{QuestionNumber: 4, Answer: OptionD},
		{QuestionNumber: 5},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SegmentAnswerKey() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestSegmentAnswerKeyExplanationEndsAtNextEntry(t *testing.T) {
	got := SegmentAnswerKey(textLines(
		"1. a Because of the monsoon.",
		"2. b",
		"trailing note",
	))
	if got[0].Explanation != "Because of the monsoon." {
		t.Errorf("entry 1 explanation = %q", got[0].Explanation)
	}
	if got[1].Explanation != "" {
		t.Errorf("entry 2 explanation = %q, want empty", got[1].Explanation)
	}
}

func keyEntries(n int) []AnswerKeyEntry {
	entries := make([]AnswerKeyEntry, n)
	for i := range entries {
		entries[i] = AnswerKeyEntry{QuestionNumber: i + 1, Answer: OptionKeys[i%4]}
	}
	return entries
}

func warningsFor(ws []Warning, question int) []Warning {
	var out []Warning
	for _, w := range ws {
		if w.QuestionNumber == question {
			out = append(out, w)
		}
	}
	return out
}

func TestMatchAnswersExact(t *testing.T) {
	match := MatchAnswers([]int{1, 2, 3, 4}, keyEntries(4))

	if len(match.Warnings) != 0 {
		t.Fatalf("warnings = %+v, want none", match.Warnings)
	}
	for n := 1; n <= 4; n++ {
		e, ok := match.Lookup(n)
		if !ok || e.Answer != OptionKeys[(n-1)%4] {
			t.Errorf("Lookup(%d) = %+v, %v", n, e, ok)
		}
	}
	if !match.Supplied {
		t.Error("Supplied = false")
	}
}

func TestMatchAnswersMismatch(t *testing.T) {
	entries := []AnswerKeyEntry{
		{QuestionNumber: 1, Answer: OptionA},
		{QuestionNumber: 1, Answer: OptionC},
		{QuestionNumber: 3},
		{QuestionNumber: 9, Answer: OptionB},
		{QuestionNumber: 10, Answer: OptionD},
	}
	match := MatchAnswers([]int{1, 2, 3}, entries)

	if e, _ := match.Lookup(1); e.Answer != OptionA {
		t.Errorf("duplicate did not keep the first entry: %+v", e)
	}
	if _, ok := match.Lookup(2); ok {
		t.Error("Lookup(2) found an entry")
	}
	if match.Unmatched != 2 {
		t.Errorf("Unmatched = %d, want 2", match.Unmatched)
	}

	for _, q := range []int{1, 2, 3, 9, 10} {
		if len(warningsFor(match.Warnings, q)) != 1 {
			t.Errorf("question %d warnings = %+v, want exactly one", q, warningsFor(match.Warnings, q))
		}
	}
	summary := warningsFor(match.Warnings, 0)
	if len(summary) != 1 || !strings.Contains(summary[0].Message, "4 entries") {
		t.Errorf("count warning = %+v", summary)
	}
	for _, w := range match.Warnings {
		if w.Kind != WarningAnswerKeyMismatch {
			t.Errorf("warning kind = %s", w.Kind)
		}
	}
}

func TestMatchAnswersEmptyKey(t *testing.T) {
	match := MatchAnswers([]int{1, 2}, nil)
	if len(match.Warnings) != 3 {
		t.Fatalf("warnings = %+v, want 2 missing + 1 count", match.Warnings)
	}
}
