package paperparser

import (
	"fmt"
	"strings"
)

// BuildRecords assembles the final records in block order. Every block yields a record. A
// record with any issue is flagged with IsValid=false and an invalid_question warning, so
// every question that needs manual correction shows up in the warnings and the summary.
func BuildRecords(blocks []NormalizedBlock, match AnswerMatch) ([]QuestionRecord, []Warning) {
	records := make([]QuestionRecord, 0, len(blocks))
	var warnings []Warning

	for _, b := range blocks {
		rec := QuestionRecord{
			QuestionNumber: b.QuestionNumber,
			QuestionText:   joinText(b.Body),
			Options:        make(map[OptionKey]string, len(OptionKeys)),
		}
		for _, key := range OptionKeys {
			rec.Options[key] = joinText(b.Options[key])
		}

		entry, inKey := match.Lookup(b.QuestionNumber)
		switch {
		case inKey && entry.Answer != "":
			answer := entry.Answer
			rec.CorrectAnswer = &answer
			rec.AnswerSource = AnswerSourceKey
			if b.InlineAnswer != nil && *b.InlineAnswer != entry.Answer {
				warnings = append(warnings, Warning{
					Kind:           WarningAnswerKeyMismatch,
					QuestionNumber: b.QuestionNumber,
					Message:        fmt.Sprintf("answer key says %s but the paper marks %s; using the key", entry.Answer, *b.InlineAnswer),
				})
			}
		case b.InlineAnswer != nil:
			answer := *b.InlineAnswer
			rec.CorrectAnswer = &answer
			rec.AnswerSource = AnswerSourceInline
		}

		rec.Explanation = entry.Explanation
		if rec.Explanation == "" {
			rec.Explanation = joinText(b.Explanation)
		}

		rec.Issues = recordIssues(rec)
		rec.IsValid = len(rec.Issues) == 0
		if !rec.IsValid {
			warnings = append(warnings, Warning{
				Kind:           WarningInvalidQuestion,
				QuestionNumber: rec.QuestionNumber,
				Message:        fmt.Sprintf("question %d needs review: %s", rec.QuestionNumber, strings.Join(rec.Issues, "; ")),
			})
		}

		records = append(records, rec)
	}

	return records, warnings
}

func recordIssues(rec QuestionRecord) []string {
	var issues []string

	if rec.QuestionText == "" {
		issues = append(issues, "empty question text")
	}
	if n := rec.UsableOptionCount(); n < 2 {
		issues = append(issues, fmt.Sprintf("only %d usable options", n))
	}

	seen := make(map[string]OptionKey, len(OptionKeys))
	for _, key := range OptionKeys {
		text := strings.ToLower(rec.Options[key])
		if text == "" {
			continue
		}
		if first, ok := seen[text]; ok {
			issues = append(issues, fmt.Sprintf("options %s and %s have the same text", first, key))
			continue
		}
		seen[text] = key
	}

	if rec.CorrectAnswer != nil && rec.Options[*rec.CorrectAnswer] == "" {
		issues = append(issues, fmt.Sprintf("correct answer %s has no option text", *rec.CorrectAnswer))
	}

	return issues
}

func joinText(parts []string) string {
	return collapseSpaces(strings.Join(parts, " "))
}
