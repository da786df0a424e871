package paperparser

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// scriptClass is the dominant script of a line.
type scriptClass int

const (
	scriptNeutral scriptClass = iota
	scriptLatin
	scriptDevanagari
	scriptMixed
)

// BilingualNormalizer removes the Hindi copy that bilingual papers print next to the
// English text of a question or option.
type BilingualNormalizer struct {
	cfg ScriptConfig
}

func NewBilingualNormalizer(cfg ScriptConfig) *BilingualNormalizer {
	return &BilingualNormalizer{cfg: cfg}
}

var (
	emptyBracketsRe = regexp.MustCompile(`\(\s*\)|\[\s*\]|\{\s*\}`)
	separatorRunRe  = regexp.MustCompile(`\s*([/|])(?:\s*[/|])+\s*`)
)

// separatorTrim lists characters left dangling at the edges once a Hindi run is cut out.
const separatorTrim = " \t/|-"

// NormalizeLines cleans one group of lines (a question body, one option or an explanation).
// When the group has English content, Devanagari-dominant lines are dropped and Devanagari
// runs are cut from the rest. A group without English passes through with only Unicode and
// whitespace normalisation. Empty lines are dropped in both cases. Applying it twice gives
// the same result as applying it once.
func (n *BilingualNormalizer) NormalizeLines(lines []string) []string {
	texts := make([]string, 0, len(lines))
	classes := make([]scriptClass, 0, len(lines))
	english := false

	for _, l := range lines {
		t := collapseSpaces(norm.NFC.String(l))
		if t == "" {
			continue
		}
		c := n.classify(t)
		if c == scriptLatin || c == scriptMixed {
			english = true
		}
		texts = append(texts, t)
		classes = append(classes, c)
	}

	if !english {
		return texts
	}

	out := make([]string, 0, len(texts))
	for i, t := range texts {
		if classes[i] == scriptDevanagari {
			continue
		}
		if stripped := stripDevanagari(t); stripped != t {
			t = cleanSeparators(stripped)
		}
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// NormalizeBlock applies NormalizeLines to each text group of a block.
func (n *BilingualNormalizer) NormalizeBlock(b RawQuestionBlock) NormalizedBlock {
	out := NormalizedBlock{
		QuestionNumber: b.QuestionNumber,
		Body:           n.NormalizeLines(lineTexts(b.BodyLines)),
		Options:        make(map[OptionKey][]string, len(b.OptionLines)),
		Explanation:    n.NormalizeLines(lineTexts(b.ExplanationLines)),
	}
	if b.InlineAnswer != nil {
		answer := *b.InlineAnswer
		out.InlineAnswer = &answer
	}
	for _, key := range OptionKeys {
		if lines, ok := b.OptionLines[key]; ok {
			out.Options[key] = n.NormalizeLines(lineTexts(lines))
		}
	}
	return out
}

func (n *BilingualNormalizer) classify(s string) scriptClass {
	var latin, deva int
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Devanagari, r):
			deva++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}

	total := latin + deva
	switch {
	case total == 0:
		return scriptNeutral
	case float64(deva)/float64(total) >= n.cfg.DominanceThreshold:
		return scriptDevanagari
	case float64(latin)/float64(total) >= n.cfg.DominanceThreshold:
		return scriptLatin
	default:
		return scriptMixed
	}
}

// stripDevanagari removes Devanagari letters and marks along with dandas.
func stripDevanagari(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Devanagari, r) || r == '।' || r == '॥' {
			return -1
		}
		return r
	}, s)
}

// cleanSeparators tidies a line that had Hindi runs removed: empty brackets, repeated
// "/" or "|" separators, and separators at either end.
func cleanSeparators(s string) string {
	for {
		prev := s
		s = norm.NFC.String(s)
		s = emptyBracketsRe.ReplaceAllString(s, "")
		s = separatorRunRe.ReplaceAllString(s, " $1 ")
		s = strings.Trim(collapseSpaces(s), separatorTrim)
		if s == prev {
			return s
		}
	}
}

func lineTexts(lines []Line) []string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return texts
}
