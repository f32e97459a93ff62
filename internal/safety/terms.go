package safety

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category groups forbidden terms
type Category string

const (
	CategoryInternalProcess Category = "internal_process"
	CategoryNegativeFraming Category = "negative_framing"
	CategoryPrivateInfo     Category = "private_info"
	CategoryUnsafeTopic     Category = "unsafe_topic"

	// Slow-path outcomes
	CategoryContextual        Category = "contextual"
	CategoryReviewUnavailable Category = "review_unavailable"
)

// Terms that would expose how the system watches the child
var internalProcessTerms = []string{
	"algorithm", "analysis", "analyze", "analyzing", "artificial intelligence",
	"confidence score", "confidence level", "engagement score", "hesitation",
	"hesitating", "intervention", "intervene", "language model", "ai model",
	"metadata", "monitoring", "tracking", "prompt", "reasoning", "threshold",
	"struggle indicator", "emotional state", "detected", "my programming",
}

// Terms that frame the child's effort negatively
var negativeFramingTerms = []string{
	"struggling", "struggle", "struggles", "wrong", "mistake", "mistakes",
	"failed", "fail", "failure", "failing", "incorrect", "bad at", "stupid",
	"dumb", "lazy", "difficult for you", "too hard", "confused", "slow",
	"not smart", "give up", "disappointed",
}

// Terms that ask for or reveal personal information
var privateInfoTerms = []string{
	"password", "home address", "your address", "where do you live",
	"phone number", "last name", "full name", "your school", "credit card",
	"email address", "birthday", "social security", "where are your parents",
	"are you alone", "secret",
}

// Topics never appropriate for a young child
var unsafeTopicTerms = []string{
	"kill", "killing", "die", "dying", "dead", "death", "blood", "gun", "guns",
	"weapon", "weapons", "knife", "drugs", "alcohol", "beer", "wine", "cigarette",
	"smoking", "sex", "sexy", "naked", "violence", "violent", "murder", "suicide",
	"hate", "terrorist", "bomb",
}

// substitutions is the fixed term-substitution table of the sanitizer.
// Anything not listed passes through unchanged.
var substitutions = map[string]string{
	"struggling":   "learning",
	"struggle":     "challenge",
	"struggles":    "challenges",
	"wrong":        "let's try another way",
	"mistake":      "practice",
	"mistakes":     "practice",
	"failed":       "tried",
	"fail":         "try again",
	"failure":      "practice",
	"failing":      "trying",
	"incorrect":    "not quite",
	"bad at":       "learning",
	"too hard":     "a fun challenge",
	"confused":     "curious",
	"slow":         "careful",
	"give up":      "take a break",
	"disappointed": "excited to keep going",
	"analysis":     "thinking",
	"analyze":      "think about",
	"analyzing":    "thinking about",
	"hesitation":   "thinking time",
	"hesitating":   "thinking",
	"intervention": "idea",
	"detected":     "noticed",
}

// matcher is a case-insensitive whole-word matcher over a term list
type matcher struct {
	category Category
	re       *regexp.Regexp
}

func newMatcher(category Category, terms []string) *matcher {
	re := compileTerms(terms)
	if re == nil {
		return nil
	}
	return &matcher{category: category, re: re}
}

// compileTerms builds one alternation, longest terms first so multi-word
// terms win over their prefixes. A term must be bounded by text edges or
// by runes that are not letters, digits or underscores; \b is not used
// because it only knows ASCII.
func compileTerms(terms []string) *regexp.Regexp {
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		quoted = append(quoted, regexp.QuoteMeta(term))
	}
	if len(quoted) == 0 {
		return nil
	}
	sort.Slice(quoted, func(i, j int) bool {
		if len(quoted[i]) != len(quoted[j]) {
			return len(quoted[i]) > len(quoted[j])
		}
		return quoted[i] < quoted[j]
	})
	return regexp.MustCompile(`(?i)(?:^|[^\pL\pN_])(` + strings.Join(quoted, "|") + `)(?:[^\pL\pN_]|$)`)
}

// termSpans returns the byte ranges of every whole-term match. The guard
// rune after one match may serve as the guard before the next, so the scan
// resumes at the end of the term rather than the end of the match.
func termSpans(re *regexp.Regexp, text string) [][2]int {
	var spans [][2]int
	for pos := 0; pos < len(text); {
		loc := re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[2], pos+loc[3]
		spans = append(spans, [2]int{start, end})
		if end <= pos {
			break
		}
		pos = end
	}
	return spans
}

func (m *matcher) find(text string) []Violation {
	var out []Violation
	for _, span := range termSpans(m.re, text) {
		out = append(out, Violation{Category: m.category, Term: strings.ToLower(text[span[0]:span[1]])})
	}
	return out
}

var substitutionRe = func() *regexp.Regexp {
	terms := make([]string, 0, len(substitutions))
	for term := range substitutions {
		terms = append(terms, term)
	}
	return compileTerms(terms)
}()

// Sanitize replaces every term from the substitution table, keeping the
// capitalization of the first letter. Unlisted terms are left alone.
func Sanitize(text string) string {
	spans := termSpans(substitutionRe, text)
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, span := range spans {
		match := text[span[0]:span[1]]
		replacement, ok := substitutions[strings.ToLower(match)]
		if !ok {
			continue
		}
		first, _ := utf8.DecodeRuneInString(match)
		if unicode.IsUpper(first) {
			r, size := utf8.DecodeRuneInString(replacement)
			replacement = string(unicode.ToUpper(r)) + replacement[size:]
		}
		b.WriteString(text[last:span[0]])
		b.WriteString(replacement)
		last = span[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
