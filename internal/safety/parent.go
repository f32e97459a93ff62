package safety

import "regexp"

// RedactedText replaces any parent-facing text that contains personal data
const RedactedText = "[redacted: contained personal information]"

type sensitivePattern struct {
	kind string
	re   *regexp.Regexp
}

var sensitivePatterns = []sensitivePattern{
	{"payment_card", regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)},
	{"national_id", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"phone", regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\b\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)},
	{"credential", regexp.MustCompile(`(?i)\b(?:password|passcode|passwd|pin)\b\s*(?:is|:|=)\s*\S+`)},
}

// FilterResult is the outcome of the parent-facing filter
type FilterResult struct {
	Text     string
	Redacted bool
	Kinds    []string
}

// ParentFilter guards text shown to adults. It only looks for personal data
// and redacts the whole text on any hit.
type ParentFilter struct{}

// NewParentFilter creates a parent-facing filter
func NewParentFilter() *ParentFilter {
	return &ParentFilter{}
}

// Filter returns text unchanged, or RedactedText when it carries personal data
func (f *ParentFilter) Filter(text string) FilterResult {
	var kinds []string
	for _, p := range sensitivePatterns {
		if p.re.MatchString(text) {
			kinds = append(kinds, p.kind)
		}
	}
	if len(kinds) == 0 {
		return FilterResult{Text: text}
	}
	return FilterResult{Text: RedactedText, Redacted: true, Kinds: kinds}
}

// FilterAll filters each entry independently
func (f *ParentFilter) FilterAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = f.Filter(text).Text
	}
	return out
}
