// Package safety decides whether text may reach a child. A deterministic
// fast path always runs; a contextual review runs only when the fast path
// finds nothing. Any failure of the review is treated as unsafe.
package safety

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kidvoice/internal/inference"
	"kidvoice/internal/logger"
	"kidvoice/internal/models"
)

// Layer identifies which layer produced a verdict
type Layer string

const (
	LayerFast Layer = "fast"
	LayerSlow Layer = "slow"
)

// Violation describes one reason a text was rejected
type Violation struct {
	Category Category
	Term     string
}

func (v Violation) String() string {
	if v.Term == "" {
		return string(v.Category)
	}
	return string(v.Category) + ":" + v.Term
}

// Verdict is the outcome of a safety check. Text is what may be spoken:
// the input when safe, otherwise a sanitized or fallback replacement.
type Verdict struct {
	Safe       bool
	Violations []Violation
	Text       string
	Layer      Layer
}

// ViolationStrings flattens violations for audit metadata
func (v Verdict) ViolationStrings() []string {
	if len(v.Violations) == 0 {
		return nil
	}
	out := make([]string, len(v.Violations))
	for i, violation := range v.Violations {
		out[i] = violation.String()
	}
	return out
}

// ChildContext is what the contextual review knows about the listener
type ChildContext struct {
	Age             int
	VocabularyLevel models.VocabularyLevel
	EmotionalState  models.EmotionalState
}

// DefaultFallbackPhrases are spoken when nothing else can be approved
var DefaultFallbackPhrases = []string{
	"Take your time. I'm right here with you.",
	"What do you think?",
	"I like how you're thinking!",
	"Tell me more about that!",
	"You're doing great. Keep going!",
}

// DefaultWordLimit caps how many words a reviewer's alternative may use
const DefaultWordLimit = 15

// Gate is safe for concurrent use
type Gate struct {
	matchers  []*matcher
	reviewer  inference.Completer
	timeout   time.Duration
	fallbacks []string
	wordLimit int
	logger    *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Gate
type Option func(*Gate)

// WithReviewer enables the contextual review through c, bounded by timeout
func WithReviewer(c inference.Completer, timeout time.Duration) Option {
	return func(g *Gate) {
		g.reviewer = c
		g.timeout = timeout
	}
}

// WithBlockedTerms adds terms to the unsafe-topic category
func WithBlockedTerms(terms []string) Option {
	return func(g *Gate) {
		if m := newMatcher(CategoryUnsafeTopic, terms); m != nil {
			g.matchers = append(g.matchers, m)
		}
	}
}

// WithFallbackPhrases replaces the fallback phrase list. Phrases that fail
// the fast check are dropped.
func WithFallbackPhrases(phrases []string) Option {
	return func(g *Gate) {
		if len(phrases) > 0 {
			g.fallbacks = phrases
		}
	}
}

// WithWordLimit caps the length of a reviewer's alternative
func WithWordLimit(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.wordLimit = n
		}
	}
}

// WithRand sets the source used to pick fallback phrases
func WithRand(rng *rand.Rand) Option {
	return func(g *Gate) { g.rng = rng }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a gate with the built-in term categories
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		matchers: []*matcher{
			newMatcher(CategoryInternalProcess, internalProcessTerms),
			newMatcher(CategoryNegativeFraming, negativeFramingTerms),
			newMatcher(CategoryPrivateInfo, privateInfoTerms),
			newMatcher(CategoryUnsafeTopic, unsafeTopicTerms),
		},
		fallbacks: DefaultFallbackPhrases,
		wordLimit: DefaultWordLimit,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logger.OrNop(g.logger).Named("safety")

	approved := g.fallbacks[:0:0]
	for _, phrase := range g.fallbacks {
		if len(g.match(phrase)) == 0 {
			approved = append(approved, phrase)
		}
	}
	if len(approved) == 0 {
		approved = DefaultFallbackPhrases
	}
	g.fallbacks = approved
	return g
}

func (g *Gate) match(text string) []Violation {
	var out []Violation
	for _, m := range g.matchers {
		out = append(out, m.find(text)...)
	}
	return out
}

// CheckFast runs only the deterministic layer. It never calls out and is
// safe on latency-critical paths.
func (g *Gate) CheckFast(text string) Verdict {
	violations := g.match(text)
	if len(violations) == 0 {
		return Verdict{Safe: true, Text: text, Layer: LayerFast}
	}

	replacement := Sanitize(text)
	if len(g.match(replacement)) > 0 {
		replacement = g.Fallback()
	}
	return Verdict{Safe: false, Violations: violations, Text: replacement, Layer: LayerFast}
}

// Evaluate runs the fast path and, only when it passes, the contextual review
func (g *Gate) Evaluate(ctx context.Context, text string, child ChildContext) Verdict {
	if strings.TrimSpace(text) == "" {
		return Verdict{Safe: false, Text: g.Fallback(), Layer: LayerFast}
	}

	fast := g.CheckFast(text)
	if !fast.Safe || g.reviewer == nil {
		return fast
	}

	review, err := g.review(ctx, text, child)
	if err != nil {
		g.logger.Warn("contextual review unavailable, using fallback phrase", zap.Error(err))
		return Verdict{
			Safe:       false,
			Violations: []Violation{{Category: CategoryReviewUnavailable}},
			Text:       g.Fallback(),
			Layer:      LayerSlow,
		}
	}
	if review.Safe {
		return Verdict{Safe: true, Text: text, Layer: LayerSlow}
	}

	violations := make([]Violation, 0, len(review.Concerns)+1)
	for _, concern := range review.Concerns {
		violations = append(violations, Violation{Category: CategoryContextual, Term: concern})
	}
	if len(violations) == 0 {
		violations = append(violations, Violation{Category: CategoryContextual})
	}

	replacement := strings.TrimSpace(review.Alternative)
	if replacement == "" || len(strings.Fields(replacement)) > g.wordLimit || len(g.match(replacement)) > 0 {
		replacement = g.Fallback()
	}
	return Verdict{Safe: false, Violations: violations, Text: replacement, Layer: LayerSlow}
}

// Fallback returns one of the fixed safe phrases, chosen uniformly
func (g *Gate) Fallback() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fallbacks[g.rng.Intn(len(g.fallbacks))]
}
