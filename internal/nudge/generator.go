// Package nudge writes the short, warm sentences the voice says to a child.
package nudge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"kidvoice/internal/estimator"
	"kidvoice/internal/inference"
	"kidvoice/internal/logger"
	"kidvoice/internal/models"
	"kidvoice/internal/policy"
)

// DefaultWordBudget is the longest nudge, in words, that may be spoken
const DefaultWordBudget = 15

// Source records where a nudge's text came from
type Source string

const (
	SourceGenerated Source = "generated"
	SourceTemplate  Source = "template"
)

// Context describes the moment a nudge is written for
type Context struct {
	Situation       Situation
	Utterance       string
	Age             int
	VocabularyLevel models.VocabularyLevel
	EmotionalState  models.EmotionalState
	VocabularyGaps  []string
	Recent          []string
}

// Nudge is a candidate child-facing sentence. It has not been through the
// safety gate yet.
type Nudge struct {
	Text      string
	Situation Situation
	Source    Source
}

// SituationFor picks the situation a decision calls for
func SituationFor(action policy.Action, r estimator.ReasoningResult) Situation {
	switch {
	case action == policy.ActionEncourage:
		return SituationEncouragement
	case r.Override:
		return SituationSilence
	case r.EmotionalState == models.EmotionConfused || len(r.StruggleIndicators) > 0:
		return SituationConfusion
	case len(r.VocabularyGaps) > 0 || len(r.NewVocabulary) > 0:
		return SituationVocabulary
	}
	return SituationThinking
}

// Generator produces nudges through inference with the bank as fallback
type Generator struct {
	completer  inference.Completer
	bank       *Bank
	timeout    time.Duration
	wordBudget int
	logger     *zap.Logger
}

// NewGenerator creates a generator. A nil completer always uses the bank.
func NewGenerator(c inference.Completer, bank *Bank, timeout time.Duration, wordBudget int, l *zap.Logger) *Generator {
	if c == nil {
		c = inference.Disabled{}
	}
	if wordBudget <= 0 {
		wordBudget = DefaultWordBudget
	}
	if bank == nil {
		bank = NewBank(nil, wordBudget, nil)
	}
	return &Generator{
		completer:  c,
		bank:       bank,
		timeout:    timeout,
		wordBudget: wordBudget,
		logger:     logger.OrNop(l).Named("nudge"),
	}
}

// Generate returns a nudge for the context. It never fails: timeouts, empty
// answers and over-long answers all fall back to the bank.
func (g *Generator) Generate(ctx context.Context, c Context) Nudge {
	raw, err := inference.CompleteWithTimeout(ctx, g.completer, g.timeout, inference.Prompt{
		Task:        inference.TaskGenerate,
		System:      fmt.Sprintf(generateSystemPrompt, g.wordBudget),
		User:        buildPrompt(c),
		Temperature: 0.8,
	})
	if err != nil {
		g.logger.Debug("generation unavailable, using template", zap.Error(err))
		return g.template(c.Situation)
	}

	text := clean(raw)
	if text == "" {
		return g.template(c.Situation)
	}
	if n := WordCount(text); n > g.wordBudget {
		g.logger.Debug("generated nudge over budget, using template", zap.Int("words", n))
		return g.template(c.Situation)
	}

	return Nudge{Text: text, Situation: c.Situation, Source: SourceGenerated}
}

func (g *Generator) template(situation Situation) Nudge {
	return Nudge{Text: g.bank.Pick(situation), Situation: situation, Source: SourceTemplate}
}

const generateSystemPrompt = `You are a warm, patient voice helping a young child think out loud.
Write exactly one short, open-ended sentence of at most %d words. Never correct the child,
never mention mistakes, scores or how you decide what to say, and never ask for personal details.
Reply with the sentence only.`

var situationHints = map[Situation]string{
	SituationSilence:       "The child has gone quiet. Invite them back gently.",
	SituationConfusion:     "The child seems unsure. Offer a gentle way in, without giving the answer.",
	SituationEncouragement: "The child is frustrated. Offer calm encouragement.",
	SituationVocabulary:    "The child used or needs a new word. Invite them to explore it.",
	SituationThinking:      "Invite the child to think a little further.",
}

func buildPrompt(c Context) string {
	var b strings.Builder
	if c.Age > 0 {
		fmt.Fprintf(&b, "Child age: %d\n", c.Age)
	}
	fmt.Fprintf(&b, "Vocabulary level: %s\n", c.VocabularyLevel)
	fmt.Fprintf(&b, "Moment: %s\n", situationHints[c.Situation])
	if len(c.VocabularyGaps) > 0 {
		fmt.Fprintf(&b, "Words to explore: %s\n", strings.Join(c.VocabularyGaps, ", "))
	}
	for _, r := range c.Recent {
		fmt.Fprintf(&b, "Earlier the child said: %q\n", r)
	}
	fmt.Fprintf(&b, "The child just said: %q\n", c.Utterance)
	return b.String()
}

// clean keeps the first non-empty line and strips wrapping quotes
func clean(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, "\"'`“”")
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
