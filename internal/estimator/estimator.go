// Package estimator turns a child utterance into a ReasoningResult and folds
// results back into the ChildState value object.
package estimator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"kidvoice/internal/inference"
	"kidvoice/internal/logger"
	"kidvoice/internal/models"
)

// ReasonProlongedSilence is the reason attached by the silence override
const ReasonProlongedSilence = "prolonged_silence"

// ReasoningResult is produced fresh for every utterance. Everything in it is
// internal and must never reach the child channel.
type ReasoningResult struct {
	Utterance string
	SpokenAt  time.Time

	NewVocabulary      []string
	PositiveIndicators []string
	StruggleIndicators []string
	VocabularyGaps     []string
	HesitationDetected bool
	Tone               string

	// ComplexityKnown is false when the inference step gave no usable level
	ComplexityLevel models.VocabularyLevel
	ComplexityKnown bool

	ShouldIntervene bool
	Reason          string
	Confidence      float64 // [0,1]
	EmotionalState  models.EmotionalState

	Silence  time.Duration
	Override bool // the silence rule forced an intervention
	Degraded bool // the inference step failed and this is the safe default
}

// SessionContext is what Analyze knows beyond the ChildState
type SessionContext struct {
	Now            time.Time
	Age            int
	PriorStruggles []string // struggle indicators seen earlier in the session
}

// Settings tunes the estimator
type Settings struct {
	SilenceBaseline   time.Duration
	AdaptiveSilence   bool
	SilenceThresholds map[models.EmotionalState]time.Duration
	Timeout           time.Duration
}

// DefaultSettings returns the compiled defaults
func DefaultSettings() Settings {
	return Settings{
		SilenceBaseline: 8 * time.Second,
		SilenceThresholds: map[models.EmotionalState]time.Duration{
			models.EmotionEngaged:    12 * time.Second,
			models.EmotionConfused:   8 * time.Second,
			models.EmotionFrustrated: 5 * time.Second,
			models.EmotionExcited:    15 * time.Second,
			models.EmotionConfident:  8 * time.Second,
		},
		Timeout: 4 * time.Second,
	}
}

// Estimator is safe for concurrent use; it holds no per-session state
type Estimator struct {
	completer inference.Completer
	settings  Settings
	logger    *zap.Logger
}

// New creates an estimator backed by c
func New(c inference.Completer, settings Settings, l *zap.Logger) *Estimator {
	if c == nil {
		c = inference.Disabled{}
	}
	if settings.SilenceBaseline <= 0 {
		settings.SilenceBaseline = DefaultSettings().SilenceBaseline
	}
	return &Estimator{
		completer: c,
		settings:  settings,
		logger:    logger.OrNop(l).Named("estimator"),
	}
}

// SilenceThreshold returns how long a child in the given state may stay
// quiet before the override fires
func (e *Estimator) SilenceThreshold(state models.EmotionalState) time.Duration {
	if e.settings.AdaptiveSilence {
		if d, ok := e.settings.SilenceThresholds[state]; ok && d > 0 {
			return d
		}
	}
	return e.settings.SilenceBaseline
}

// SafeDefault is returned whenever inference cannot produce a result
func SafeDefault(utterance string, spokenAt time.Time) ReasoningResult {
	return ReasoningResult{
		Utterance:       utterance,
		SpokenAt:        spokenAt,
		ShouldIntervene: false,
		Reason:          "inference_unavailable",
		Confidence:      0,
		EmotionalState:  models.EmotionEngaged,
		Degraded:        true,
	}
}

// Analyze classifies one utterance. It never returns an error: dependency
// failures produce SafeDefault.
func (e *Estimator) Analyze(ctx context.Context, utterance string, state models.ChildState, session SessionContext) ReasoningResult {
	now := session.Now
	if now.IsZero() {
		now = time.Now()
	}
	silence := state.SilenceAt(now)

	raw, err := inference.CompleteWithTimeout(ctx, e.completer, e.settings.Timeout, inference.Prompt{
		Task:        inference.TaskAnalyze,
		System:      analyzeSystemPrompt,
		User:        buildContextSummary(utterance, state, session, silence),
		JSON:        true,
		Temperature: 0.2,
	})
	if err != nil {
		e.logger.Warn("analysis unavailable, using safe default", zap.Error(err))
		return withSilence(SafeDefault(utterance, now), silence)
	}

	result, err := parseAnalysis(raw)
	if err != nil {
		e.logger.Warn("analysis malformed, using safe default", zap.Error(err))
		return withSilence(SafeDefault(utterance, now), silence)
	}
	result.Utterance = utterance
	result.SpokenAt = now
	result.Silence = silence

	// The threshold follows the mood the child was in before this utterance
	if threshold := e.SilenceThreshold(state.EmotionalState); silence > threshold {
		result.ShouldIntervene = true
		result.Reason = ReasonProlongedSilence
		result.Confidence = 1
		result.Override = true
	}

	e.logger.Debug("analysis",
		zap.Bool("should_intervene", result.ShouldIntervene),
		zap.String("reason", result.Reason),
		zap.Float64("confidence", result.Confidence),
		zap.String("emotional_state", string(result.EmotionalState)),
		zap.Duration("silence", silence),
	)
	return result
}

func withSilence(r ReasoningResult, silence time.Duration) ReasoningResult {
	r.Silence = silence
	return r
}

func buildContextSummary(utterance string, state models.ChildState, session SessionContext, silence time.Duration) string {
	var b strings.Builder
	if session.Age > 0 {
		fmt.Fprintf(&b, "Child age: %d\n", session.Age)
	}
	fmt.Fprintf(&b, "Vocabulary level: %s\n", state.VocabularyLevel)
	vocab := state.Vocabulary
	if len(vocab) > 10 {
		vocab = vocab[len(vocab)-10:]
	}
	fmt.Fprintf(&b, "Recent vocabulary: %s\n", strings.Join(vocab, ", "))
	fmt.Fprintf(&b, "Hesitations this session: %d\n", state.HesitationCount)
	fmt.Fprintf(&b, "Engagement (0-100): %d\n", state.Engagement)
	fmt.Fprintf(&b, "Current mood: %s\n", state.EmotionalState)
	fmt.Fprintf(&b, "Seconds of silence before speaking: %.0f\n", silence.Seconds())
	if len(session.PriorStruggles) > 0 {
		fmt.Fprintf(&b, "Earlier struggle signs: %s\n", strings.Join(session.PriorStruggles, ", "))
	}
	if len(state.RecentUtterances) > 0 {
		b.WriteString("Recent things the child said:\n")
		for _, u := range state.RecentUtterances {
			fmt.Fprintf(&b, "- %q\n", u)
		}
	}
	fmt.Fprintf(&b, "Latest utterance: %q\n", utterance)
	return b.String()
}
