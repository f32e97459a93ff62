package main

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"kidvoice/internal/config"
	"kidvoice/internal/estimator"
	"kidvoice/internal/inference"
	"kidvoice/internal/models"
	"kidvoice/internal/nudge"
	"kidvoice/internal/policy"
	"kidvoice/internal/safety"
	"kidvoice/internal/service"
	"kidvoice/internal/stream"
)

// newCompleter picks the inference backend. The second result is false when
// inference is disabled, in which case no slow-path reviewer is attached.
func newCompleter(ctx context.Context, c *config.Config) (inference.Completer, bool, error) {
	switch {
	case c.GeminiAPIKey != "":
		completer, err := inference.NewGeminiCompleter(ctx, c.GeminiAPIKey, c.GeminiModel)
		if err != nil {
			return nil, false, err
		}
		return completer, true, nil
	case c.InferenceURL != "":
		return inference.NewHTTPCompleter(c.InferenceURL, c.InferenceTimeout), true, nil
	default:
		return inference.Disabled{}, false, nil
	}
}

func estimatorSettings(c *config.Config) estimator.Settings {
	s := estimator.DefaultSettings()
	p := c.Policy
	s.Timeout = c.InferenceTimeout
	if p.SilenceBaseline > 0 {
		s.SilenceBaseline = p.SilenceBaseline
	}
	s.AdaptiveSilence = p.AdaptiveSilence
	for name, d := range p.SilenceThresholds {
		state := models.EmotionalState(strings.ToLower(strings.TrimSpace(name)))
		if _, known := s.SilenceThresholds[state]; known && d > 0 {
			s.SilenceThresholds[state] = d
		}
	}
	return s
}

func policySettings(p config.Policy) policy.Settings {
	s := policy.DefaultSettings()
	if p.ConfidenceThreshold > 0 {
		s.ConfidenceThreshold = p.ConfidenceThreshold
	}
	if p.StruggleIndicatorLimit > 0 {
		s.StruggleIndicatorLimit = p.StruggleIndicatorLimit
	}
	if p.MaxInterventions > 0 {
		s.Limits.MaxInterventions = p.MaxInterventions
	}
	if p.InterventionWindow > 0 {
		s.Limits.Window = p.InterventionWindow
	}
	if p.MinSpacing > 0 {
		s.Limits.MinSpacing = p.MinSpacing
	}
	if p.EngagementCeiling > 0 {
		s.Limits.EngagementCeiling = p.EngagementCeiling
	}
	if p.DelayFloor > 0 {
		s.Floor = p.DelayFloor
	}
	if p.DelayCeiling > 0 {
		s.Ceiling = p.DelayCeiling
	}
	if p.DelayJitter > 0 {
		s.Jitter = p.DelayJitter
	}
	return s
}

func wordBudget(p config.Policy) int {
	if p.WordBudget > 0 {
		return p.WordBudget
	}
	return nudge.DefaultWordBudget
}

// newGate builds the safety gate. Blocked terms join the unsafe-topic
// category; a reviewer is attached only when inference is configured.
func newGate(c *config.Config, completer inference.Completer, review bool, blocked []string, l *zap.Logger) *safety.Gate {
	opts := []safety.Option{
		safety.WithBlockedTerms(blocked),
		safety.WithFallbackPhrases(c.Policy.FallbackPhrases),
		safety.WithWordLimit(wordBudget(c.Policy)),
		safety.WithLogger(l),
	}
	if review {
		opts = append(opts, safety.WithReviewer(completer, c.SafetyTimeout))
	}
	return safety.NewGate(opts...)
}

func newPipeline(c *config.Config, completer inference.Completer, gate *safety.Gate, l *zap.Logger) service.Pipeline {
	budget := wordBudget(c.Policy)
	return service.Pipeline{
		Estimator: estimator.New(completer, estimatorSettings(c), l),
		Policy:    policy.New(policySettings(c.Policy), nil),
		Generator: nudge.NewGenerator(completer, nudge.NewBank(c.Policy.PhraseBanks, budget, nil), c.GenerationTimeout, budget, l),
		Gate:      gate,
		Streamer:  stream.New(stream.WithLogger(l)),
	}
}

// newEmailService returns a disabled service unless both the SES region and
// sender are configured
func newEmailService(ctx context.Context) (*service.EmailService, error) {
	if !cfg.EmailEnabled() {
		return service.NewEmailService(ctx, "", "", "", log)
	}
	return service.NewEmailService(ctx, cfg.SESRegion, cfg.SESFromEmail, cfg.SESFromName, log)
}

// evictionInterval is how often idle sessions are checked
func evictionInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
