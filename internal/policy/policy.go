// Package policy decides whether the voice speaks, stays quiet or encourages,
// and when.
package policy

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"kidvoice/internal/estimator"
	"kidvoice/internal/models"
)

// Gate names the rule that produced a decision
type Gate string

const (
	GateConfidence Gate = "confidence"
	GateRateLimit  Gate = "rate_limit"
	GateEmotional  Gate = "emotional_priority"
	GateStruggle   Gate = "struggle_volume"
	GateDefault    Gate = "default"
)

// Decision is computed once per utterance and consumed immediately.
// Reasoning is internal-only.
type Decision struct {
	Action    Action
	Delay     time.Duration
	Reasoning string
	Gate      Gate
}

// DecisionContext carries what the policy needs beyond the reasoning result
type DecisionContext struct {
	Now           time.Time
	Interventions []time.Time // when the voice spoke earlier in the session
}

// Settings tunes the policy
type Settings struct {
	ConfidenceThreshold    float64
	StruggleIndicatorLimit int
	StruggleDelay          time.Duration
	DefaultDelay           time.Duration
	StateDelays            map[models.EmotionalState]time.Duration
	Jitter                 time.Duration
	Floor                  time.Duration
	Ceiling                time.Duration
	Limits                 LimiterSettings
}

// DefaultSettings returns the compiled defaults
func DefaultSettings() Settings {
	return Settings{
		ConfidenceThreshold:    0.7,
		StruggleIndicatorLimit: 2,
		StruggleDelay:          5 * time.Second,
		DefaultDelay:           5 * time.Second,
		StateDelays: map[models.EmotionalState]time.Duration{
			models.EmotionConfused:   3 * time.Second,
			models.EmotionFrustrated: 2 * time.Second,
			models.EmotionConfident:  8 * time.Second,
		},
		Jitter:  time.Second,
		Floor:   2 * time.Second,
		Ceiling: 10 * time.Second,
		Limits:  DefaultLimiterSettings(),
	}
}

// Policy is safe for concurrent use
type Policy struct {
	settings Settings
	limiter  *Limiter

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a policy. A nil rng is seeded from the clock.
func New(settings Settings, rng *rand.Rand) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Policy{
		settings: settings,
		limiter:  NewLimiter(settings.Limits),
		rng:      rng,
	}
}

// Limiter returns the policy's rate limiter
func (p *Policy) Limiter() *Limiter {
	return p.limiter
}

// Decide applies the gates in order: confidence, rate limit, emotional
// priority, struggle volume, default
func (p *Policy) Decide(r estimator.ReasoningResult, state models.ChildState, dc DecisionContext) Decision {
	if !r.ShouldIntervene || r.Confidence < p.settings.ConfidenceThreshold {
		return Decision{
			Action:    ActionObserve,
			Reasoning: fmt.Sprintf("observe: intervene=%t confidence=%.2f threshold=%.2f", r.ShouldIntervene, r.Confidence, p.settings.ConfidenceThreshold),
			Gate:      GateConfidence,
		}
	}

	if ok, why := p.limiter.Allow(dc.Interventions, dc.Now, state.Engagement); !ok {
		return Decision{
			Action:    ActionObserve,
			Reasoning: "rate limited: " + why,
			Gate:      GateRateLimit,
		}
	}

	if r.EmotionalState == models.EmotionFrustrated {
		return Decision{
			Action:    ActionEncourage,
			Delay:     p.ComputeDelay(models.EmotionFrustrated),
			Reasoning: "frustrated child gets quick encouragement: " + r.Reason,
			Gate:      GateEmotional,
		}
	}

	if n := len(r.StruggleIndicators); n > p.settings.StruggleIndicatorLimit {
		return Decision{
			Action:    ActionSpeak,
			Delay:     p.delay(p.settings.StruggleDelay),
			Reasoning: fmt.Sprintf("%d struggle indicators, allowing processing time: %s", n, r.Reason),
			Gate:      GateStruggle,
		}
	}

	return Decision{
		Action:    ActionSpeak,
		Delay:     p.ComputeDelay(r.EmotionalState),
		Reasoning: r.Reason,
		Gate:      GateDefault,
	}
}

// ComputeDelay returns the jittered, clamped delay for an emotional state
func (p *Policy) ComputeDelay(state models.EmotionalState) time.Duration {
	base, ok := p.settings.StateDelays[state]
	if !ok {
		base = p.settings.DefaultDelay
	}
	return p.delay(base)
}

func (p *Policy) delay(base time.Duration) time.Duration {
	p.mu.Lock()
	d := Jitter(base, p.settings.Jitter, p.rng)
	p.mu.Unlock()
	return Clamp(d, p.settings.Floor, p.settings.Ceiling)
}
