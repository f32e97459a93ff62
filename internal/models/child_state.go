package models

import (
	"strings"
	"time"
)

const (
	// RecentUtteranceCap bounds the sliding window of recent child utterances
	RecentUtteranceCap = 10
	// VocabularyCap bounds the rolling window of unique vocabulary terms
	VocabularyCap = 50

	EngagementMin     = 0
	EngagementMax     = 100
	EngagementInitial = 50
)

// EmotionalState is the inferred emotional tag of a child
type EmotionalState string

const (
	EmotionEngaged    EmotionalState = "engaged"
	EmotionConfused   EmotionalState = "confused"
	EmotionFrustrated EmotionalState = "frustrated"
	EmotionExcited    EmotionalState = "excited"
	EmotionConfident  EmotionalState = "confident"
)

// toneSynonyms maps loosely phrased tones onto the fixed tag set
var toneSynonyms = map[string]EmotionalState{
	"engaged":    EmotionEngaged,
	"curious":    EmotionEngaged,
	"interested": EmotionEngaged,
	"neutral":    EmotionEngaged,
	"calm":       EmotionEngaged,
	"confused":   EmotionConfused,
	"uncertain":  EmotionConfused,
	"unsure":     EmotionConfused,
	"puzzled":    EmotionConfused,
	"frustrated": EmotionFrustrated,
	"upset":      EmotionFrustrated,
	"annoyed":    EmotionFrustrated,
	"angry":      EmotionFrustrated,
	"sad":        EmotionFrustrated,
	"excited":    EmotionExcited,
	"happy":      EmotionExcited,
	"joyful":     EmotionExcited,
	"confident":  EmotionConfident,
	"proud":      EmotionConfident,
	"sure":       EmotionConfident,
}

// ParseEmotionalState maps a free-form tone to a tag. Anything unrecognised
// becomes EmotionEngaged.
func ParseEmotionalState(tone string) EmotionalState {
	if state, ok := toneSynonyms[strings.ToLower(strings.TrimSpace(tone))]; ok {
		return state
	}
	return EmotionEngaged
}

// ChildState is the per-session pedagogical and emotional snapshot. It is a
// value object: every step receives a copy and returns a new one.
type ChildState struct {
	VocabularyLevel  VocabularyLevel `json:"vocabulary_level"`
	RecentUtterances []string        `json:"recent_utterances"`
	Vocabulary       []string        `json:"vocabulary"`
	HesitationCount  int             `json:"hesitation_count"`
	Engagement       int             `json:"engagement"`
	LastSpeechAt     time.Time       `json:"last_speech_at"`
	EmotionalState   EmotionalState  `json:"emotional_state"`
}

// NewChildState returns the starting state for a fresh session
func NewChildState(level VocabularyLevel) ChildState {
	return ChildState{
		VocabularyLevel: level,
		Engagement:      EngagementInitial,
		EmotionalState:  EmotionEngaged,
	}
}

// Clone returns a deep copy so callers never share slices
func (s ChildState) Clone() ChildState {
	out := s
	out.RecentUtterances = append([]string(nil), s.RecentUtterances...)
	out.Vocabulary = append([]string(nil), s.Vocabulary...)
	return out
}

// Normalize enforces the state invariants after decoding or mutation
func (s ChildState) Normalize() ChildState {
	out := s.Clone()
	out.Engagement = ClampEngagement(out.Engagement)
	out.EmotionalState = ParseEmotionalState(string(out.EmotionalState))
	if out.HesitationCount < 0 {
		out.HesitationCount = 0
	}
	if n := len(out.RecentUtterances); n > RecentUtteranceCap {
		out.RecentUtterances = out.RecentUtterances[n-RecentUtteranceCap:]
	}
	if n := len(out.Vocabulary); n > VocabularyCap {
		out.Vocabulary = out.Vocabulary[n-VocabularyCap:]
	}
	return out
}

// ResetHesitation returns a copy with the hesitation counter cleared
func (s ChildState) ResetHesitation() ChildState {
	out := s.Clone()
	out.HesitationCount = 0
	return out
}

// SilenceAt returns how long the child had been quiet at t. A state with no
// recorded speech reports zero.
func (s ChildState) SilenceAt(t time.Time) time.Duration {
	if s.LastSpeechAt.IsZero() || t.Before(s.LastSpeechAt) {
		return 0
	}
	return t.Sub(s.LastSpeechAt)
}

// ClampEngagement bounds an engagement score to [0,100]
func ClampEngagement(v int) int {
	if v < EngagementMin {
		return EngagementMin
	}
	if v > EngagementMax {
		return EngagementMax
	}
	return v
}
