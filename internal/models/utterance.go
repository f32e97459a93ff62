package models

import "time"

// Speaker identifies who authored an utterance
type Speaker string

const (
	SpeakerChild   Speaker = "child"
	SpeakerAIVoice Speaker = "ai_voice"
)

// Utterance is one persisted turn of text. Metadata is internal-only and is
// never forwarded to the child-facing channel.
type Utterance struct {
	ID        int64
	SessionID string
	Speaker   Speaker
	Text      string
	SpokenAt  time.Time
	Metadata  UtteranceMetadata
}

// UtteranceMetadata carries the internal analysis attached to an utterance
type UtteranceMetadata struct {
	TurnID         string   `json:"turn_id,omitempty"`
	Action         string   `json:"action,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	DelayMs        int64    `json:"delay_ms,omitempty"`
	EmotionalState string   `json:"emotional_state,omitempty"`
	Situation      string   `json:"situation,omitempty"`
	Struggle       []string `json:"struggle_indicators,omitempty"`
	Source         string   `json:"source,omitempty"`
	Violations     []string `json:"violations,omitempty"`
	AudioFile      string   `json:"audio_file,omitempty"`
}

// DecisionRecord is an internal log row for parent and operator review
type DecisionRecord struct {
	ID             int64
	SessionID      string
	UtteranceID    int64
	Action         string
	Reason         string
	Confidence     float64
	EmotionalState string
	DelayMs        int64
	CreatedAt      time.Time
}
