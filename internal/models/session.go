package models

import "time"

// Session represents one live learning session for a child
type Session struct {
	ID        string
	ChildID   string
	StartedAt time.Time
	EndedAt   *time.Time
	State     *ChildState
	Summary   *SessionSummary
}

// IsEnded reports whether the session has been closed
func (s *Session) IsEnded() bool {
	return s.EndedAt != nil
}

// SessionSummary is the fixed-shape reflective summary shown to parents
type SessionSummary struct {
	Topics               []string  `json:"topics"`
	VocabularyHighlights []string  `json:"vocabulary_highlights"`
	ThinkingQuestion     string    `json:"thinking_question"`
	ParentNotes          string    `json:"parent_notes"`
	Source               string    `json:"source"`
	GeneratedAt          time.Time `json:"generated_at"`
}
