package models

import "strings"

// VocabularyLevel is an ordinal estimate of a child's working vocabulary
type VocabularyLevel int

const (
	VocabularyBeginner VocabularyLevel = iota
	VocabularyIntermediate
	VocabularyAdvanced
)

// String returns the stored representation of the level
func (l VocabularyLevel) String() string {
	switch l {
	case VocabularyIntermediate:
		return "intermediate"
	case VocabularyAdvanced:
		return "advanced"
	default:
		return "beginner"
	}
}

// ParseVocabularyLevel converts a stored or inferred level name. Unknown names report false.
func ParseVocabularyLevel(s string) (VocabularyLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "beginner", "simple", "basic":
		return VocabularyBeginner, true
	case "intermediate", "moderate":
		return VocabularyIntermediate, true
	case "advanced", "complex":
		return VocabularyAdvanced, true
	}
	return VocabularyBeginner, false
}

// StepToward moves the level at most one step toward target
func (l VocabularyLevel) StepToward(target VocabularyLevel) VocabularyLevel {
	switch {
	case target > l:
		return l + 1
	case target < l:
		return l - 1
	}
	return l
}

// Child represents a child profile as seen by the voice pipeline
type Child struct {
	ID              string
	Name            string
	Age             int
	ParentEmail     string
	AIVoiceEnabled  bool
	VocabularyLevel VocabularyLevel
}
