package estimator

import (
	"strings"

	"kidvoice/internal/models"
)

// Engagement deltas applied by Update
const (
	PositiveDelta   = 5
	StruggleDelta   = -3
	HesitationDelta = -2
)

// Update folds one ReasoningResult into a ChildState. It is a pure function
// of its inputs and never mutates state.
func Update(state models.ChildState, result ReasoningResult) models.ChildState {
	out := state.Clone()

	if text := strings.TrimSpace(result.Utterance); text != "" {
		out.RecentUtterances = append(out.RecentUtterances, text)
		if n := len(out.RecentUtterances); n > models.RecentUtteranceCap {
			out.RecentUtterances = out.RecentUtterances[n-models.RecentUtteranceCap:]
		}
	}

	for _, word := range result.NewVocabulary {
		out.Vocabulary = addVocabulary(out.Vocabulary, word)
	}

	engagement := out.Engagement
	if len(result.PositiveIndicators) > 0 {
		engagement += PositiveDelta
	}
	if len(result.StruggleIndicators) > 0 {
		engagement += StruggleDelta
	}
	if result.HesitationDetected {
		engagement += HesitationDelta
		out.HesitationCount++
	}
	out.Engagement = models.ClampEngagement(engagement)

	out.EmotionalState = models.ParseEmotionalState(string(result.EmotionalState))

	if result.ComplexityKnown {
		out.VocabularyLevel = out.VocabularyLevel.StepToward(result.ComplexityLevel)
	}
	if !result.SpokenAt.IsZero() {
		out.LastSpeechAt = result.SpokenAt
	}

	return out
}

// addVocabulary moves word to the most-recent end of the window, keeping
// at most VocabularyCap unique terms
func addVocabulary(vocab []string, word string) []string {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return vocab
	}
	for i, existing := range vocab {
		if existing == word {
			vocab = append(vocab[:i], vocab[i+1:]...)
			break
		}
	}
	vocab = append(vocab, word)
	if n := len(vocab); n > models.VocabularyCap {
		vocab = vocab[n-models.VocabularyCap:]
	}
	return vocab
}
