package estimator

import (
	"strings"

	"kidvoice/internal/models"
)

// Rehydrate rebuilds a ChildState from a persisted snapshot and the
// session's recent history. The snapshot wins for counters and scores; the
// history refreshes the utterance window and the last-speech time.
func Rehydrate(snapshot *models.ChildState, level models.VocabularyLevel, history []models.Utterance) models.ChildState {
	var state models.ChildState
	if snapshot != nil {
		state = snapshot.Normalize()
	} else {
		state = models.NewChildState(level)
	}

	var recent []string
	for _, u := range history {
		if u.Speaker != models.SpeakerChild {
			continue
		}
		if text := strings.TrimSpace(u.Text); text != "" {
			recent = append(recent, text)
		}
		if u.SpokenAt.After(state.LastSpeechAt) {
			state.LastSpeechAt = u.SpokenAt
		}
	}
	if len(recent) > 0 {
		if n := len(recent); n > models.RecentUtteranceCap {
			recent = recent[n-models.RecentUtteranceCap:]
		}
		state.RecentUtterances = recent
	}

	return state
}

// PriorStruggles collects the struggle indicators recorded on earlier child
// utterances, most recent last, without duplicates
func PriorStruggles(history []models.Utterance) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range history {
		if u.Speaker != models.SpeakerChild {
			continue
		}
		for _, s := range u.Metadata.Struggle {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
