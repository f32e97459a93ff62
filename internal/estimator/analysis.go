package estimator

import (
	"fmt"
	"strings"

	"kidvoice/internal/inference"
	"kidvoice/internal/models"
)

const analyzeSystemPrompt = `You observe a young child talking during a learning session and decide whether a gentle
voice should speak. Reply with a JSON object only:
{"complexity_level": "beginner|intermediate|advanced",
 "hesitation_detected": true|false,
 "new_vocabulary": ["..."],
 "positive_indicators": ["..."],
 "struggle_indicators": ["..."],
 "vocabulary_gaps": ["..."],
 "emotional_tone": "engaged|confused|frustrated|excited|confident",
 "should_intervene": true|false,
 "intervention_reason": "...",
 "confidence": 0.0-1.0}
Prefer silence. Only recommend speaking when it would clearly help the child.`

type analysisPayload struct {
	ComplexityLevel    string   `json:"complexity_level"`
	HesitationDetected bool     `json:"hesitation_detected"`
	NewVocabulary      []string `json:"new_vocabulary"`
	PositiveIndicators []string `json:"positive_indicators"`
	StruggleIndicators []string `json:"struggle_indicators"`
	VocabularyGaps     []string `json:"vocabulary_gaps"`
	EmotionalTone      string   `json:"emotional_tone"`
	ShouldIntervene    *bool    `json:"should_intervene"`
	InterventionReason string   `json:"intervention_reason"`
	Confidence         *float64 `json:"confidence"`
}

func parseAnalysis(raw string) (ReasoningResult, error) {
	var p analysisPayload
	if err := inference.DecodeJSON(raw, &p); err != nil {
		return ReasoningResult{}, err
	}
	if p.ShouldIntervene == nil || p.Confidence == nil {
		return ReasoningResult{}, fmt.Errorf("analysis missing should_intervene or confidence")
	}

	result := ReasoningResult{
		NewVocabulary:      cleanList(p.NewVocabulary),
		PositiveIndicators: cleanList(p.PositiveIndicators),
		StruggleIndicators: cleanList(p.StruggleIndicators),
		VocabularyGaps:     cleanList(p.VocabularyGaps),
		HesitationDetected: p.HesitationDetected,
		Tone:               p.EmotionalTone,
		ShouldIntervene:    *p.ShouldIntervene,
		Reason:             strings.TrimSpace(p.InterventionReason),
		Confidence:         inference.NormalizeConfidence(*p.Confidence),
		EmotionalState:     models.ParseEmotionalState(p.EmotionalTone),
	}
	result.ComplexityLevel, result.ComplexityKnown = models.ParseVocabularyLevel(p.ComplexityLevel)
	return result, nil
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
