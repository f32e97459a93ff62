package nudge

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Situation is the kind of moment a nudge responds to
type Situation string

const (
	SituationSilence       Situation = "silence"
	SituationConfusion     Situation = "confusion"
	SituationEncouragement Situation = "encouragement"
	SituationVocabulary    Situation = "vocabulary"
	SituationThinking      Situation = "thinking"
)

// Situations lists every situation in a fixed order
var Situations = []Situation{
	SituationSilence,
	SituationConfusion,
	SituationEncouragement,
	SituationVocabulary,
	SituationThinking,
}

var defaultPhrases = map[Situation][]string{
	SituationSilence: {
		"What are you thinking about right now?",
		"Take your time. What comes to mind?",
		"I'm curious what you're imagining!",
		"What would you like to explore next?",
	},
	SituationConfusion: {
		"Let's look at it together. What do you notice first?",
		"Which part feels tricky? We can figure it out.",
		"Can you tell me what you see?",
		"Let's try it a different way. What do you think?",
	},
	SituationEncouragement: {
		"You're working so hard. I'm proud of you!",
		"That's okay. Every try helps your brain grow!",
		"You've got this. Let's take a deep breath together.",
		"Great effort! What should we try next?",
	},
	SituationVocabulary: {
		"Ooh, that's a big word! What do you think it means?",
		"Can you think of another word that means the same thing?",
		"How would you use that word in a sentence?",
	},
	SituationThinking: {
		"What do you think will happen next?",
		"Why do you think that is?",
		"What else could we wonder about?",
		"How did you figure that out?",
	},
}

// Bank holds the per-situation template phrases. It needs no network and
// is always available. Safe for concurrent use.
type Bank struct {
	phrases map[Situation][]string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBank creates a bank from the built-in phrases. Overrides replace the
// phrases of a situation; entries over wordBudget and unknown situations are
// ignored. A nil rng is seeded from the clock.
func NewBank(overrides map[string][]string, wordBudget int, rng *rand.Rand) *Bank {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	phrases := make(map[Situation][]string, len(defaultPhrases))
	for situation, list := range defaultPhrases {
		phrases[situation] = list
	}

	for name, list := range overrides {
		situation := Situation(strings.ToLower(strings.TrimSpace(name)))
		if _, known := defaultPhrases[situation]; !known {
			continue
		}
		var kept []string
		for _, phrase := range list {
			phrase = strings.TrimSpace(phrase)
			if phrase != "" && (wordBudget <= 0 || WordCount(phrase) <= wordBudget) {
				kept = append(kept, phrase)
			}
		}
		if len(kept) > 0 {
			phrases[situation] = kept
		}
	}

	return &Bank{phrases: phrases, rng: rng}
}

// Pick returns a phrase for the situation, chosen uniformly at random.
// Unknown situations fall back to the thinking prompts.
func (b *Bank) Pick(situation Situation) string {
	list, ok := b.phrases[situation]
	if !ok {
		list = b.phrases[SituationThinking]
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return list[b.rng.Intn(len(list))]
}

// Phrases returns a copy of a situation's phrases
func (b *Bank) Phrases(situation Situation) []string {
	return append([]string(nil), b.phrases[situation]...)
}

// WordCount counts whitespace-separated words
func WordCount(text string) int {
	return len(strings.Fields(text))
}
