package safety

import (
	"context"
	"fmt"
	"strings"

	"kidvoice/internal/inference"
)

const reviewSystemPrompt = `You review short sentences that a voice assistant is about to say to a young child.
Reply with a JSON object only: {"safe": true|false, "concerns": ["..."], "alternative": "..."}.
Mark the sentence unsafe if it is not age-appropriate, if its tone is negative, discouraging or
corrective, if it asks for personal information, or if it reveals that the child is being
analysed, scored or monitored. When unsafe, give a warm, open-ended alternative of at most 15 words.`

type reviewResult struct {
	Safe        *bool    `json:"safe"`
	Concerns    []string `json:"concerns"`
	Alternative string   `json:"alternative"`
}

type review struct {
	Safe        bool
	Concerns    []string
	Alternative string
}

func (g *Gate) review(ctx context.Context, text string, child ChildContext) (*review, error) {
	var b strings.Builder
	if child.Age > 0 {
		fmt.Fprintf(&b, "Child age: %d\n", child.Age)
	}
	fmt.Fprintf(&b, "Vocabulary level: %s\n", child.VocabularyLevel)
	if child.EmotionalState != "" {
		fmt.Fprintf(&b, "Current mood: %s\n", child.EmotionalState)
	}
	fmt.Fprintf(&b, "Sentence: %q\n", text)

	raw, err := inference.CompleteWithTimeout(ctx, g.reviewer, g.timeout, inference.Prompt{
		Task:   inference.TaskReview,
		System: reviewSystemPrompt,
		User:   b.String(),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	var result reviewResult
	if err := inference.DecodeJSON(raw, &result); err != nil {
		return nil, err
	}
	if result.Safe == nil {
		return nil, fmt.Errorf("review verdict missing")
	}

	return &review{Safe: *result.Safe, Concerns: result.Concerns, Alternative: result.Alternative}, nil
}
