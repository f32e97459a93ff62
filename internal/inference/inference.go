// Package inference is the text-completion dependency used by the estimator,
// the nudge generator, the slow safety review and the session summary. No
// caller assumes a vendor or a latency; every call carries a timeout.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDisabled is returned by the Disabled completer
var ErrDisabled = errors.New("inference disabled")

// ErrEmpty is returned when a backend answers with no text
var ErrEmpty = errors.New("empty completion")

// Task names the caller of a completion, mostly for logs and backends that route on it
type Task string

const (
	TaskAnalyze   Task = "analyze"
	TaskGenerate  Task = "generate"
	TaskReview    Task = "review"
	TaskSummarize Task = "summarize"
)

// Prompt is a structured completion request
type Prompt struct {
	Task        Task
	System      string
	User        string
	JSON        bool // ask the backend for a JSON object
	Temperature float32
}

// Completer returns text for a prompt, or fails
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// CompleterFunc adapts a function to Completer
type CompleterFunc func(ctx context.Context, prompt Prompt) (string, error)

// Complete calls f
func (f CompleterFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// Disabled always fails with ErrDisabled, which sends every caller to its
// deterministic fallback
type Disabled struct{}

// Complete implements Completer
func (Disabled) Complete(context.Context, Prompt) (string, error) {
	return "", ErrDisabled
}

// CompleteWithTimeout bounds a completion by timeout. A zero timeout leaves
// ctx unchanged. Results arriving after the deadline are discarded.
func CompleteWithTimeout(ctx context.Context, c Completer, timeout time.Duration, prompt Prompt) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := c.Complete(ctx, prompt)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("failed to complete %s: %w", prompt.Task, r.err)
		}
		if r.text == "" {
			return "", fmt.Errorf("failed to complete %s: %w", prompt.Task, ErrEmpty)
		}
		return r.text, nil
	case <-ctx.Done():
		return "", fmt.Errorf("failed to complete %s: %w", prompt.Task, ctx.Err())
	}
}
