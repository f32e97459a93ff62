// Package stream delivers an approved message to a consumer as a timed
// sequence of events.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"kidvoice/internal/logger"
)

// ErrConsumerGone is returned by a Sink whose consumer has disconnected.
// The streamer treats it as cancellation, not failure.
var ErrConsumerGone = errors.New("consumer gone")

// Cancellation causes the orchestrator attaches to a delivery context
var (
	ErrReplaced     = errors.New("replaced by a newer utterance")
	ErrSessionEnded = errors.New("session ended")
)

// State is the streamer's state machine position
type State int

const (
	StateIdle State = iota
	StateStarting
	StateEmitting
	StateCompleted
	StateCancelled
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateEmitting:
		return "emitting"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Sink receives events. Send must not retain e after returning.
type Sink interface {
	Send(e Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(e Event) error

// Send calls f
func (f SinkFunc) Send(e Event) error { return f(e) }

// Message is an approved message ready for delivery
type Message struct {
	TurnID   string
	Text     string
	Delay    time.Duration
	AudioURL string
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real-clock Sleeper
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Streamer is safe for concurrent use
type Streamer struct {
	sleep    Sleeper
	minPause time.Duration
	maxPause time.Duration
	logger   *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Streamer
type Option func(*Streamer)

// WithSleeper replaces the clock
func WithSleeper(s Sleeper) Option {
	return func(st *Streamer) { st.sleep = s }
}

// WithPacing sets the per-unit pause band
func WithPacing(min, max time.Duration) Option {
	return func(st *Streamer) {
		st.minPause = min
		st.maxPause = max
	}
}

// WithRand sets the pacing source
func WithRand(rng *rand.Rand) Option {
	return func(st *Streamer) { st.rng = rng }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(st *Streamer) { st.logger = l }
}

// New creates a streamer pacing units 200-300ms apart
func New(opts ...Option) *Streamer {
	s := &Streamer{
		sleep:    SleepContext,
		minPause: 200 * time.Millisecond,
		maxPause: 300 * time.Millisecond,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxPause < s.minPause {
		s.maxPause = s.minPause
	}
	s.logger = logger.OrNop(s.logger).Named("stream")
	return s
}

// Silent tells the consumer that nothing will be delivered for the turn
func (s *Streamer) Silent(turnID string, sink Sink) error {
	return sink.Send(Silent{TurnID: turnID})
}

// Stream delivers msg to sink: start, one wait of msg.Delay, then each unit
// paced 200-300ms apart, then end. Cancelling ctx or a consumer that goes
// away ends the stream in StateCancelled with a nil error. Any other sink
// failure ends it in StateError after one Error event.
func (s *Streamer) Stream(ctx context.Context, msg Message, sink Sink) (state State, err error) {
	state = StateStarting

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream panic", zap.String("turn_id", msg.TurnID), zap.Any("panic", r))
			_ = sink.Send(Error{TurnID: msg.TurnID, Code: ErrorCodeDeliveryFailed})
			state, err = StateError, fmt.Errorf("stream panic: %v", r)
		}
	}()

	if ctx.Err() != nil {
		return s.cancel(ctx, msg.TurnID, sink), nil
	}

	start := Start{TurnID: msg.TurnID, DelayMs: msg.Delay.Milliseconds(), AudioURL: msg.AudioURL}
	if err := sink.Send(start); err != nil {
		return s.fail(sink, start, msg.TurnID, err)
	}

	if err := s.sleep(ctx, msg.Delay); err != nil {
		return s.cancel(ctx, msg.TurnID, sink), nil
	}

	state = StateEmitting
	units := Split(msg.Text)
	for i, unit := range units {
		if i > 0 {
			if err := s.sleep(ctx, s.pause()); err != nil {
				return s.cancel(ctx, msg.TurnID, sink), nil
			}
		}
		if ctx.Err() != nil {
			return s.cancel(ctx, msg.TurnID, sink), nil
		}
		word := Word{TurnID: msg.TurnID, Index: i, Text: unit}
		if err := sink.Send(word); err != nil {
			return s.fail(sink, word, msg.TurnID, err)
		}
	}

	end := End{TurnID: msg.TurnID, Words: len(units)}
	if err := sink.Send(end); err != nil {
		return s.fail(sink, end, msg.TurnID, err)
	}
	return StateCompleted, nil
}

// fail maps a sink error to the terminal state it leads to
func (s *Streamer) fail(sink Sink, e Event, turnID string, err error) (State, error) {
	if errors.Is(err, ErrConsumerGone) {
		return StateCancelled, nil
	}
	s.logger.Warn("delivery failed", zap.String("turn_id", turnID), zap.String("event", string(e.Kind())), zap.Error(err))
	_ = sink.Send(Error{TurnID: turnID, Code: ErrorCodeDeliveryFailed})
	return StateError, fmt.Errorf("failed to send %s event: %w", e.Kind(), err)
}

// cancel tells a still-present consumer why the delivery stopped
func (s *Streamer) cancel(ctx context.Context, turnID string, sink Sink) State {
	reason := "cancelled"
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, ErrReplaced):
		reason = "replaced"
	case errors.Is(cause, ErrSessionEnded):
		reason = "session_ended"
	}
	_ = sink.Send(Cancelled{TurnID: turnID, Reason: reason})
	return StateCancelled
}

func (s *Streamer) pause() time.Duration {
	spread := s.maxPause - s.minPause
	if spread <= 0 {
		return s.minPause
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minPause + time.Duration(s.rng.Int63n(int64(spread)+1))
}
