package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"kidvoice/internal/stream"
)

// sessionSlot is the in-memory per-session coordination point. It holds no
// ChildState; that lives in storage between turns.
type sessionSlot struct {
	// turn serialises processing. It is a channel so waiting honours ctx.
	turn chan struct{}

	mu     sync.Mutex
	latest uint64 // generation of the newest arrival
	active uint64 // generation currently streaming
	cancel context.CancelCauseFunc
	closed bool

	// guarded by Orchestrator.mu
	refs     int
	lastSeen time.Time
}

func newSessionSlot() *sessionSlot {
	return &sessionSlot{turn: make(chan struct{}, 1)}
}

// arrive registers a new utterance, replacing whatever is being delivered
func (s *sessionSlot) arrive() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest++
	if s.cancel != nil {
		s.cancel(stream.ErrReplaced)
		s.cancel = nil
	}
	return s.latest
}

func (s *sessionSlot) lockTurn(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sessionSlot) unlockTurn() {
	<-s.turn
}

// begin starts delivery for generation. When a newer utterance has already
// arrived or the session was closed it returns the cancellation reason instead.
func (s *sessionSlot) begin(ctx context.Context, generation uint64) (context.Context, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, "session_ended"
	}
	if generation < s.latest {
		return nil, "replaced"
	}
	if s.cancel != nil {
		s.cancel(stream.ErrReplaced)
	}
	dctx, cancel := context.WithCancelCause(ctx)
	s.active = generation
	s.cancel = cancel
	return dctx, ""
}

func (s *sessionSlot) finish(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == generation && s.cancel != nil {
		s.cancel(nil)
		s.cancel = nil
	}
}

func (s *sessionSlot) close(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel(cause)
		s.cancel = nil
	}
}

func (s *sessionSlot) delivering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (o *Orchestrator) acquire(sessionID string) *sessionSlot {
	o.mu.Lock()
	defer o.mu.Unlock()
	slot, ok := o.slots[sessionID]
	if !ok {
		slot = newSessionSlot()
		o.slots[sessionID] = slot
	}
	slot.refs++
	slot.lastSeen = o.now()
	return slot
}

func (o *Orchestrator) release(slot *sessionSlot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	slot.refs--
	slot.lastSeen = o.now()
}

// ActiveSessions returns how many sessions currently hold a slot
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.slots)
}

// EvictIdle drops slots nobody has touched for the idle TTL and returns how
// many were removed. Slots in use are kept.
func (o *Orchestrator) EvictIdle() int {
	cutoff := o.now().Add(-o.idleTTL)

	o.mu.Lock()
	defer o.mu.Unlock()
	evicted := 0
	for id, slot := range o.slots {
		if slot.refs > 0 || slot.lastSeen.After(cutoff) || slot.delivering() {
			continue
		}
		delete(o.slots, id)
		evicted++
	}
	return evicted
}

// RunEviction evicts idle slots and stale audio files every interval until
// ctx is done
func (o *Orchestrator) RunEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.EvictIdle(); n > 0 {
				o.logger.Info("evicted idle sessions", zap.Int("count", n), zap.Int("active", o.ActiveSessions()))
			}
			if o.tts != nil {
				if n, err := o.tts.PruneOlderThan(o.now().Add(-o.idleTTL)); err != nil {
					o.logger.Warn("failed to prune audio files", zap.Error(err))
				} else if n > 0 {
					o.logger.Debug("pruned audio files", zap.Int("count", n))
				}
			}
		}
	}
}
