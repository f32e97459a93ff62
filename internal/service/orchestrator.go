package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kidvoice/internal/estimator"
	"kidvoice/internal/logger"
	"kidvoice/internal/models"
	"kidvoice/internal/nudge"
	"kidvoice/internal/policy"
	"kidvoice/internal/safety"
	"kidvoice/internal/stream"
)

var (
	ErrChildNotFound   = errors.New("child not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session has ended")
	ErrSessionMismatch = errors.New("session belongs to another child")
)

// DefaultHistoryWindow is how many earlier utterances rehydrate a ChildState
const DefaultHistoryWindow = 20

// UtteranceRequest is one child utterance arriving for a session
type UtteranceRequest struct {
	SessionID   string
	ChildID     string
	Text        string
	ParentOptIn bool
}

// Turn is the outcome of processing one utterance, ready for delivery.
// A silent turn delivers nothing.
type Turn struct {
	TurnID    string
	SessionID string
	Action    policy.Action
	Silent    bool
	Message   stream.Message

	generation uint64
}

// Synthesizer turns an approved message into a playable audio file
type Synthesizer interface {
	Synthesize(ctx context.Context, turnID, text string) (string, error)
	URL(filename string) string
	DeleteAudioFile(filename string) error
	PruneOlderThan(cutoff time.Time) (int, error)
}

// Pipeline holds the decision and delivery components
type Pipeline struct {
	Estimator *estimator.Estimator
	Policy    *policy.Policy
	Generator *nudge.Generator
	Gate      *safety.Gate
	Streamer  *stream.Streamer
}

// Orchestrator runs the per-utterance loop and owns every session's
// ChildState. Sessions never share state; within a session, processing is
// serialised in arrival order and a newer utterance replaces an in-flight
// delivery.
type Orchestrator struct {
	stores   Stores
	pipeline Pipeline
	tts      Synthesizer
	logger   *zap.Logger

	now           func() time.Time
	newID         func() string
	historyWindow int
	idleTTL       time.Duration

	mu    sync.Mutex
	slots map[string]*sessionSlot
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithTTS attaches speech synthesis for approved messages
func WithTTS(s Synthesizer) Option {
	return func(o *Orchestrator) { o.tts = s }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTurnIDs replaces the turn id generator
func WithTurnIDs(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// WithHistoryWindow bounds how many earlier utterances are read per turn
func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyWindow = n
		}
	}
}

// WithIdleTTL sets how long an untouched session slot stays in memory
func WithIdleTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.idleTTL = d
		}
	}
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(stores Stores, pipeline Pipeline, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stores:        stores,
		pipeline:      pipeline,
		now:           time.Now,
		newID:         uuid.NewString,
		historyWindow: DefaultHistoryWindow,
		idleTTL:       30 * time.Minute,
		slots:         make(map[string]*sessionSlot),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.OrNop(o.logger).Named("orchestrator")
	return o
}

// Process runs one utterance through estimation, policy, generation and the
// safety gate, persisting the child utterance before any analysis and the AI
// utterance before anything can be delivered. Dependency failures never
// surface here; persistence failures do.
func (o *Orchestrator) Process(ctx context.Context, req UtteranceRequest) (*Turn, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ChildID = strings.TrimSpace(req.ChildID)
	if req.SessionID == "" || req.ChildID == "" {
		return nil, fmt.Errorf("session id and child id are required")
	}

	silent := &Turn{TurnID: o.newID(), SessionID: req.SessionID, Action: policy.ActionObserve, Silent: true}
	if !req.ParentOptIn {
		return silent, nil
	}

	child, err := o.stores.Children.GetChildByID(ctx, req.ChildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get child: %w", err)
	}
	if child == nil {
		return nil, ErrChildNotFound
	}
	if !child.AIVoiceEnabled {
		return silent, nil
	}

	slot := o.acquire(req.SessionID)
	defer o.release(slot)

	// The delivery in flight is only replaced once this utterance holds the
	// turn, so a caller that gives up while waiting leaves it untouched.
	if err := slot.lockTurn(ctx); err != nil {
		return nil, err
	}
	defer slot.unlockTurn()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	generation := slot.arrive()

	turn, err := o.process(ctx, req, child)
	if err != nil {
		return nil, err
	}
	turn.generation = generation
	return turn, nil
}

func (o *Orchestrator) process(ctx context.Context, req UtteranceRequest, child *models.Child) (*Turn, error) {
	now := o.now()
	log := o.logger.With(zap.String("session_id", req.SessionID))

	session, err := o.stores.Sessions.EnsureSession(ctx, req.SessionID, req.ChildID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if session.ChildID != req.ChildID {
		return nil, ErrSessionMismatch
	}
	if session.IsEnded() {
		return nil, ErrSessionEnded
	}

	spoken := &models.Utterance{
		SessionID: req.SessionID,
		Speaker:   models.SpeakerChild,
		Text:      req.Text,
		SpokenAt:  now,
	}
	if err := o.stores.Utterances.AppendUtterance(ctx, spoken); err != nil {
		return nil, fmt.Errorf("failed to save child utterance: %w", err)
	}

	limiter := o.pipeline.Policy.Limiter()
	var (
		history       []models.Utterance
		interventions []time.Time
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = o.stores.Utterances.RecentUtterances(gctx, req.SessionID, o.historyWindow+1)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		interventions, err = o.stores.Utterances.InterventionTimes(gctx, req.SessionID, limiter.Since(now))
		if err != nil {
			return fmt.Errorf("failed to load interventions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	prior := make([]models.Utterance, 0, len(history))
	for _, u := range history {
		if u.ID != spoken.ID {
			prior = append(prior, u)
		}
	}
	state := estimator.Rehydrate(session.State, child.VocabularyLevel, prior)

	result := o.pipeline.Estimator.Analyze(ctx, req.Text, state, estimator.SessionContext{
		Now:            now,
		Age:            child.Age,
		PriorStruggles: estimator.PriorStruggles(prior),
	})
	log.Debug("utterance analysed",
		zap.Bool("should_intervene", result.ShouldIntervene),
		zap.Float64("confidence", result.Confidence),
		zap.String("reason", result.Reason),
		zap.Bool("override", result.Override),
		zap.Bool("degraded", result.Degraded))

	if err := o.stores.Utterances.UpdateMetadata(ctx, spoken.ID, models.UtteranceMetadata{
		Confidence:     result.Confidence,
		EmotionalState: string(result.EmotionalState),
		Struggle:       result.StruggleIndicators,
	}); err != nil {
		log.Warn("failed to annotate child utterance", zap.Error(err))
	}

	decision := o.pipeline.Policy.Decide(result, state, policy.DecisionContext{Now: now, Interventions: interventions})

	turn := &Turn{TurnID: o.newID(), SessionID: req.SessionID, Action: decision.Action, Silent: true}
	record := &models.DecisionRecord{
		SessionID:      req.SessionID,
		UtteranceID:    spoken.ID,
		Action:         decision.Action.String(),
		Reason:         decision.Reasoning,
		Confidence:     result.Confidence,
		EmotionalState: string(result.EmotionalState),
		DelayMs:        decision.Delay.Milliseconds(),
		CreatedAt:      now,
	}

	if decision.Action.Speaks() {
		msg, err := o.compose(ctx, turn.TurnID, req, child, state, result, decision, now)
		if err != nil {
			return nil, err
		}
		turn.Silent = false
		turn.Message = *msg
	}

	if err := o.stores.Decisions.RecordDecision(ctx, record); err != nil {
		log.Warn("failed to record decision", zap.Error(err))
	}

	next := estimator.Update(state, result)
	if decision.Action.Speaks() {
		next = next.ResetHesitation()
	}
	if err := o.stores.Sessions.SaveState(ctx, req.SessionID, next); err != nil {
		log.Warn("failed to save child state", zap.Error(err))
	}
	if next.VocabularyLevel != child.VocabularyLevel {
		if err := o.stores.Children.UpdateVocabularyLevel(ctx, child.ID, next.VocabularyLevel); err != nil {
			log.Warn("failed to update vocabulary level", zap.Error(err))
		}
	}

	log.Info("turn decided",
		zap.String("turn_id", turn.TurnID),
		zap.String("action", decision.Action.String()),
		zap.String("gate", string(decision.Gate)),
		zap.Duration("delay", decision.Delay))

	return turn, nil
}

// compose writes, vets and persists the message for a speaking decision
func (o *Orchestrator) compose(ctx context.Context, turnID string, req UtteranceRequest, child *models.Child,
	state models.ChildState, result estimator.ReasoningResult, decision policy.Decision, now time.Time) (*stream.Message, error) {
	situation := nudge.SituationFor(decision.Action, result)
	candidate := o.pipeline.Generator.Generate(ctx, nudge.Context{
		Situation:       situation,
		Utterance:       req.Text,
		Age:             child.Age,
		VocabularyLevel: state.VocabularyLevel,
		EmotionalState:  result.EmotionalState,
		VocabularyGaps:  result.VocabularyGaps,
		Recent:          state.RecentUtterances,
	})

	verdict := o.pipeline.Gate.Evaluate(ctx, candidate.Text, safety.ChildContext{
		Age:             child.Age,
		VocabularyLevel: state.VocabularyLevel,
		EmotionalState:  result.EmotionalState,
	})
	if !verdict.Safe {
		o.logger.Info("candidate replaced by safety gate",
			zap.String("turn_id", turnID),
			zap.String("layer", string(verdict.Layer)),
			zap.Strings("violations", verdict.ViolationStrings()))
	}

	msg := &stream.Message{TurnID: turnID, Text: verdict.Text, Delay: decision.Delay}

	var audioFile string
	if o.tts != nil {
		filename, err := o.tts.Synthesize(ctx, turnID, verdict.Text)
		if err != nil {
			o.logger.Warn("speech synthesis failed, delivering text only", zap.String("turn_id", turnID), zap.Error(err))
		} else {
			audioFile = filename
			msg.AudioURL = o.tts.URL(filename)
		}
	}

	reply := &models.Utterance{
		SessionID: req.SessionID,
		Speaker:   models.SpeakerAIVoice,
		Text:      verdict.Text,
		SpokenAt:  now,
		Metadata: models.UtteranceMetadata{
			TurnID:         turnID,
			Action:         decision.Action.String(),
			Reasoning:      decision.Reasoning,
			Confidence:     result.Confidence,
			DelayMs:        decision.Delay.Milliseconds(),
			EmotionalState: string(result.EmotionalState),
			Situation:      string(situation),
			Source:         string(candidate.Source),
			Violations:     verdict.ViolationStrings(),
			AudioFile:      audioFile,
		},
	}
	if err := o.stores.Utterances.AppendUtterance(ctx, reply); err != nil {
		if audioFile != "" {
			_ = o.tts.DeleteAudioFile(audioFile)
		}
		return nil, fmt.Errorf("failed to save ai utterance: %w", err)
	}

	return msg, nil
}

// Deliver streams a processed turn to sink. A turn that has been overtaken
// by a newer utterance is cancelled without emitting content.
func (o *Orchestrator) Deliver(ctx context.Context, turn *Turn, sink stream.Sink) (stream.State, error) {
	if turn.Silent {
		if err := o.pipeline.Streamer.Silent(turn.TurnID, sink); err != nil && !errors.Is(err, stream.ErrConsumerGone) {
			return stream.StateError, fmt.Errorf("failed to send silent event: %w", err)
		}
		return stream.StateCompleted, nil
	}

	slot := o.acquire(turn.SessionID)
	defer o.release(slot)

	dctx, reason := slot.begin(ctx, turn.generation)
	if reason != "" {
		_ = sink.Send(stream.Cancelled{TurnID: turn.TurnID, Reason: reason})
		return stream.StateCancelled, nil
	}
	defer slot.finish(turn.generation)

	state, err := o.pipeline.Streamer.Stream(dctx, turn.Message, sink)
	o.logger.Debug("delivery finished",
		zap.String("session_id", turn.SessionID),
		zap.String("turn_id", turn.TurnID),
		zap.Stringer("state", state))
	return state, err
}

// EndSession stops any delivery for the session and marks it ended in
// storage. The closed slot lingers until idle eviction so late deliveries
// are cancelled too.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	session, err := o.stores.Sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return ErrSessionNotFound
	}

	slot := o.acquire(sessionID)
	slot.close(stream.ErrSessionEnded)
	o.release(slot)

	if err := o.stores.Sessions.EndSession(ctx, sessionID, o.now()); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	o.logger.Info("session ended", zap.String("session_id", sessionID))
	return nil
}
