package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"kidvoice/internal/database"
	"kidvoice/internal/estimator"
	"kidvoice/internal/inference"
	"kidvoice/internal/models"
	"kidvoice/internal/nudge"
	"kidvoice/internal/policy"
	"kidvoice/internal/repository"
	"kidvoice/internal/safety"
	"kidvoice/internal/stream"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// script answers each inference task with a canned reply
type script struct {
	mu        sync.Mutex
	replies   map[inference.Task]string
	errs      map[inference.Task]error
	calls     map[inference.Task]int
	lastUsers map[inference.Task]string
}

func newScript() *script {
	return &script{
		replies: map[inference.Task]string{
			inference.TaskAnalyze:  analysisJSON(false, 0.2, "engaged"),
			inference.TaskGenerate: "What could happen next in your story?",
			inference.TaskReview:   `{"safe": true, "concerns": []}`,
		},
		errs:      make(map[inference.Task]error),
		calls:     make(map[inference.Task]int),
		lastUsers: make(map[inference.Task]string),
	}
}

func (s *script) set(task inference.Task, reply string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[task] = reply
	s.errs[task] = err
}

func (s *script) count(task inference.Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[task]
}

func (s *script) lastUser(task inference.Task) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsers[task]
}

func (s *script) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *script) Complete(ctx context.Context, p inference.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[p.Task]++
	s.lastUsers[p.Task] = p.User
	return s.replies[p.Task], s.errs[p.Task]
}

func analysisJSON(intervene bool, confidence float64, tone string, struggles ...string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"complexity_level":    "beginner",
		"should_intervene":    intervene,
		"confidence":          confidence,
		"emotional_tone":      tone,
		"struggle_indicators": struggles,
	})
	return string(b)
}

// gatedSleeper blocks while blocked is set, until ctx is done
type gatedSleeper struct {
	blocked atomic.Bool
}

func (g *gatedSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if !g.blocked.Load() {
		return ctx.Err()
	}
	<-ctx.Done()
	return ctx.Err()
}

type harness struct {
	db      *database.DB
	stores  Stores
	script  *script
	clock   *testClock
	sleeper *gatedSleeper
	orch    *Orchestrator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db: db,
		stores: Stores{
			Children:   repository.NewChildRepository(db),
			Sessions:   repository.NewSessionRepository(db),
			Utterances: repository.NewUtteranceRepository(db),
			Decisions:  repository.NewDecisionRepository(db),
		},
		script:  newScript(),
		clock:   &testClock{now: t0},
		sleeper: &gatedSleeper{},
	}
	h.orch = h.build(opts...)

	require.NoError(t, repository.NewChildRepository(db).CreateChild(context.Background(), &models.Child{
		ID:              "child-1",
		Name:            "Ada",
		Age:             7,
		ParentEmail:     "parent@example.com",
		AIVoiceEnabled:  true,
		VocabularyLevel: models.VocabularyBeginner,
	}))
	return h
}

func (h *harness) build(opts ...Option) *Orchestrator {
	pipeline := Pipeline{
		Estimator: estimator.New(h.script, estimator.DefaultSettings(), nil),
		Policy:    policy.New(policy.DefaultSettings(), rand.New(rand.NewSource(7))),
		Generator: nudge.NewGenerator(h.script, nudge.NewBank(nil, nudge.DefaultWordBudget, rand.New(rand.NewSource(7))), time.Second, nudge.DefaultWordBudget, nil),
		Gate:      safety.NewGate(safety.WithReviewer(h.script, time.Second), safety.WithRand(rand.New(rand.NewSource(7)))),
		Streamer:  stream.New(stream.WithSleeper(h.sleeper.Sleep), stream.WithRand(rand.New(rand.NewSource(7)))),
	}
	return NewOrchestrator(h.stores, pipeline, append([]Option{WithClock(h.clock.Now)}, opts...)...)
}

// priorUtterance records an earlier child utterance and optional state
func (h *harness) priorUtterance(t *testing.T, at time.Time, text string, state *models.ChildState) {
	t.Helper()
	ctx := context.Background()
	_, err := h.stores.Sessions.EnsureSession(ctx, "session-1", "child-1", at)
	require.NoError(t, err)
	require.NoError(t, h.stores.Utterances.AppendUtterance(ctx, &models.Utterance{
		SessionID: "session-1",
		Speaker:   models.SpeakerChild,
		Text:      text,
		SpokenAt:  at,
	}))
	if state != nil {
		require.NoError(t, h.stores.Sessions.SaveState(ctx, "session-1", *state))
	}
}

func (h *harness) aiUtterances(t *testing.T) []models.Utterance {
	t.Helper()
	all, err := h.stores.Utterances.SessionUtterances(context.Background(), "session-1")
	require.NoError(t, err)
	var out []models.Utterance
	for _, u := range all {
		if u.Speaker == models.SpeakerAIVoice {
			out = append(out, u)
		}
	}
	return out
}

func request(text string) UtteranceRequest {
	return UtteranceRequest{SessionID: "session-1", ChildID: "child-1", Text: text, ParentOptIn: true}
}

type eventLog struct {
	mu     sync.Mutex
	events []stream.Event
	seen   chan stream.Kind
}

func newEventLog() *eventLog {
	return &eventLog{seen: make(chan stream.Kind, 64)}
}

func (l *eventLog) Send(e stream.Event) error {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	l.seen <- e.Kind()
	return nil
}

func (l *eventLog) kinds() []stream.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []stream.Kind
	for _, e := range l.events {
		out = append(out, e.Kind())
	}
	return out
}

func (l *eventLog) text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	for _, e := range l.events {
		if w, ok := e.(stream.Word); ok {
			b.WriteString(w.Text)
		}
	}
	return b.String()
}

func (l *eventLog) last() stream.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func waitFor(t *testing.T, l *eventLog, kind stream.Kind) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case k := <-l.seen:
			if k == kind {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestProcessObservesUncertainUtterance(t *testing.T) {
	h := newHarness(t)
	state := models.NewChildState(models.VocabularyBeginner)
	state.Engagement = 70
	h.priorUtterance(t, t0, "we went to the park", &state)

	h.clock.Set(t0.Add(3 * time.Second))
	h.script.set(inference.TaskAnalyze, analysisJSON(true, 0.4, "engaged"), nil)

	turn, err := h.orch.Process(context.Background(), request("I don't know"))
	require.NoError(t, err)

	assert.True(t, turn.Silent)
	assert.Equal(t, policy.ActionObserve, turn.Action)
	assert.Empty(t, h.aiUtterances(t))
	assert.Zero(t, h.script.count(inference.TaskGenerate))

	decisions, err := h.stores.Decisions.SessionDecisions(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "observe", decisions[0].Action)

	session, err := h.stores.Sessions.GetSessionByID(context.Background(), "session-1")
	require.NoError(t, err)
	require.NotNil(t, session.State)
	assert.Contains(t, session.State.RecentUtterances, "I don't know")
	assert.Equal(t, t0.Add(3*time.Second), session.State.LastSpeechAt.UTC())

	events := newEventLog()
	state2, err := h.orch.Deliver(context.Background(), turn, events)
	require.NoError(t, err)
	assert.Equal(t, stream.StateCompleted, state2)
	assert.Equal(t, []stream.Kind{stream.KindSilent}, events.kinds())
}

func TestProcessSpeaksAfterProlongedSilence(t *testing.T) {
	h := newHarness(t)
	h.priorUtterance(t, t0, "the dragon flew away", nil)

	h.clock.Set(t0.Add(9 * time.Second))
	h.script.set(inference.TaskAnalyze, analysisJSON(false, 0.1, "engaged"), nil)

	turn, err := h.orch.Process(context.Background(), request("hmm"))
	require.NoError(t, err)

	require.False(t, turn.Silent)
	assert.Equal(t, policy.ActionSpeak, turn.Action)
	assert.Equal(t, "What could happen next in your story?", turn.Message.Text)
	assert.GreaterOrEqual(t, turn.Message.Delay, 4*time.Second)
	assert.LessOrEqual(t, turn.Message.Delay, 6*time.Second)
	assert.Equal(t, 1, h.script.count(inference.TaskReview))

	ai := h.aiUtterances(t)
	require.Len(t, ai, 1)
	assert.Equal(t, turn.Message.Text, ai[0].Text)
	assert.Equal(t, turn.TurnID, ai[0].Metadata.TurnID)
	assert.Equal(t, "speak", ai[0].Metadata.Action)
	assert.Equal(t, 1.0, ai[0].Metadata.Confidence)
	assert.Equal(t, string(nudge.SituationSilence), ai[0].Metadata.Situation)

	events := newEventLog()
	final, err := h.orch.Deliver(context.Background(), turn, events)
	require.NoError(t, err)
	assert.Equal(t, stream.StateCompleted, final)
	assert.Equal(t, turn.Message.Text, events.text())
}

func TestProcessRateLimitsFourthIntervention(t *testing.T) {
	h := newHarness(t)
	h.priorUtterance(t, t0, "I like frogs", nil)
	for _, offset := range []time.Duration{10 * time.Second, 40 * time.Second, 70 * time.Second} {
		require.NoError(t, h.stores.Utterances.AppendUtterance(context.Background(), &models.Utterance{
			SessionID: "session-1",
			Speaker:   models.SpeakerAIVoice,
			Text:      "Tell me more!",
			SpokenAt:  t0.Add(offset),
		}))
	}

	h.clock.Set(t0.Add(2 * time.Minute))
	h.script.set(inference.TaskAnalyze, analysisJSON(true, 0.95, "engaged"), nil)

	turn, err := h.orch.Process(context.Background(), request("frogs can jump really far"))
	require.NoError(t, err)

	assert.True(t, turn.Silent)
	assert.Equal(t, policy.ActionObserve, turn.Action)
	assert.Len(t, h.aiUtterances(t), 3)

	decisions, err := h.stores.Decisions.SessionDecisions(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.True(t, strings.HasPrefix(decisions[0].Reason, "rate limited"), decisions[0].Reason)
}

func TestProcessSurvivesInferenceFailure(t *testing.T) {
	h := newHarness(t)
	h.script.set(inference.TaskAnalyze, "", errors.New("upstream exploded"))

	turn, err := h.orch.Process(context.Background(), request("look at my drawing"))
	require.NoError(t, err)

	assert.True(t, turn.Silent)
	assert.Empty(t, h.aiUtterances(t))

	session, err := h.stores.Sessions.GetSessionByID(context.Background(), "session-1")
	require.NoError(t, err)
	require.NotNil(t, session.State)
	assert.Equal(t, models.EmotionEngaged, session.State.EmotionalState)
}

func TestProcessWithoutConsent(t *testing.T) {
	tests := []struct {
		name    string
		optIn   bool
		enabled bool
	}{
		{"parent did not opt in", false, true},
		{"voice disabled for child", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, repository.NewChildRepository(h.db).SetAIVoiceEnabled(context.Background(), "child-1", tt.enabled))

			req := request("can you help me")
			req.ParentOptIn = tt.optIn
			turn, err := h.orch.Process(context.Background(), req)
			require.NoError(t, err)

			assert.True(t, turn.Silent)
			assert.Zero(t, h.script.total())

			session, err := h.stores.Sessions.GetSessionByID(context.Background(), "session-1")
			require.NoError(t, err)
			assert.Nil(t, session, "nothing may be stored without consent")
		})
	}
}

func TestProcessUnknownChild(t *testing.T) {
	h := newHarness(t)

	req := request("hello")
	req.ChildID = "child-404"
	_, err := h.orch.Process(context.Background(), req)
	assert.ErrorIs(t, err, ErrChildNotFound)
	assert.Zero(t, h.script.total())
}

func TestProcessRequiresIDs(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Process(context.Background(), UtteranceRequest{SessionID: " ", ChildID: "child-1", Text: "hi", ParentOptIn: true})
	assert.Error(t, err)
	assert.Zero(t, h.script.total())
}

// failingUtterances fails appends for one speaker
type failingUtterances struct {
	UtteranceStore
	speaker models.Speaker
}

func (f failingUtterances) AppendUtterance(ctx context.Context, u *models.Utterance) error {
	if u.Speaker == f.speaker {
		return errors.New("disk full")
	}
	return f.UtteranceStore.AppendUtterance(ctx, u)
}

func TestProcessPersistenceFailure(t *testing.T) {
	tests := []struct {
		name            string
		speaker         models.Speaker
		wantInferenceOK bool
	}{
		{"child utterance", models.SpeakerChild, false},
		{"ai utterance", models.SpeakerAIVoice, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.priorUtterance(t, t0, "the dragon flew away", nil)
			h.stores.Utterances = failingUtterances{UtteranceStore: h.stores.Utterances, speaker: tt.speaker}
			h.orch = h.build()

			h.clock.Set(t0.Add(20 * time.Second))
			h.script.set(inference.TaskAnalyze, analysisJSON(true, 0.9, "engaged"), nil)

			turn, err := h.orch.Process(context.Background(), request("and then?"))
			require.Error(t, err)
			assert.Nil(t, turn)
			assert.Empty(t, h.aiUtterances(t))
			assert.Equal(t, tt.wantInferenceOK, h.script.total() > 0)
		})
	}
}

func TestNewUtteranceReplacesDelivery(t *testing.T) {
	h := newHarness(t)
	h.script.set(inference.TaskAnalyze, analysisJSON(true, 0.9, "engaged"), nil)

	first, err := h.orch.Process(context.Background(), request("I made a boat"))
	require.NoError(t, err)
	require.False(t, first.Silent)

	h.sleeper.blocked.Store(true)
	firstEvents := newEventLog()
	done := make(chan stream.State, 1)
	go func() {
		state, _ := h.orch.Deliver(context.Background(), first, firstEvents)
		done <- state
	}()
	waitFor(t, firstEvents, stream.KindStart)

	h.clock.Set(t0.Add(30 * time.Second))
	second, err := h.orch.Process(context.Background(), request("it floats"))
	require.NoError(t, err)

	select {
	case state := <-done:
		assert.Equal(t, stream.StateCancelled, state)
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery was not cancelled")
	}
	assert.Equal(t, stream.Cancelled{TurnID: first.TurnID, Reason: "replaced"}, firstEvents.last())
	assert.NotContains(t, firstEvents.kinds(), stream.KindWord)

	h.sleeper.blocked.Store(false)
	secondEvents := newEventLog()
	state, err := h.orch.Deliver(context.Background(), second, secondEvents)
	require.NoError(t, err)
	assert.Equal(t, stream.StateCompleted, state)
	assert.Equal(t, second.Message.Text, secondEvents.text())
}

func TestAbandonedUtteranceKeepsDelivery(t *testing.T) {
	h := newHarness(t)
	h.script.set(inference.TaskAnalyze, analysisJSON(true, 0.9, "engaged"), nil)

	first, err := h.orch.Process(context.Background(), request("I made a boat"))
	require.NoError(t, err)

	h.sleeper.blocked.Store(true)
	deliverCtx, stopDelivery := context.WithCancel(context.Background())
	defer stopDelivery()
	firstEvents := newEventLog()
	done := make(chan stream.State, 1)
	go func() {
		state, _ := h.orch.Deliver(deliverCtx, first, firstEvents)
		done <- state
	}()
	waitFor(t, firstEvents, stream.KindStart)

	// Another utterance is mid-processing and holds the turn
	slot := h.orch.acquire("session-1")
	require.NoError(t, slot.lockTurn(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = h.orch.Process(ctx, request("it floats"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	slot.unlockTurn()
	h.orch.release(slot)

	assert.True(t, slot.delivering())
	assert.Equal(t, []stream.Kind{stream.KindStart}, firstEvents.kinds())

	stopDelivery()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery did not stop")
	}
	assert.NotEqual(t, stream.Cancelled{TurnID: first.TurnID, Reason: "replaced"}, firstEvents.last())
}

func TestStaleTurnIsNotDelivered(t *testing.T) {
	h := newHarness(t)
	h.script.set(inference.TaskAnalyze, analysisJSON(true, 0.9, "engaged"), nil)

	first, err := h.orch.Process(context.Background(), request("I made a boat"))
	require.NoError(t, err)
	h.clock.Set(t0.Add(30 * time.Second))
	_, err = h.orch.Process(context.Background(), request("it floats"))
	require.NoError(t, err)

	events := newEventLog()
	state, err := h.orch.Deliver(context.Background(), first, events)
	require.NoError(t, err)
	assert.Equal(t, stream.StateCancelled, state)
	assert.Equal(t, []stream.Kind{stream.KindCancelled}, events.kinds())
}

func TestEndSession(t *testing.T) {
	h := newHarness(t)
	h.script.set(inference.TaskAnalyze, analysisJSON(true, 0.9, "engaged"), nil)

	turn, err := h.orch.Process(context.Background(), request("look, a rainbow"))
	require.NoError(t, err)

	h.sleeper.blocked.Store(true)
	events := newEventLog()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orch.Deliver(context.Background(), turn, events)
	}()
	waitFor(t, events, stream.KindStart)

	require.NoError(t, h.orch.EndSession(context.Background(), "session-1"))
	<-done
	assert.Equal(t, stream.Cancelled{TurnID: turn.TurnID, Reason: "session_ended"}, events.last())

	_, err = h.orch.Process(context.Background(), request("hello again"))
	assert.ErrorIs(t, err, ErrSessionEnded)

	assert.ErrorIs(t, h.orch.EndSession(context.Background(), "session-404"), ErrSessionNotFound)
}

func TestProcessRejectsForeignSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, repository.NewChildRepository(h.db).CreateChild(context.Background(), &models.Child{
		ID: "child-2", Name: "Bo", Age: 6, AIVoiceEnabled: true,
	}))
	h.priorUtterance(t, t0, "hi", nil)

	req := request("hello")
	req.ChildID = "child-2"
	_, err := h.orch.Process(context.Background(), req)
	assert.ErrorIs(t, err, ErrSessionMismatch)
}

func TestProcessRecordsStruggles(t *testing.T) {
	h := newHarness(t)
	h.script.set(inference.TaskAnalyze, analysisJSON(false, 0.3, "confused", "long pause", "restarted sentence"), nil)

	_, err := h.orch.Process(context.Background(), request("the um the"))
	require.NoError(t, err)

	all, err := h.stores.Utterances.SessionUtterances(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"long pause", "restarted sentence"}, all[0].Metadata.Struggle)
	assert.Equal(t, []string{"long pause", "restarted sentence"}, estimator.PriorStruggles(all))

	h.clock.Set(t0.Add(2 * time.Second))
	_, err = h.orch.Process(context.Background(), request("the cat"))
	require.NoError(t, err)
	assert.Contains(t, h.script.lastUser(inference.TaskAnalyze), "Earlier struggle signs: long pause, restarted sentence")
	assert.Contains(t, h.script.lastUser(inference.TaskAnalyze), `- "the um the"`)
}

type fakeTTS struct {
	err     error
	deleted []string
}

func (f *fakeTTS) Synthesize(ctx context.Context, turnID, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "turn_" + turnID + ".mp3", nil
}

func (f *fakeTTS) URL(filename string) string { return "/static/audio/" + filename }

func (f *fakeTTS) DeleteAudioFile(filename string) error {
	f.deleted = append(f.deleted, filename)
	return nil
}

func (f *fakeTTS) PruneOlderThan(time.Time) (int, error) { return 0, nil }

func TestProcessAttachesAudio(t *testing.T) {
	tests := []struct {
		name    string
		tts     *fakeTTS
		wantURL bool
	}{
		{"synthesized", &fakeTTS{}, true},
		{"synthesis failed", &fakeTTS{err: errors.New("tts down")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.orch = h.build(WithTTS(tt.tts), WithTurnIDs(func() string { return "t1" }))
			h.script.set(inference.TaskAnalyze, analysisJSON(true, 0.9, "engaged"), nil)

			turn, err := h.orch.Process(context.Background(), request("I built a tower"))
			require.NoError(t, err)
			require.False(t, turn.Silent)

			if tt.wantURL {
				assert.Equal(t, "/static/audio/turn_t1.mp3", turn.Message.AudioURL)
				assert.Equal(t, "turn_t1.mp3", h.aiUtterances(t)[0].Metadata.AudioFile)
			} else {
				assert.Empty(t, turn.Message.AudioURL)
				assert.Len(t, h.aiUtterances(t), 1)
			}
		})
	}
}

func TestEvictIdle(t *testing.T) {
	h := newHarness(t)
	h.orch = h.build(WithIdleTTL(time.Minute))

	_, err := h.orch.Process(context.Background(), request("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.orch.ActiveSessions())

	h.clock.Set(t0.Add(30 * time.Second))
	assert.Zero(t, h.orch.EvictIdle())

	h.clock.Set(t0.Add(2 * time.Minute))
	assert.Equal(t, 1, h.orch.EvictIdle())
	assert.Zero(t, h.orch.ActiveSessions())
}

func TestRunEvictionLogsRemainingSessions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarness(t)
	h.orch = h.build(WithIdleTTL(time.Minute), WithLogger(zap.New(core)))

	for _, id := range []string{"session-1", "session-2"} {
		_, err := h.orch.Process(context.Background(), UtteranceRequest{SessionID: id, ChildID: "child-1", Text: "hello", ParentOptIn: true})
		require.NoError(t, err)
	}
	h.clock.Set(t0.Add(2 * time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orch.RunEviction(ctx, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("evicted idle sessions").Len() > 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	entry := logs.FilterMessage("evicted idle sessions").All()[0]
	assert.Equal(t, int64(2), entry.ContextMap()["count"])
	assert.Equal(t, int64(0), entry.ContextMap()["active"])
}

func TestSessionsAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.script.set(inference.TaskAnalyze, analysisJSON(true, 0.9, "engaged"), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.orch.Process(context.Background(), UtteranceRequest{
				SessionID: "session-" + id, ChildID: "child-1", Text: "hi " + id, ParentOptIn: true,
			})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 4, h.orch.ActiveSessions())
}
