package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
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
	"kidvoice/internal/security"
	"kidvoice/internal/service"
	"kidvoice/internal/stream"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// fakeVoice answers Process from a callback and delivers through a real
// streamer with no pacing
type fakeVoice struct {
	mu       sync.Mutex
	requests []service.UtteranceRequest
	ended    []string

	process  func(req service.UtteranceRequest) (*service.Turn, error)
	endErr   error
	streamer *stream.Streamer
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{
		process: func(req service.UtteranceRequest) (*service.Turn, error) {
			return &service.Turn{
				TurnID:    "turn-1",
				SessionID: req.SessionID,
				Action:    policy.ActionSpeak,
				Message:   stream.Message{TurnID: "turn-1", Text: "What happens next?"},
			}, nil
		},
		streamer: stream.New(stream.WithSleeper(noSleep)),
	}
}

func (f *fakeVoice) Process(ctx context.Context, req service.UtteranceRequest) (*service.Turn, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.process(req)
}

func (f *fakeVoice) Deliver(ctx context.Context, turn *service.Turn, sink stream.Sink) (stream.State, error) {
	if turn.Silent {
		return stream.StateCompleted, f.streamer.Silent(turn.TurnID, sink)
	}
	return f.streamer.Stream(ctx, turn.Message, sink)
}

func (f *fakeVoice) EndSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sessionID)
	return f.endErr
}

func (f *fakeVoice) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type sseEvent struct {
	Event string
	Data  map[string]interface{}
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.Data))
		case line == "":
			if current.Event != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	return events
}

func eventNames(events []sseEvent) []string {
	var names []string
	for _, e := range events {
		names = append(names, e.Event)
	}
	return names
}

func postStream(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/voice/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestStreamDeliversEventStream(t *testing.T) {
	voice := newFakeVoice()
	router := NewRouter(RouterConfig{Voice: voice})

	recorder := postStream(router, `{"session_id":"s-1","child_id":"c-1","text":"I saw a whale","parent_opt_in":true}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "text/event-stream; charset=utf-8", recorder.Header().Get("Content-Type"))
	assert.NotEmpty(t, recorder.Header().Get(RequestIDHeader))

	events := parseSSE(t, recorder.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "start", events[0].Event)
	assert.Equal(t, "end", events[len(events)-1].Event)

	var text strings.Builder
	for _, e := range events {
		if e.Event == "word" {
			text.WriteString(e.Data["text"].(string))
		}
	}
	assert.Equal(t, "What happens next?", text.String())

	require.Len(t, voice.requests, 1)
	assert.Equal(t, service.UtteranceRequest{SessionID: "s-1", ChildID: "c-1", Text: "I saw a whale", ParentOptIn: true}, voice.requests[0])
}

func TestStreamLogsTurnEnd(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := NewRouter(RouterConfig{Voice: newFakeVoice(), Logger: zap.New(core)})

	recorder := postStream(router, `{"session_id":"s-1","child_id":"c-1","text":"I saw a whale","parent_opt_in":true}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	finished := logs.FilterMessage("turn finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, "turn-1", finished[0].ContextMap()["turn_id"])
	assert.Equal(t, "end", finished[0].ContextMap()["event"])
}

func TestStreamSilentTurn(t *testing.T) {
	voice := newFakeVoice()
	voice.process = func(req service.UtteranceRequest) (*service.Turn, error) {
		return &service.Turn{TurnID: "turn-9", SessionID: req.SessionID, Silent: true}, nil
	}

	recorder := postStream(NewRouter(RouterConfig{Voice: voice}), `{"session_id":"s-1","child_id":"c-1","text":"hmm"}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	events := parseSSE(t, recorder.Body.String())
	assert.Equal(t, []string{"silent"}, eventNames(events))
	assert.Equal(t, "turn-9", events[0].Data["turn_id"])
}

func TestStreamRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed json", `{"session_id":`, ""},
		{"missing session", `{"child_id":"c-1","text":"hi"}`, "session_id"},
		{"missing child and text", `{"session_id":"s-1"}`, "child_id"},
		{"blank text", `{"session_id":"s-1","child_id":"c-1","text":"   "}`, "text"},
		{"bad id characters", `{"session_id":"s 1/..","child_id":"c-1","text":"hi"}`, "session_id"},
		{"text too long", `{"session_id":"s-1","child_id":"c-1","text":"` + strings.Repeat("a", 1001) + `"}`, "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			voice := newFakeVoice()
			recorder := postStream(NewRouter(RouterConfig{Voice: voice}), tt.body)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
			assert.Equal(t, tt.field, body.Field)
			assert.Zero(t, voice.requestCount())
		})
	}
}

func TestStreamMapsProcessErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown child", service.ErrChildNotFound, http.StatusNotFound},
		{"ended session", service.ErrSessionEnded, http.StatusConflict},
		{"foreign session", service.ErrSessionMismatch, http.StatusConflict},
		{"storage down", errors.New("database is locked"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			voice := newFakeVoice()
			voice.process = func(service.UtteranceRequest) (*service.Turn, error) { return nil, tt.err }

			recorder := postStream(NewRouter(RouterConfig{Voice: voice}), `{"session_id":"s-1","child_id":"c-1","text":"hi"}`)

			assert.Equal(t, tt.status, recorder.Code)
			assert.NotContains(t, recorder.Body.String(), "database")
		})
	}
}

func TestStreamRateLimited(t *testing.T) {
	voice := newFakeVoice()
	limiter := newTestLimiter(t, 1)
	router := NewRouter(RouterConfig{Voice: voice, RateLimiter: limiter})

	first := postStream(router, `{"session_id":"s-1","child_id":"c-1","text":"hi"}`)
	second := postStream(router, `{"session_id":"s-1","child_id":"c-1","text":"hi again"}`)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, 1, voice.requestCount())
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/voice/ws"
}

type wsMessage struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) []wsMessage {
	t.Helper()
	var got []wsMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		got = append(got, msg)
		if msg.Event == event {
			return got
		}
	}
}

func TestWebSocketStreamsTurns(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	voice := newFakeVoice()
	srv := httptest.NewServer(NewRouter(RouterConfig{Voice: voice}))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"session_id": "s-1", "text": "hi"}))
	rejected := readUntil(t, conn, "rejected")
	require.Len(t, rejected, 1)
	assert.Equal(t, "child_id", rejected[0].Data["field"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	rejected = readUntil(t, conn, "rejected")
	assert.Equal(t, ErrInvalidJSON, rejected[0].Data["message"])
	assert.Zero(t, voice.requestCount())

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"session_id": "s-1", "child_id": "c-1", "text": "I built a tower", "parent_opt_in": true}))
	delivered := readUntil(t, conn, "end")
	assert.Equal(t, "start", delivered[0].Event)

	var text strings.Builder
	for _, m := range delivered {
		if m.Event == "word" {
			text.WriteString(m.Data["text"].(string))
		}
	}
	assert.Equal(t, "What happens next?", text.String())
	assert.Equal(t, 1, voice.requestCount())
}

func TestWebSocketReportsProcessFailure(t *testing.T) {
	voice := newFakeVoice()
	voice.process = func(service.UtteranceRequest) (*service.Turn, error) { return nil, service.ErrChildNotFound }
	srv := httptest.NewServer(NewRouter(RouterConfig{Voice: voice}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"session_id": "s-1", "child_id": "ghost", "text": "hi"}))
	got := readUntil(t, conn, "rejected")
	assert.Equal(t, ErrChildNotFound, got[0].Data["message"])
}

// countingCompleter fails every call and counts them
type countingCompleter struct {
	calls atomic.Int32
}

func (c *countingCompleter) Complete(ctx context.Context, p inference.Prompt) (string, error) {
	c.calls.Add(1)
	return "", errors.New("inference offline")
}

func newOrchestratorRouter(t *testing.T) (http.Handler, *countingCompleter) {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stores := service.Stores{
		Children:   repository.NewChildRepository(db),
		Sessions:   repository.NewSessionRepository(db),
		Utterances: repository.NewUtteranceRepository(db),
		Decisions:  repository.NewDecisionRepository(db),
	}
	require.NoError(t, repository.NewChildRepository(db).CreateChild(context.Background(), &models.Child{
		ID:              "child-1",
		Name:            "Ada",
		Age:             6,
		AIVoiceEnabled:  true,
		VocabularyLevel: models.VocabularyBeginner,
	}))

	completer := &countingCompleter{}
	rng := rand.New(rand.NewSource(3))
	orch := service.NewOrchestrator(stores, service.Pipeline{
		Estimator: estimator.New(completer, estimator.DefaultSettings(), nil),
		Policy:    policy.New(policy.DefaultSettings(), rng),
		Generator: nudge.NewGenerator(completer, nudge.NewBank(nil, nudge.DefaultWordBudget, rng), time.Second, nudge.DefaultWordBudget, nil),
		Gate:      safety.NewGate(),
		Streamer:  stream.New(stream.WithSleeper(noSleep)),
	})
	summaries := service.NewSummaryService(stores, completer, time.Second, safety.NewGate(), nil, nil)

	return NewRouter(RouterConfig{Voice: orch, Summaries: summaries}), completer
}

func TestStreamWithOrchestrator(t *testing.T) {
	router, completer := newOrchestratorRouter(t)

	recorder := postStream(router, `{"session_id":"session-1","child_id":"child-1","text":""}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Zero(t, completer.calls.Load())

	recorder = postStream(router, `{"session_id":"session-1","child_id":"nobody","text":"hello","parent_opt_in":true}`)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Zero(t, completer.calls.Load())

	recorder = postStream(router, `{"session_id":"session-1","child_id":"child-1","text":"hello","parent_opt_in":false}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, []string{"silent"}, eventNames(parseSSE(t, recorder.Body.String())))
	assert.Zero(t, completer.calls.Load())

	// Inference is down, so the voice stays quiet but the turn is recorded
	recorder = postStream(router, `{"session_id":"session-1","child_id":"child-1","text":"I like rockets","parent_opt_in":true}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, []string{"silent"}, eventNames(parseSSE(t, recorder.Body.String())))
	assert.NotZero(t, completer.calls.Load())

	recorder = postStream(router, `{"session_id":"session-1","child_id":"child-2","text":"hi","parent_opt_in":true}`)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSessionLifecycleWithOrchestrator(t *testing.T) {
	router, _ := newOrchestratorRouter(t)

	require.Equal(t, http.StatusOK, postStream(router, `{"session_id":"session-1","child_id":"child-1","text":"dinosaurs were huge","parent_opt_in":true}`).Code)

	get := httptest.NewRecorder()
	router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/sessions/session-1/summary", nil))
	assert.Equal(t, http.StatusNotFound, get.Code)

	end := httptest.NewRecorder()
	router.ServeHTTP(end, httptest.NewRequest(http.MethodPost, "/api/sessions/session-1/end", nil))
	assert.Equal(t, http.StatusNoContent, end.Code)

	recorder := postStream(router, `{"session_id":"session-1","child_id":"child-1","text":"one more thing","parent_opt_in":true}`)
	assert.Equal(t, http.StatusConflict, recorder.Code)

	summarize := httptest.NewRecorder()
	router.ServeHTTP(summarize, httptest.NewRequest(http.MethodPost, "/api/sessions/session-1/summary", nil))
	require.Equal(t, http.StatusOK, summarize.Code)

	var summary models.SessionSummary
	require.NoError(t, json.Unmarshal(summarize.Body.Bytes(), &summary))
	assert.Equal(t, service.SummarySourceTemplate, summary.Source)
	assert.Contains(t, summary.Topics, "dinosaurs")
}

func newTestLimiter(t *testing.T, rate int) *security.RateLimiter {
	t.Helper()
	limiter := security.NewRateLimiter(rate, time.Minute)
	t.Cleanup(limiter.Close)
	return limiter
}
