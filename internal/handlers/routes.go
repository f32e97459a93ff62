package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"kidvoice/internal/logger"
	"kidvoice/internal/security"
)

// RouterConfig collects what NewRouter wires together
type RouterConfig struct {
	Voice       VoiceService
	Summaries   SummaryProvider
	RateLimiter *security.RateLimiter // nil disables limiting
	StaticPath  string                // empty disables the file server
	Logger      *zap.Logger
}

// NewRouter builds the HTTP handler for the service
func NewRouter(cfg RouterConfig) http.Handler {
	log := logger.OrNop(cfg.Logger)
	voiceHandler := NewVoiceHandler(cfg.Voice, log)
	sessionHandler := NewSessionHandler(cfg.Voice, cfg.Summaries, log)

	limit := func(h http.HandlerFunc) http.Handler {
		if cfg.RateLimiter == nil {
			return h
		}
		return cfg.RateLimiter.Middleware(h, func(w http.ResponseWriter, r *http.Request) {
			respondWithError(w, log, http.StatusTooManyRequests, ErrTooManyRequests, "", nil)
		})
	}

	mux := http.NewServeMux()

	if cfg.StaticPath != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticPath))))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Child-facing voice routes
	mux.Handle("POST /api/voice/stream", limit(voiceHandler.Stream))
	mux.Handle("GET /api/voice/ws", limit(voiceHandler.WebSocket))

	// Session routes
	mux.HandleFunc("POST /api/sessions/{id}/end", sessionHandler.End)
	mux.HandleFunc("POST /api/sessions/{id}/summary", sessionHandler.Summarize)
	mux.HandleFunc("GET /api/sessions/{id}/summary", sessionHandler.GetSummary)

	return Logging(log.Named("http"))(mux)
}
