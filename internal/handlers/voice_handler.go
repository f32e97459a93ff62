package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kidvoice/internal/logger"
	"kidvoice/internal/service"
	"kidvoice/internal/stream"
	"kidvoice/internal/validation"
)

// VoiceService runs and delivers turns
type VoiceService interface {
	Process(ctx context.Context, req service.UtteranceRequest) (*service.Turn, error)
	Deliver(ctx context.Context, turn *service.Turn, sink stream.Sink) (stream.State, error)
	EndSession(ctx context.Context, sessionID string) error
}

// StreamRequest is the body of a streaming request and of each WebSocket frame
type StreamRequest struct {
	SessionID   string `json:"session_id"`
	ChildID     string `json:"child_id"`
	Text        string `json:"text"`
	ParentOptIn bool   `json:"parent_opt_in"`
}

func (r StreamRequest) validate() error {
	return validation.ValidateStreamRequest(r.SessionID, r.ChildID, r.Text)
}

func (r StreamRequest) utterance() service.UtteranceRequest {
	return service.UtteranceRequest{
		SessionID:   r.SessionID,
		ChildID:     r.ChildID,
		Text:        r.Text,
		ParentOptIn: r.ParentOptIn,
	}
}

// VoiceHandler serves the child-facing streaming endpoints
type VoiceHandler struct {
	voice    VoiceService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewVoiceHandler creates a new voice handler
func NewVoiceHandler(voice VoiceService, l *zap.Logger) *VoiceHandler {
	return &VoiceHandler{
		voice:  voice,
		logger: logger.OrNop(l).Named("voice"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// processError maps a Process failure to a status and client message
func processError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrChildNotFound):
		return http.StatusNotFound, ErrChildNotFound
	case errors.Is(err, service.ErrSessionEnded), errors.Is(err, service.ErrSessionMismatch):
		return http.StatusConflict, ErrSessionConflict
	default:
		return http.StatusServiceUnavailable, ErrServiceUnavailable
	}
}

// Stream handles POST /api/voice/stream. The response is either one silent
// event or start, word... and a terminal end, cancelled or error event.
func (h *VoiceHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, ErrInvalidJSON, "", nil)
		return
	}
	if err := req.validate(); err != nil {
		var verr validation.ValidationError
		if errors.As(err, &verr) {
			respondWithValidation(w, verr)
			return
		}
		respondWithError(w, h.logger, http.StatusBadRequest, err.Error(), "", nil)
		return
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, ErrStreamingUnsupported, "", err)
		return
	}

	turn, err := h.voice.Process(r.Context(), req.utterance())
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		status, msg := processError(err)
		respondWithError(w, h.logger, status, msg, "failed to process utterance", err)
		return
	}

	sw.open()
	sink := stream.SinkFunc(func(e stream.Event) error {
		if r.Context().Err() != nil {
			return stream.ErrConsumerGone
		}
		if err := sw.Send(string(e.Kind()), e); err != nil {
			return fmt.Errorf("%w: %v", stream.ErrConsumerGone, err)
		}
		if stream.Terminal(e) {
			h.logger.Debug("turn finished", zap.String("turn_id", turn.TurnID), zap.String("event", string(e.Kind())))
		}
		return nil
	})

	if _, err := h.voice.Deliver(r.Context(), turn, sink); err != nil {
		h.logger.Warn("delivery failed", zap.String("turn_id", turn.TurnID), zap.Error(err))
	}
}

// wsFrame is one server-to-client WebSocket message
type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type wsRejection struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// wsConn serialises writes; gorilla allows one concurrent writer
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(frame)
}

// WebSocket handles GET /api/voice/ws. Every text frame is a StreamRequest;
// a new request replaces whatever is still being delivered for its session.
func (h *VoiceHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	ws := &wsConn{conn: conn}
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			_ = ws.write(wsFrame{Event: "rejected", Data: wsRejection{Message: "frames must be JSON text"}})
			continue
		}

		var req StreamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = ws.write(wsFrame{Event: "rejected", Data: wsRejection{Message: ErrInvalidJSON}})
			continue
		}
		if err := req.validate(); err != nil {
			rejection := wsRejection{Message: err.Error()}
			var verr validation.ValidationError
			if errors.As(err, &verr) {
				rejection = wsRejection{Field: verr.Field, Message: verr.Message}
			}
			_ = ws.write(wsFrame{Event: "rejected", Data: rejection})
			continue
		}

		// Processing stays on the read loop so turns keep their arrival
		// order; only delivery runs alongside the next read.
		turn, err := h.voice.Process(ctx, req.utterance())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			status, msg := processError(err)
			h.logger.Warn("failed to process utterance", zap.Int("status", status), zap.Error(err))
			_ = ws.write(wsFrame{Event: "rejected", Data: wsRejection{Message: msg}})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			sink := stream.SinkFunc(func(e stream.Event) error {
				if err := ws.write(wsFrame{Event: string(e.Kind()), Data: e}); err != nil {
					return fmt.Errorf("%w: %v", stream.ErrConsumerGone, err)
				}
				if stream.Terminal(e) {
					h.logger.Debug("turn finished", zap.String("turn_id", turn.TurnID), zap.String("event", string(e.Kind())))
				}
				return nil
			})
			if _, err := h.voice.Deliver(ctx, turn, sink); err != nil {
				h.logger.Warn("delivery failed", zap.String("turn_id", turn.TurnID), zap.Error(err))
			}
		}()
	}
}
