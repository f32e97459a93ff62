package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"kidvoice/internal/logger"
	"kidvoice/internal/models"
	"kidvoice/internal/safety"
)

const transcriptVersion = "1.0"

// TranscriptExport is the parent/operator view of one session
type TranscriptExport struct {
	Version    string                 `json:"version"`
	ExportedAt time.Time              `json:"exported_at"`
	SessionID  string                 `json:"session_id"`
	ChildID    string                 `json:"child_id"`
	StartedAt  time.Time              `json:"started_at"`
	EndedAt    *time.Time             `json:"ended_at,omitempty"`
	Summary    *models.SessionSummary `json:"summary,omitempty"`
	Utterances []UtteranceExport      `json:"utterances"`
	Decisions  []DecisionExport       `json:"decisions"`
}

// UtteranceExport represents an utterance record for export
type UtteranceExport struct {
	Speaker  models.Speaker           `json:"speaker"`
	Text     string                   `json:"text"`
	Redacted bool                     `json:"redacted,omitempty"`
	SpokenAt time.Time                `json:"spoken_at"`
	Metadata models.UtteranceMetadata `json:"metadata"`
}

// DecisionExport represents a decision log row for export
type DecisionExport struct {
	Action         string    `json:"action"`
	Reason         string    `json:"reason"`
	Confidence     float64   `json:"confidence"`
	EmotionalState string    `json:"emotional_state"`
	DelayMs        int64     `json:"delay_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExportService writes filtered session transcripts
type ExportService struct {
	stores Stores
	filter *safety.ParentFilter
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService creates a new export service
func NewExportService(stores Stores, l *zap.Logger) *ExportService {
	return &ExportService{
		stores: stores,
		filter: safety.NewParentFilter(),
		logger: logger.OrNop(l).Named("export"),
		now:    time.Now,
	}
}

// Export writes the session transcript to a file
func (s *ExportService) Export(ctx context.Context, sessionID, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := s.ExportToWriter(ctx, sessionID, file); err != nil {
		return err
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	s.logger.Info("transcript exported", zap.String("session_id", sessionID), zap.String("path", outputPath))
	return nil
}

// ExportToWriter writes the session transcript to w
func (s *ExportService) ExportToWriter(ctx context.Context, sessionID string, w io.Writer) error {
	transcript, err := s.Build(ctx, sessionID)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(transcript); err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	return nil
}

// Build assembles the filtered transcript for a session
func (s *ExportService) Build(ctx context.Context, sessionID string) (*TranscriptExport, error) {
	session, err := s.stores.Sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	utterances, err := s.stores.Utterances.SessionUtterances(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to export utterances: %w", err)
	}
	decisions, err := s.stores.Decisions.SessionDecisions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to export decisions: %w", err)
	}

	transcript := &TranscriptExport{
		Version:    transcriptVersion,
		ExportedAt: s.now(),
		SessionID:  session.ID,
		ChildID:    session.ChildID,
		StartedAt:  session.StartedAt,
		EndedAt:    session.EndedAt,
		Summary:    session.Summary,
		Utterances: make([]UtteranceExport, 0, len(utterances)),
		Decisions:  make([]DecisionExport, 0, len(decisions)),
	}

	for _, u := range utterances {
		text := s.filter.Filter(u.Text)
		metadata := u.Metadata
		metadata.Reasoning = s.filter.Filter(metadata.Reasoning).Text
		transcript.Utterances = append(transcript.Utterances, UtteranceExport{
			Speaker:  u.Speaker,
			Text:     text.Text,
			Redacted: text.Redacted,
			SpokenAt: u.SpokenAt,
			Metadata: metadata,
		})
	}

	for _, d := range decisions {
		transcript.Decisions = append(transcript.Decisions, DecisionExport{
			Action:         d.Action,
			Reason:         s.filter.Filter(d.Reason).Text,
			Confidence:     d.Confidence,
			EmotionalState: d.EmotionalState,
			DelayMs:        d.DelayMs,
			CreatedAt:      d.CreatedAt,
		})
	}

	s.logger.Debug("transcript built",
		zap.String("session_id", sessionID),
		zap.Int("utterances", len(transcript.Utterances)),
		zap.Int("decisions", len(transcript.Decisions)))

	return transcript, nil
}
