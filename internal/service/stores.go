package service

import (
	"context"
	"time"

	"kidvoice/internal/models"
)

// ChildStore is the slice of the child repository the voice pipeline needs
type ChildStore interface {
	GetChildByID(ctx context.Context, childID string) (*models.Child, error)
	UpdateVocabularyLevel(ctx context.Context, childID string, level models.VocabularyLevel) error
}

// SessionStore persists sessions with their state and summary blobs
type SessionStore interface {
	EnsureSession(ctx context.Context, sessionID, childID string, startedAt time.Time) (*models.Session, error)
	GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error)
	SaveState(ctx context.Context, sessionID string, state models.ChildState) error
	SaveSummary(ctx context.Context, sessionID string, summary *models.SessionSummary) error
	EndSession(ctx context.Context, sessionID string, at time.Time) error
}

// UtteranceStore appends and reads session transcripts
type UtteranceStore interface {
	AppendUtterance(ctx context.Context, u *models.Utterance) error
	UpdateMetadata(ctx context.Context, utteranceID int64, metadata models.UtteranceMetadata) error
	RecentUtterances(ctx context.Context, sessionID string, limit int) ([]models.Utterance, error)
	SessionUtterances(ctx context.Context, sessionID string) ([]models.Utterance, error)
	InterventionTimes(ctx context.Context, sessionID string, since time.Time) ([]time.Time, error)
}

// DecisionStore keeps the internal decision log
type DecisionStore interface {
	RecordDecision(ctx context.Context, d *models.DecisionRecord) error
	SessionDecisions(ctx context.Context, sessionID string) ([]models.DecisionRecord, error)
}

// Stores groups the persistence collaborators
type Stores struct {
	Children   ChildStore
	Sessions   SessionStore
	Utterances UtteranceStore
	Decisions  DecisionStore
}
