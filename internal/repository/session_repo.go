package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kidvoice/internal/database"
	"kidvoice/internal/models"
)

// SessionRepository handles database operations for sessions
type SessionRepository struct {
	db database.DBTX
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db database.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// EnsureSession returns the session with the given ID, creating it for the
// child when it does not exist yet.
func (r *SessionRepository) EnsureSession(ctx context.Context, sessionID, childID string, startedAt time.Time) (*models.Session, error) {
	insert := r.db.GetDialect().InsertIgnore("sessions", "id", "child_id", "started_at_ms")
	if _, err := r.db.ExecContext(ctx, insert, sessionID, childID, startedAt.UnixMilli()); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	session, err := r.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("failed to create session: %s not found after insert", sessionID)
	}
	return session, nil
}

// GetSessionByID retrieves a session by ID. It returns nil when no session exists.
func (r *SessionRepository) GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	query := "SELECT id, child_id, started_at_ms, ended_at_ms, state_json, summary_json FROM sessions WHERE id = ?"

	var (
		session   models.Session
		startedMs int64
		endedMs   sql.NullInt64
		stateJSON sql.NullString
		summary   sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID,
		&session.ChildID,
		&startedMs,
		&endedMs,
		&stateJSON,
		&summary,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.StartedAt = time.UnixMilli(startedMs)
	if endedMs.Valid {
		ended := time.UnixMilli(endedMs.Int64)
		session.EndedAt = &ended
	}
	if stateJSON.Valid && stateJSON.String != "" {
		var state models.ChildState
		if err := json.Unmarshal([]byte(stateJSON.String), &state); err != nil {
			return nil, fmt.Errorf("failed to decode session state: %w", err)
		}
		state = state.Normalize()
		session.State = &state
	}
	if summary.Valid && summary.String != "" {
		var s models.SessionSummary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return nil, fmt.Errorf("failed to decode session summary: %w", err)
		}
		session.Summary = &s
	}

	return &session, nil
}

// SaveState stores the session's ChildState blob
func (r *SessionRepository) SaveState(ctx context.Context, sessionID string, state models.ChildState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "UPDATE sessions SET state_json = ? WHERE id = ?", string(data), sessionID); err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// SaveSummary stores the session summary blob
func (r *SessionRepository) SaveSummary(ctx context.Context, sessionID string, summary *models.SessionSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode session summary: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "UPDATE sessions SET summary_json = ? WHERE id = ?", string(data), sessionID); err != nil {
		return fmt.Errorf("failed to save session summary: %w", err)
	}
	return nil
}

// EndSession marks a session as ended. Ending an ended session keeps the
// original end time.
func (r *SessionRepository) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	query := "UPDATE sessions SET ended_at_ms = ? WHERE id = ? AND ended_at_ms IS NULL"
	if _, err := r.db.ExecContext(ctx, query, at.UnixMilli(), sessionID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}
