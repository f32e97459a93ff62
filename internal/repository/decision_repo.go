package repository

import (
	"context"
	"fmt"
	"time"

	"kidvoice/internal/database"
	"kidvoice/internal/models"
)

// maxReasonLength matches the narrowest reason column across dialects
const maxReasonLength = 255

// DecisionRepository stores the internal decision log
type DecisionRepository struct {
	db database.DBTX
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db database.DBTX) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// RecordDecision appends a decision log row and sets its ID
func (r *DecisionRepository) RecordDecision(ctx context.Context, d *models.DecisionRecord) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	reason := d.Reason
	if runes := []rune(reason); len(runes) > maxReasonLength {
		reason = string(runes[:maxReasonLength])
	}

	query := `
		INSERT INTO decision_log (session_id, utterance_id, action, reason, confidence, emotional_state, delay_ms, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query,
		d.SessionID,
		d.UtteranceID,
		d.Action,
		reason,
		d.Confidence,
		d.EmotionalState,
		d.DelayMs,
		d.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}

	d.ID = id
	return nil
}

// SessionDecisions returns the decision log for a session, oldest first
func (r *DecisionRepository) SessionDecisions(ctx context.Context, sessionID string) ([]models.DecisionRecord, error) {
	query := `
		SELECT id, session_id, utterance_id, action, reason, confidence, emotional_state, delay_ms, created_at_ms
		FROM decision_log
		WHERE session_id = ?
		ORDER BY created_at_ms ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []models.DecisionRecord
	for rows.Next() {
		var (
			d         models.DecisionRecord
			createdMs int64
		)
		if err := rows.Scan(
			&d.ID,
			&d.SessionID,
			&d.UtteranceID,
			&d.Action,
			&d.Reason,
			&d.Confidence,
			&d.EmotionalState,
			&d.DelayMs,
			&createdMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.CreatedAt = time.UnixMilli(createdMs)
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}
