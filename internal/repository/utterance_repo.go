package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kidvoice/internal/database"
	"kidvoice/internal/models"
)

// UtteranceRepository handles database operations for utterances
type UtteranceRepository struct {
	db database.DBTX
}

// NewUtteranceRepository creates a new utterance repository
func NewUtteranceRepository(db database.DBTX) *UtteranceRepository {
	return &UtteranceRepository{db: db}
}

// AppendUtterance stores an utterance and sets its ID
func (r *UtteranceRepository) AppendUtterance(ctx context.Context, u *models.Utterance) error {
	metadata, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode utterance metadata: %w", err)
	}

	query := "INSERT INTO utterances (session_id, speaker, text, spoken_at_ms, metadata_json) VALUES (?, ?, ?, ?, ?)"
	id, err := r.db.ExecReturningID(ctx, query, u.SessionID, string(u.Speaker), u.Text, u.SpokenAt.UnixMilli(), string(metadata))
	if err != nil {
		return fmt.Errorf("failed to append utterance: %w", err)
	}

	u.ID = id
	return nil
}

// UpdateMetadata replaces the internal metadata of an utterance. Text and
// speaker are immutable.
func (r *UtteranceRepository) UpdateMetadata(ctx context.Context, utteranceID int64, metadata models.UtteranceMetadata) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode utterance metadata: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "UPDATE utterances SET metadata_json = ? WHERE id = ?", string(data), utteranceID); err != nil {
		return fmt.Errorf("failed to update utterance metadata: %w", err)
	}
	return nil
}

// RecentUtterances returns up to limit of the newest utterances in a
// session, oldest first.
func (r *UtteranceRepository) RecentUtterances(ctx context.Context, sessionID string, limit int) ([]models.Utterance, error) {
	query := `
		SELECT id, session_id, speaker, text, spoken_at_ms, metadata_json
		FROM utterances
		WHERE session_id = ?
		ORDER BY spoken_at_ms DESC, id DESC
		LIMIT ?
	`
	utterances, err := r.query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(utterances)-1; i < j; i, j = i+1, j-1 {
		utterances[i], utterances[j] = utterances[j], utterances[i]
	}
	return utterances, nil
}

// SessionUtterances returns every utterance in a session, oldest first
func (r *UtteranceRepository) SessionUtterances(ctx context.Context, sessionID string) ([]models.Utterance, error) {
	query := `
		SELECT id, session_id, speaker, text, spoken_at_ms, metadata_json
		FROM utterances
		WHERE session_id = ?
		ORDER BY spoken_at_ms ASC, id ASC
	`
	return r.query(ctx, query, sessionID)
}

// InterventionTimes returns when the AI voice spoke in a session since the given time
func (r *UtteranceRepository) InterventionTimes(ctx context.Context, sessionID string, since time.Time) ([]time.Time, error) {
	query := `
		SELECT spoken_at_ms
		FROM utterances
		WHERE session_id = ? AND speaker = ? AND spoken_at_ms >= ?
		ORDER BY spoken_at_ms ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, string(models.SpeakerAIVoice), since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query intervention times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("failed to scan intervention time: %w", err)
		}
		times = append(times, time.UnixMilli(ms))
	}
	return times, rows.Err()
}

func (r *UtteranceRepository) query(ctx context.Context, query string, args ...interface{}) ([]models.Utterance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query utterances: %w", err)
	}
	defer rows.Close()

	var utterances []models.Utterance
	for rows.Next() {
		var (
			u        models.Utterance
			speaker  string
			spokenMs int64
			metadata string
		)
		if err := rows.Scan(&u.ID, &u.SessionID, &speaker, &u.Text, &spokenMs, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan utterance: %w", err)
		}
		u.Speaker = models.Speaker(speaker)
		u.SpokenAt = time.UnixMilli(spokenMs)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &u.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode utterance metadata: %w", err)
			}
		}
		utterances = append(utterances, u)
	}

	return utterances, rows.Err()
}
