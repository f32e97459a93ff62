package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kidvoice/internal/database"
	"kidvoice/internal/models"
)

// ChildRepository handles database operations for children
type ChildRepository struct {
	db database.DBTX
}

// NewChildRepository creates a new child repository
func NewChildRepository(db database.DBTX) *ChildRepository {
	return &ChildRepository{db: db}
}

// CreateChild creates a new child profile
func (r *ChildRepository) CreateChild(ctx context.Context, child *models.Child) error {
	query := `
		INSERT INTO children (id, name, age, parent_email, ai_voice_enabled, vocabulary_level, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		child.ID,
		child.Name,
		child.Age,
		child.ParentEmail,
		child.AIVoiceEnabled,
		child.VocabularyLevel.String(),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create child: %w", err)
	}
	return nil
}

// GetChildByID retrieves a child by ID. It returns nil when no child exists.
func (r *ChildRepository) GetChildByID(ctx context.Context, childID string) (*models.Child, error) {
	query := "SELECT id, name, age, parent_email, ai_voice_enabled, vocabulary_level FROM children WHERE id = ?"
	child := &models.Child{}
	var level string
	err := r.db.QueryRowContext(ctx, query, childID).Scan(
		&child.ID,
		&child.Name,
		&child.Age,
		&child.ParentEmail,
		&child.AIVoiceEnabled,
		&level,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get child: %w", err)
	}

	child.VocabularyLevel, _ = models.ParseVocabularyLevel(level)
	return child, nil
}

// SetAIVoiceEnabled flips the per-child AI voice flag
func (r *ChildRepository) SetAIVoiceEnabled(ctx context.Context, childID string, enabled bool) error {
	query := "UPDATE children SET ai_voice_enabled = ?, updated_at_ms = ? WHERE id = ?"
	if _, err := r.db.ExecContext(ctx, query, enabled, time.Now().UnixMilli(), childID); err != nil {
		return fmt.Errorf("failed to update ai voice flag: %w", err)
	}
	return nil
}

// UpdateVocabularyLevel records the child's current vocabulary level
func (r *ChildRepository) UpdateVocabularyLevel(ctx context.Context, childID string, level models.VocabularyLevel) error {
	query := "UPDATE children SET vocabulary_level = ?, updated_at_ms = ? WHERE id = ?"
	if _, err := r.db.ExecContext(ctx, query, level.String(), time.Now().UnixMilli(), childID); err != nil {
		return fmt.Errorf("failed to update vocabulary level: %w", err)
	}
	return nil
}
