package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidvoice/internal/database"
	"kidvoice/internal/models"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createChild(t *testing.T, db *database.DB, id string, enabled bool) {
	t.Helper()
	err := NewChildRepository(db).CreateChild(context.Background(), &models.Child{
		ID:              id,
		Name:            "Ada",
		Age:             7,
		ParentEmail:     "parent@example.com",
		AIVoiceEnabled:  enabled,
		VocabularyLevel: models.VocabularyBeginner,
	})
	require.NoError(t, err)
}

func TestChildRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewChildRepository(db)

	createChild(t, db, "child-1", true)

	child, err := repo.GetChildByID(ctx, "child-1")
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, "Ada", child.Name)
	assert.True(t, child.AIVoiceEnabled)
	assert.Equal(t, models.VocabularyBeginner, child.VocabularyLevel)

	require.NoError(t, repo.SetAIVoiceEnabled(ctx, "child-1", false))
	require.NoError(t, repo.UpdateVocabularyLevel(ctx, "child-1", models.VocabularyIntermediate))

	child, err = repo.GetChildByID(ctx, "child-1")
	require.NoError(t, err)
	assert.False(t, child.AIVoiceEnabled)
	assert.Equal(t, models.VocabularyIntermediate, child.VocabularyLevel)

	missing, err := repo.GetChildByID(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSessionRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db)
	createChild(t, db, "child-1", true)

	started := time.UnixMilli(1_700_000_000_000)
	session, err := repo.EnsureSession(ctx, "s-1", "child-1", started)
	require.NoError(t, err)
	assert.Equal(t, "child-1", session.ChildID)
	assert.True(t, session.StartedAt.Equal(started))
	assert.Nil(t, session.State)

	// Second call keeps the original start time
	again, err := repo.EnsureSession(ctx, "s-1", "child-1", started.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.StartedAt.Equal(started))

	state := models.NewChildState(models.VocabularyIntermediate)
	state.Engagement = 64
	state.Vocabulary = []string{"volcano", "lava"}
	state.EmotionalState = models.EmotionExcited
	require.NoError(t, repo.SaveState(ctx, "s-1", state))

	summary := &models.SessionSummary{Topics: []string{"volcanoes"}, ThinkingQuestion: "Why is lava hot?"}
	require.NoError(t, repo.SaveSummary(ctx, "s-1", summary))

	end := started.Add(10 * time.Minute)
	require.NoError(t, repo.EndSession(ctx, "s-1", end))
	require.NoError(t, repo.EndSession(ctx, "s-1", end.Add(time.Minute)))

	loaded, err := repo.GetSessionByID(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.State)
	assert.Equal(t, 64, loaded.State.Engagement)
	assert.Equal(t, []string{"volcano", "lava"}, loaded.State.Vocabulary)
	assert.Equal(t, models.EmotionExcited, loaded.State.EmotionalState)
	require.NotNil(t, loaded.Summary)
	assert.Equal(t, "Why is lava hot?", loaded.Summary.ThinkingQuestion)
	require.True(t, loaded.IsEnded())
	assert.True(t, loaded.EndedAt.Equal(end))
}

func TestUtteranceRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	createChild(t, db, "child-1", true)
	_, err := NewSessionRepository(db).EnsureSession(ctx, "s-1", "child-1", time.Now())
	require.NoError(t, err)

	repo := NewUtteranceRepository(db)
	base := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 5; i++ {
		speaker := models.SpeakerChild
		if i%2 == 1 {
			speaker = models.SpeakerAIVoice
		}
		u := &models.Utterance{
			SessionID: "s-1",
			Speaker:   speaker,
			Text:      []string{"a", "b", "c", "d", "e"}[i],
			SpokenAt:  base.Add(time.Duration(i) * time.Minute),
			Metadata:  models.UtteranceMetadata{Action: "speak", Confidence: 0.9},
		}
		require.NoError(t, repo.AppendUtterance(ctx, u))
		assert.NotZero(t, u.ID)
	}

	recent, err := repo.RecentUtterances(ctx, "s-1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Text)
	assert.Equal(t, "e", recent[2].Text)
	assert.Equal(t, 0.9, recent[2].Metadata.Confidence)

	all, err := repo.SessionUtterances(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	times, err := repo.InterventionTimes(ctx, "s-1", base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, times, 1)
	assert.True(t, times[0].Equal(base.Add(3*time.Minute)))

	require.NoError(t, repo.UpdateMetadata(ctx, all[0].ID, models.UtteranceMetadata{Source: "review"}))
	all, err = repo.SessionUtterances(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "review", all[0].Metadata.Source)
	assert.Equal(t, "a", all[0].Text)
}

func TestDecisionRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	createChild(t, db, "child-1", true)
	_, err := NewSessionRepository(db).EnsureSession(ctx, "s-1", "child-1", time.Now())
	require.NoError(t, err)

	repo := NewDecisionRepository(db)
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'x'
	}

	d := &models.DecisionRecord{
		SessionID:      "s-1",
		UtteranceID:    7,
		Action:         "observe",
		Reason:         string(long),
		Confidence:     0.4,
		EmotionalState: "engaged",
	}
	require.NoError(t, repo.RecordDecision(ctx, d))
	assert.NotZero(t, d.ID)

	decisions, err := repo.SessionDecisions(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "observe", decisions[0].Action)
	assert.Len(t, decisions[0].Reason, maxReasonLength)
}
