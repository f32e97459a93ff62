package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_TYPE", "INFERENCE_TIMEOUT", "TTS_ENABLED", "POLICY_PATH", "DATABASE_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, 4*time.Second, cfg.InferenceTimeout)
	assert.False(t, cfg.TTSEnabled)
	assert.False(t, cfg.EmailEnabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("INFERENCE_TIMEOUT", "2")
	t.Setenv("SAFETY_TIMEOUT", "750ms")
	t.Setenv("TTS_ENABLED", "true")
	t.Setenv("STREAM_RATE_LIMIT", "5")
	t.Setenv("SES_REGION", "eu-west-1")
	t.Setenv("SES_FROM_EMAIL", "noreply@example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 2*time.Second, cfg.InferenceTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.SafetyTimeout)
	assert.True(t, cfg.TTSEnabled)
	assert.Equal(t, 5, cfg.StreamRateLimit)
	assert.True(t, cfg.EmailEnabled())
}

func TestLoadRequiresURLForServerDatabases(t *testing.T) {
	t.Setenv("DB_TYPE", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
confidence_threshold: 0.8
max_interventions: 2
min_spacing: 30s
adaptive_silence: true
silence_thresholds:
  engaged: 12s
  frustrated: 5s
phrase_banks:
  silence:
    - "What are you thinking about?"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, 0.8, policy.ConfidenceThreshold)
	assert.Equal(t, 2, policy.MaxInterventions)
	assert.Equal(t, 30*time.Second, policy.MinSpacing)
	assert.True(t, policy.AdaptiveSilence)
	assert.Equal(t, 5*time.Second, policy.SilenceThresholds["frustrated"])
	assert.Equal(t, []string{"What are you thinking about?"}, policy.PhraseBanks["silence"])
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"threshold on percent scale", "confidence_threshold: 70\n"},
		{"floor above ceiling", "delay_floor: 10s\ndelay_ceiling: 2s\n"},
		{"malformed yaml", "max_interventions: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := LoadPolicy(path)
			assert.Error(t, err)
		})
	}
}
