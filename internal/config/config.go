package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	ServerPort      string
	DatabaseType    string
	DatabasePath    string
	DatabaseURL     string
	StaticFilesPath string

	// Inference backend. Gemini is used when an API key is set, otherwise
	// the HTTP backend when a URL is set, otherwise inference is disabled.
	GeminiAPIKey      string
	GeminiModel       string
	InferenceURL      string
	InferenceTimeout  time.Duration
	SafetyTimeout     time.Duration
	GenerationTimeout time.Duration

	TTSEnabled bool

	SESRegion    string
	SESFromEmail string
	SESFromName  string

	BlockedTermsURL string
	SessionIdleTTL  time.Duration
	StreamRateLimit int // requests per minute per client IP
	Debug           bool

	PolicyPath string
	Policy     Policy
}

// Policy holds the tuning knobs read from the optional policy file.
// Zero values mean "use the compiled default".
type Policy struct {
	ConfidenceThreshold    float64                  `yaml:"confidence_threshold"`
	StruggleIndicatorLimit int                      `yaml:"struggle_indicator_limit"`
	MaxInterventions       int                      `yaml:"max_interventions"`
	InterventionWindow     time.Duration            `yaml:"intervention_window"`
	MinSpacing             time.Duration            `yaml:"min_spacing"`
	EngagementCeiling      int                      `yaml:"engagement_ceiling"`
	DelayFloor             time.Duration            `yaml:"delay_floor"`
	DelayCeiling           time.Duration            `yaml:"delay_ceiling"`
	DelayJitter            time.Duration            `yaml:"delay_jitter"`
	SilenceBaseline        time.Duration            `yaml:"silence_baseline"`
	AdaptiveSilence        bool                     `yaml:"adaptive_silence"`
	SilenceThresholds      map[string]time.Duration `yaml:"silence_thresholds"`
	WordBudget             int                      `yaml:"word_budget"`
	PhraseBanks            map[string][]string      `yaml:"phrase_banks"`
	FallbackPhrases        []string                 `yaml:"fallback_phrases"`
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		ServerPort:        getEnv("PORT", "8080"),
		DatabaseType:      getEnv("DB_TYPE", "sqlite"),
		DatabasePath:      getEnv("DB_PATH", "./kidvoice.db"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		StaticFilesPath:   getEnv("STATIC_PATH", "./static"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		InferenceURL:      getEnv("INFERENCE_URL", ""),
		InferenceTimeout:  getEnvDuration("INFERENCE_TIMEOUT", 4*time.Second),
		SafetyTimeout:     getEnvDuration("SAFETY_TIMEOUT", 3*time.Second),
		GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 3*time.Second),
		TTSEnabled:        getEnvBool("TTS_ENABLED", false),
		SESRegion:         getEnv("SES_REGION", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Kid Voice"),
		BlockedTermsURL:   getEnv("BLOCKED_TERMS_URL", ""),
		SessionIdleTTL:    getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		StreamRateLimit:   getEnvInt("STREAM_RATE_LIMIT", 60),
		Debug:             getEnvBool("DEBUG", false),
		PolicyPath:        getEnv("POLICY_PATH", ""),
	}

	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "sqlite3" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for DB_TYPE=%s", cfg.DatabaseType)
	}

	if cfg.PolicyPath != "" {
		policy, err := LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return nil, err
		}
		cfg.Policy = *policy
	}

	return cfg, nil
}

// LoadPolicy reads a YAML policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if policy.ConfidenceThreshold < 0 || policy.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence_threshold must be within [0,1], got %v", policy.ConfidenceThreshold)
	}
	if policy.DelayFloor > 0 && policy.DelayCeiling > 0 && policy.DelayFloor > policy.DelayCeiling {
		return nil, fmt.Errorf("delay_floor %s exceeds delay_ceiling %s", policy.DelayFloor, policy.DelayCeiling)
	}

	return &policy, nil
}

// EmailEnabled reports whether parent summaries can be emailed
func (c *Config) EmailEnabled() bool {
	return c.SESRegion != "" && c.SESFromEmail != ""
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("4s") or bare integers as seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
