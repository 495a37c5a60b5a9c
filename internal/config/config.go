package config

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/text/language"
)

// Config holds all application configuration, read from environment
// variables with sensible defaults.
//
// Environment Variables:
// AI Provider Configuration:
// - AI_API_KEY: API key for the primary provider (required)
// - AI_API_URL: primary API endpoint (default: https://api.openai.com/v1)
// - AI_AUDIO_MODEL: speech-to-text model (default: whisper-1)
// - AI_CHAT_MODEL: correction/speaker model (default: gpt-4o-mini)
// - AI_TIMEOUT: per-request timeout in seconds (default: 120)
// - FALLBACK_AI_API_KEY: API key of the secondary provider (optional; no
//   fallback when unset)
// - FALLBACK_AI_API_URL, FALLBACK_AI_AUDIO_MODEL, FALLBACK_AI_CHAT_MODEL,
//   FALLBACK_AI_TIMEOUT: secondary provider settings
//
// HTTP Configuration:
// - HTTP_ADDR: listen address (default: :8080)
// - MAX_UPLOAD_MB: upload size cap in MiB (default: 50)
//
// Job Configuration:
// - JOB_STORE_CAPACITY: in-memory registry size (default: 500)
// - JOB_TIMEOUT_SECONDS: wall-clock limit per job (default: 600)
// - JOB_RETENTION_MINUTES: terminal jobs older than this are pruned (default: 120)
// - JOB_PRUNE_CRON: prune schedule (default: */15 * * * *)
// - DEFAULT_LANGUAGE: default transcription language hint (optional)
//
// Storage / Auth:
// - DB_PATH: sqlite database path (default: ./data/openscribe.db)
// - ADMIN_API_TOKEN: seeds an admin account at boot (optional)
// - LOG_LEVEL: debug|info|warn|error|fatal (default: info)

type Config struct {
	HTTP     HTTPConfig
	Jobs     JobsConfig
	Primary  ProviderConfig
	Fallback ProviderConfig
	DBPath   string

	AdminAPIToken string
	LogLevel      string
}

type HTTPConfig struct {
	Addr        string
	MaxUploadMB int
}

type JobsConfig struct {
	StoreCapacity    int
	TimeoutSeconds   int
	RetentionMinutes int
	PruneCronExpr    string
	DefaultLanguage  string
}

// ProviderConfig describes one OpenAI-compatible AI provider.
type ProviderConfig struct {
	Name       string
	APIKey     string
	APIURL     string
	AudioModel string
	ChatModel  string
	Timeout    int
}

// Enabled reports whether the provider is configured at all. Used for the
// optional fallback provider.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// Option is a function type for adjusting Config after env parsing.
type Option func(*Config)

// New creates a Config from environment variables and options.
func New(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8080"),
			MaxUploadMB: getEnvInt("MAX_UPLOAD_MB", 50),
		},
		Jobs: JobsConfig{
			StoreCapacity:    getEnvInt("JOB_STORE_CAPACITY", 500),
			TimeoutSeconds:   getEnvInt("JOB_TIMEOUT_SECONDS", 600),
			RetentionMinutes: getEnvInt("JOB_RETENTION_MINUTES", 120),
			PruneCronExpr:    getEnvString("JOB_PRUNE_CRON", "*/15 * * * *"),
			DefaultLanguage:  getEnvString("DEFAULT_LANGUAGE", ""),
		},
		Primary: ProviderConfig{
			Name:       "primary",
			APIKey:     getEnvString("AI_API_KEY", ""),
			APIURL:     getEnvString("AI_API_URL", "https://api.openai.com/v1"),
			AudioModel: getEnvString("AI_AUDIO_MODEL", "whisper-1"),
			ChatModel:  getEnvString("AI_CHAT_MODEL", "gpt-4o-mini"),
			Timeout:    getEnvInt("AI_TIMEOUT", 120),
		},
		Fallback: ProviderConfig{
			Name:       "fallback",
			APIKey:     getEnvString("FALLBACK_AI_API_KEY", ""),
			APIURL:     getEnvString("FALLBACK_AI_API_URL", "https://api.openai.com/v1"),
			AudioModel: getEnvString("FALLBACK_AI_AUDIO_MODEL", "whisper-1"),
			ChatModel:  getEnvString("FALLBACK_AI_CHAT_MODEL", "gpt-4o-mini"),
			Timeout:    getEnvInt("FALLBACK_AI_TIMEOUT", 120),
		},
		DBPath:        getEnvString("DB_PATH", "./data/openscribe.db"),
		AdminAPIToken: getEnvString("ADMIN_API_TOKEN", ""),
		LogLevel:      getEnvString("LOG_LEVEL", "info"),
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set.
func (c *Config) validate() error {
	if c.Primary.APIKey == "" {
		return fmt.Errorf("AI_API_KEY is required")
	}
	if c.Jobs.DefaultLanguage != "" {
		if _, err := language.Parse(c.Jobs.DefaultLanguage); err != nil {
			return fmt.Errorf("DEFAULT_LANGUAGE %q is not a valid language tag: %w", c.Jobs.DefaultLanguage, err)
		}
	}
	return nil
}

// getEnvString gets a string value from environment variables with default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
