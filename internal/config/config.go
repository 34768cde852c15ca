// Package config loads the service configuration from .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/store"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// DefaultStateDir holds the SQLite databases and the instance lock.
	DefaultStateDir = "/var/lib/bbta"
	// DefaultDBFileName is the conversation store file inside the state directory.
	DefaultDBFileName = "bbta.db"
	// DefaultWhatsAppDBFileName is the whatsmeow device store inside the state directory.
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Transports.
const (
	TransportTwilio   = "twilio"
	TransportWhatsApp = "whatsapp"
	TransportNone     = "none"
)

// Dedup backends.
const (
	DedupMemory = "memory"
	DedupRedis  = "redis"
	DedupStore  = "store"
)

// Config is the full service configuration.
type Config struct {
	StateDir    string `env:"STATE_DIR" envDefault:"/var/lib/bbta"`
	DatabaseURL string `env:"DATABASE_URL"`
	// InMemory keeps everything in process memory (development only).
	InMemory bool   `env:"IN_MEMORY_STORE" envDefault:"false"`
	RedisURL string `env:"REDIS_URL"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	OpenAIKey         string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	ModelTier1        string        `env:"MODEL_TIER1"`
	ModelTier2        string        `env:"MODEL_TIER2"`
	ModelTier3        string        `env:"MODEL_TIER3"`
	CompletionTimeout time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"15s" validate:"gt=0"`

	APIAddr   string `env:"API_ADDR" envDefault:":8080"`
	PublicURL string `env:"PUBLIC_URL"`

	Transport               string        `env:"TRANSPORT" envDefault:"none" validate:"oneof=twilio whatsapp none"`
	SendTimeout             time.Duration `env:"SEND_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	TwilioAccountSID        string        `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken         string        `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber        string        `env:"TWILIO_FROM_NUMBER"`
	TwilioValidateSignature bool          `env:"TWILIO_VALIDATE_SIGNATURE" envDefault:"true"`
	WhatsAppDBDSN           string        `env:"WHATSAPP_DB_DSN"`
	WhatsAppQROutput        string        `env:"WHATSAPP_QR_OUTPUT"`
	WhatsAppNumericCode     bool          `env:"WHATSAPP_NUMERIC_CODE" envDefault:"false"`

	TenantsFile           string        `env:"TENANTS_FILE"`
	TenantCacheTTL        time.Duration `env:"TENANT_CACHE_TTL" envDefault:"5m" validate:"gt=0"`
	TenantNegativeTTL     time.Duration `env:"TENANT_NEGATIVE_TTL" envDefault:"1m" validate:"gt=0"`
	TenantCacheMaxEntries int           `env:"TENANT_CACHE_MAX_ENTRIES" envDefault:"10000" validate:"gt=0"`

	RateLimit       string        `env:"RATE_LIMIT" envDefault:"20-M"`
	DedupBackend    string        `env:"DEDUP_BACKEND" envDefault:"memory" validate:"oneof=memory redis store"`
	DedupTTL        time.Duration `env:"DEDUP_TTL" envDefault:"24h" validate:"gt=0"`
	DedupMaxEntries int           `env:"DEDUP_MAX_ENTRIES" envDefault:"100000" validate:"gt=0"`
	HistoryLimit    int           `env:"HISTORY_LIMIT" envDefault:"10" validate:"gte=0"`

	RetrySchedule     string `env:"RETRY_SCHEDULE" envDefault:"@every 1m"`
	PurgeSchedule     string `env:"PURGE_SCHEDULE" envDefault:"@every 1h"`
	ResendMaxAttempts int    `env:"RESEND_MAX_ATTEMPTS" envDefault:"5" validate:"gt=0"`
}

// LoadEnvFiles loads the given .env files that exist. Variables already set
// in the environment win. It returns how many files were loaded.
func LoadEnvFiles(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Parse reads .env files and the environment without deriving defaults or
// validating, so that command-line flags can still override the result.
func Parse(envFiles ...string) (*Config, error) {
	n, err := LoadEnvFiles(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	slog.Debug("config.Parse: env files loaded", "count", n)

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &c, nil
}

// Load reads .env files, parses the environment and validates the result.
func Load(envFiles ...string) (*Config, error) {
	c, err := Parse(envFiles...)
	if err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyDefaults derives the values that depend on other settings. It is
// idempotent and must be called again after command-line overrides.
func (c *Config) ApplyDefaults() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.DatabaseURL == "" && !c.InMemory {
		c.DatabaseURL = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	if c.WhatsAppDBDSN == "" {
		c.WhatsAppDBDSN = filepath.Join(c.StateDir, DefaultWhatsAppDBFileName)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.DedupBackend == DedupRedis && c.RedisURL == "" {
		return errors.New("invalid configuration: DEDUP_BACKEND=redis requires REDIS_URL")
	}
	if c.DedupBackend == DedupStore && c.InMemory {
		slog.Warn("config: store-backed dedup on the in-memory store does not survive restarts")
	}
	if c.Transport == TransportTwilio && c.TwilioValidateSignature && c.PublicURL == "" {
		return errors.New("invalid configuration: TWILIO_VALIDATE_SIGNATURE requires PUBLIC_URL")
	}
	return nil
}

// SQLite reports whether the conversation store is a local SQLite file.
func (c *Config) SQLite() bool {
	if c.InMemory || c.DatabaseURL == "" {
		return false
	}
	return store.DetectDSNType(c.DatabaseURL) != "postgres"
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
