package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-pricematch.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database DatabaseConfig `yaml:"database"`
	Matching MatchingConfig `yaml:"matching"`
	Learning LearningConfig `yaml:"learning"`
	Encoder  EncoderConfig  `yaml:"encoder"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_pricematch"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// MatchingConfig controls the match resolver and price comparator.
type MatchingConfig struct {
	// TolerancePercent is the default OK band width passed to the comparator.
	TolerancePercent float64 `yaml:"tolerance_percent" env:"MATCH_TOLERANCE_PERCENT" env-default:"2.0"`
	// MinimumConfidence promotes a semantic match to an automatic verdict.
	// Semantic matches below it are reported as NO_MATCH with a suggestion.
	MinimumConfidence float64 `yaml:"minimum_confidence" env:"MATCH_MINIMUM_CONFIDENCE" env-default:"0.70"`
	// AcceptanceFloor is the lowest semantic score the resolver returns at all.
	AcceptanceFloor float64 `yaml:"acceptance_floor" env:"MATCH_ACCEPTANCE_FLOOR" env-default:"0.30"`
	// CodeConfidenceFloor is the confidence granted to an exact article-code hit.
	CodeConfidenceFloor float64       `yaml:"code_confidence_floor" env:"MATCH_CODE_CONFIDENCE_FLOOR" env-default:"0.90"`
	NegativeCacheTTL    time.Duration `yaml:"negative_cache_ttl" env:"MATCH_NEGATIVE_CACHE_TTL" env-default:"10m"`
}

// LearningConfig controls the feedback loop.
type LearningConfig struct {
	// Enabled=false turns confirm/reject into no-ops and skips verified overrides.
	Enabled bool `yaml:"enabled" env:"LEARNING_ENABLED" env-default:"true"`
}

// EncoderConfig describes the embedding backend. An empty BaseURL or ModelName
// leaves the encoder unavailable and matching runs on the lexical fallback.
type EncoderConfig struct {
	ModelName     string        `yaml:"model_name" env:"ENCODER_MODEL_NAME" env-default:""`
	BaseURL       string        `yaml:"base_url" env:"ENCODER_BASE_URL" env-default:""`
	APIKey        string        `yaml:"-" env:"ENCODER_API_KEY"` // Secret - not in YAML
	CacheSize     int           `yaml:"cache_size" env:"ENCODER_CACHE_SIZE" env-default:"0"`
	CachePath     string        `yaml:"cache_path" env:"ENCODER_CACHE_PATH" env-default:""`
	BatchSize     int           `yaml:"batch_size" env:"ENCODER_BATCH_SIZE" env-default:"64"`
	MaxConcurrent int           `yaml:"max_concurrent" env:"ENCODER_MAX_CONCURRENT" env-default:"4"`
	InitTimeout   time.Duration `yaml:"init_timeout" env:"ENCODER_INIT_TIMEOUT" env-default:"10s"`
}

// IsConfigured returns true if an embedding endpoint and model are set.
func (c *EncoderConfig) IsConfigured() bool {
	return c.BaseURL != "" && c.ModelName != ""
}

// Load reads configuration from the YAML file at path with environment variable overrides.
// A missing file is not an error: defaults and environment variables still apply.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		if !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Encoder.BaseURL = ResolveURLForDocker(cfg.Encoder.BaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks value ranges that cleanenv cannot express.
func (c *Config) Validate() error {
	m := c.Matching
	if m.TolerancePercent < 0 {
		return fmt.Errorf("matching.tolerance_percent must not be negative, got %v", m.TolerancePercent)
	}
	for name, v := range map[string]float64{
		"matching.minimum_confidence":    m.MinimumConfidence,
		"matching.acceptance_floor":      m.AcceptanceFloor,
		"matching.code_confidence_floor": m.CodeConfidenceFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.Encoder.CacheSize < 0 {
		return fmt.Errorf("encoder.cache_size must not be negative, got %d", c.Encoder.CacheSize)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
