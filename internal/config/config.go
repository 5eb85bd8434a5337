package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by the loader. Env values always win over
// the config file so deployments can inject secrets without touching disk.
const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvJWTSecret     = "JWT_SECRET"
	EnvJWTExpiry     = "JWT_EXPIRY"
	EnvEncryptionKey = "ENCRYPTION_KEY"
	EnvInternalToken = "INTERNAL_TOKEN"
	EnvResendAPIKey  = "RESEND_API_KEY"
)

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// ErrMissingEncryptionKey indicates the key vault master secret is absent.
// Encrypt and decrypt operations cannot run without it.
var ErrMissingEncryptionKey = errors.New("missing encryption key (set `encryption-key` in config file or ENCRYPTION_KEY)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// MailConfig holds outbound email delivery settings.
type MailConfig struct {
	ResendAPIKey string `yaml:"resend-api-key"`
	From         string `yaml:"from"`
	SupportEmail string `yaml:"support-email"`
}

// RedisConfig holds optional Redis settings for the rate limiter backend.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Config is the resolved application configuration.
type Config struct {
	DatabaseDSN   string      `yaml:"database-dsn"`
	EncryptionKey string      `yaml:"encryption-key"`
	InternalToken string      `yaml:"internal-token"`
	JWT           JWTConfig   `yaml:"jwt"`
	Mail          MailConfig  `yaml:"mail"`
	Redis         RedisConfig `yaml:"redis"`

	// DefaultRateLimit is the requests-per-second cap applied when a user's
	// plan carries no rate limit. Zero leaves such users uncapped.
	DefaultRateLimit int `yaml:"default-rate-limit"`

	// Database nests an alternative DSN location for compatibility with
	// structured config files.
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
}

// ResolveConfigPath normalizes the config path. An explicit path wins, then
// CONFIG_PATH, then ./config.yaml.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// Load reads the config file and applies environment overrides. A missing
// file is not an error when the environment supplies the DSN.
func Load(configPath string) (Config, error) {
	var cfg Config

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	}

	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		cfg.DatabaseDSN = strings.TrimSpace(cfg.Database.DSN)
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return Config{}, ErrMissingDatabaseDSN
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}
	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = defaultJWTExpiry
	}

	if key := strings.TrimSpace(os.Getenv(EnvEncryptionKey)); key != "" {
		cfg.EncryptionKey = key
	}
	if token := strings.TrimSpace(os.Getenv(EnvInternalToken)); token != "" {
		cfg.InternalToken = token
	}
	if apiKey := strings.TrimSpace(os.Getenv(EnvResendAPIKey)); apiKey != "" {
		cfg.Mail.ResendAPIKey = apiKey
	}
	if strings.TrimSpace(cfg.Mail.From) == "" {
		cfg.Mail.From = "Usage Alerts <alerts@tokenguard.dev>"
	}
	if strings.TrimSpace(cfg.Mail.SupportEmail) == "" {
		cfg.Mail.SupportEmail = "support@tokenguard.dev"
	}

	return cfg, nil
}
