/**
 * @description
 * This package handles configuration management for the claimer. It uses Viper to
 * read settings from environment variables and an optional .env file, applies
 * defaults and validates the combinations that cannot work together.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading.
 */

package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Ledger backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config holds all configuration for a claimer process.
type Config struct {
	BrowserDir          string `mapstructure:"BROWSER_DIR"`
	Headless            bool   `mapstructure:"HEADLESS"`
	Width               int    `mapstructure:"WIDTH"`
	Height              int    `mapstructure:"HEIGHT"`
	TimeoutSeconds      int    `mapstructure:"TIMEOUT_SECONDS"`
	LoginTimeoutSeconds int    `mapstructure:"LOGIN_TIMEOUT_SECONDS"`
	DryRun              bool   `mapstructure:"DRYRUN"`

	Email            string `mapstructure:"PG_EMAIL"`
	Password         string `mapstructure:"PG_PASSWORD"`
	OTPKey           string `mapstructure:"PG_OTPKEY"`
	Redeem           bool   `mapstructure:"PG_REDEEM"`
	ClaimDLC         bool   `mapstructure:"PG_CLAIMDLC"`
	RetryUnlinked    bool   `mapstructure:"PG_RETRY_UNLINKED"`
	LegacyGamesEmail string `mapstructure:"LEGACY_GAMES_EMAIL"`

	LedgerBackend    string `mapstructure:"LEDGER_BACKEND"`
	LedgerSQLitePath string `mapstructure:"LEDGER_SQLITE_PATH"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	MongoURI         string `mapstructure:"MONGO_URI"`
	MongoDB          string `mapstructure:"MONGO_DB"`

	RedisURL            string `mapstructure:"REDIS_URL"`
	RedisLockPrefix     string `mapstructure:"REDIS_LOCK_PREFIX"`
	RedisLockTTLSeconds int    `mapstructure:"REDIS_LOCK_TTL_SECONDS"`

	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	NotifyExchange   string `mapstructure:"NOTIFY_EXCHANGE"`
	NotifyRoutingKey string `mapstructure:"NOTIFY_ROUTING_KEY"`
	NotifyURL        string `mapstructure:"NOTIFY_URL"`

	ScreenshotDir     string `mapstructure:"SCREENSHOT_DIR"`
	S3Bucket          string `mapstructure:"S3_BUCKET"`
	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	ClaimSchedule        string `mapstructure:"CLAIM_SCHEDULE"`
	StatusPort           string `mapstructure:"STATUS_PORT"`
	StatusAllowedOrigins string `mapstructure:"STATUS_ALLOWED_ORIGINS"`
	StatusJWTSecret      string `mapstructure:"STATUS_JWT_SECRET"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var keys = []string{
	"BROWSER_DIR", "HEADLESS", "WIDTH", "HEIGHT", "TIMEOUT_SECONDS", "LOGIN_TIMEOUT_SECONDS", "DRYRUN",
	"PG_EMAIL", "PG_PASSWORD", "PG_OTPKEY", "PG_REDEEM", "PG_CLAIMDLC", "PG_RETRY_UNLINKED", "LEGACY_GAMES_EMAIL",
	"LEDGER_BACKEND", "LEDGER_SQLITE_PATH", "DATABASE_URL", "MONGO_URI", "MONGO_DB",
	"REDIS_URL", "REDIS_LOCK_PREFIX", "REDIS_LOCK_TTL_SECONDS",
	"RABBITMQ_URL", "NOTIFY_EXCHANGE", "NOTIFY_ROUTING_KEY", "NOTIFY_URL",
	"SCREENSHOT_DIR", "S3_BUCKET", "S3_ENDPOINT", "S3_REGION", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	"CLAIM_SCHEDULE", "STATUS_PORT", "STATUS_ALLOWED_ORIGINS", "STATUS_JWT_SECRET",
	"LOG_LEVEL", "LOG_FORMAT",
}

// LoadConfig reads configuration from environment variables and an optional .env
// file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	viper.SetDefault("BROWSER_DIR", "data/browser")
	viper.SetDefault("HEADLESS", true)
	viper.SetDefault("WIDTH", 1280)
	viper.SetDefault("HEIGHT", 1280)
	viper.SetDefault("TIMEOUT_SECONDS", 60)
	viper.SetDefault("LOGIN_TIMEOUT_SECONDS", 180)
	viper.SetDefault("LEDGER_BACKEND", BackendSQLite)
	viper.SetDefault("LEDGER_SQLITE_PATH", "data/claims.db")
	viper.SetDefault("MONGO_DB", "free_games_claimer")
	viper.SetDefault("REDIS_LOCK_PREFIX", "claimer:lock")
	viper.SetDefault("REDIS_LOCK_TTL_SECONDS", 3600)
	viper.SetDefault("NOTIFY_EXCHANGE", "claimer.notifications")
	viper.SetDefault("NOTIFY_ROUTING_KEY", "notification.digest")
	viper.SetDefault("SCREENSHOT_DIR", "data/screenshots")
	viper.SetDefault("S3_REGION", "auto")
	viper.SetDefault("STATUS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	// The .env file is optional.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}

	config.LedgerBackend = strings.ToLower(strings.TrimSpace(config.LedgerBackend))
	config.LogFormat = strings.ToLower(strings.TrimSpace(config.LogFormat))
	if strings.TrimSpace(config.LegacyGamesEmail) == "" {
		config.LegacyGamesEmail = config.Email
	}

	return config, config.validate()
}

func (c Config) validate() error {
	switch c.LedgerBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.LedgerSQLitePath) == "" {
			return fmt.Errorf("LEDGER_SQLITE_PATH is required for the %s ledger backend", BackendSQLite)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s ledger backend", BackendPostgres)
		}
	case BackendMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("MONGO_URI is required for the %s ledger backend", BackendMongo)
		}
	default:
		return fmt.Errorf("unsupported LEDGER_BACKEND %q", c.LedgerBackend)
	}

	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("TIMEOUT_SECONDS must be positive, got %d", c.TimeoutSeconds)
	}
	if c.LoginTimeoutSeconds <= 0 {
		return fmt.Errorf("LOGIN_TIMEOUT_SECONDS must be positive, got %d", c.LoginTimeoutSeconds)
	}
	if c.RedisLockTTLSeconds <= 0 {
		return fmt.Errorf("REDIS_LOCK_TTL_SECONDS must be positive, got %d", c.RedisLockTTLSeconds)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.S3Bucket != "" && (c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when S3_BUCKET is set")
	}
	return nil
}

// Timeout is the default wait applied to every surface interaction.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RedisLockTTL is how long a run lock outlives a run that stopped refreshing it.
func (c Config) RedisLockTTL() time.Duration {
	return time.Duration(c.RedisLockTTLSeconds) * time.Second
}

// LoginTimeout replaces Timeout while signing in.
func (c Config) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSeconds) * time.Second
}

// AllowedOrigins splits STATUS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.StatusAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Namespace is the ledger partition of the configured account.
func (c Config) Namespace(user string) string {
	if user = strings.TrimSpace(user); user != "" {
		return user
	}
	if c.Email != "" {
		return c.Email
	}
	return "default"
}
