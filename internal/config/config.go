// Package config loads service configuration from environment variables
// with sensible defaults and validates it before the application starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - DATABASE_PATH: SQLite database file path (default: ./data/oauth.db)
//   - ENCRYPTION_KEY_PATH: Token encryption key file (default: ./data/token.key)
//
// Security:
//   - JWT_SECRET: Inbound service-API signing secret (required, min 32 chars)
//
// Platform Credentials (repeated for TWITTER, LINKEDIN, FACEBOOK, INSTAGRAM):
//   - <PLATFORM>_CLIENT_ID / <PLATFORM>_CLIENT_SECRET / <PLATFORM>_CALLBACK_URL
//   - TWITTER_CONSUMER_KEY / TWITTER_CONSUMER_SECRET: separate OAuth 1.0a app
//     credentials; the OAuth2 pair is reused when unset
//   - A platform with no client id and secret is disabled, not an error.
//
// Rate Limiting (per platform):
//   - <PLATFORM>_RATE_POLICY: "interval" or "window" (default: interval)
//   - <PLATFORM>_RATE_LIMIT: requests per second for the interval policy
//     (default: 1.0; linkedin defaults to 1.67)
//   - <PLATFORM>_MAX_PER_MINUTE: trailing-minute quota for the window policy
//
// Background Refresh:
//   - SWEEP_SCHEDULE: cron spec for the proactive refresh sweep (default: hourly)
//   - REFRESH_LOOKAHEAD: near-expiry window before literal expiry (default: 1h)
//
// Expiry Notifications:
//   - NOTIFY_ENDPOINT: webhook URL told about refreshed tokens (optional)
//   - NOTIFY_API_KEY: x-api-key sent with notifications
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PlatformNames lists every provider this service can broker for.
var PlatformNames = []string{"twitter", "linkedin", "facebook", "instagram"}

// PlatformConfig holds one provider's registered app credentials and its
// outbound rate-limit settings.
type PlatformConfig struct {
	ClientID       string
	ClientSecret   string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string

	RatePolicy        string
	RequestsPerSecond float64
	MaxPerMinute      int
}

// Enabled reports whether the platform was given credentials. Platforms
// without credentials are skipped at wiring time rather than failing boot.
func (p PlatformConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Config holds all configuration values for the token broker.
type Config struct {
	Port              string
	LogLevel          string
	DatabasePath      string
	EncryptionKeyPath string

	JWTSecret string

	SweepSchedule    string
	RefreshLookahead time.Duration

	NotifyEndpoint string
	NotifyAPIKey   string

	Platforms map[string]PlatformConfig
}

// Load reads configuration from the environment. Call Validate before use.
func Load() *Config {
	c := &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DatabasePath:      getEnv("DATABASE_PATH", "./data/oauth.db"),
		EncryptionKeyPath: getEnv("ENCRYPTION_KEY_PATH", "./data/token.key"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "0 * * * *"),
		RefreshLookahead: getDurationEnv("REFRESH_LOOKAHEAD", time.Hour),

		NotifyEndpoint: getEnv("NOTIFY_ENDPOINT", ""),
		NotifyAPIKey:   getEnv("NOTIFY_API_KEY", ""),

		Platforms: make(map[string]PlatformConfig, len(PlatformNames)),
	}

	for _, name := range PlatformNames {
		prefix := strings.ToUpper(name)
		defaultRate := 1.0
		if name == "linkedin" {
			// 100 requests per minute on the token endpoints.
			defaultRate = 1.67
		}
		c.Platforms[name] = PlatformConfig{
			ClientID:       getEnv(prefix+"_CLIENT_ID", ""),
			ClientSecret:   getEnv(prefix+"_CLIENT_SECRET", ""),
			ConsumerKey:    getEnv(prefix+"_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv(prefix+"_CONSUMER_SECRET", ""),
			CallbackURL:    getEnv(prefix+"_CALLBACK_URL", ""),

			RatePolicy:        getEnv(prefix+"_RATE_POLICY", "interval"),
			RequestsPerSecond: getFloatEnv(prefix+"_RATE_LIMIT", defaultRate),
			MaxPerMinute:      getIntEnv(prefix+"_MAX_PER_MINUTE", 60),
		}
	}
	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required fields and value ranges. A platform missing its
// credentials is tolerated; a platform with partial credentials is not.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.RefreshLookahead <= 0 {
		return fmt.Errorf("REFRESH_LOOKAHEAD must be a positive duration")
	}

	enabled := 0
	for _, name := range PlatformNames {
		p := c.Platforms[name]
		if !p.Enabled() {
			if p.ClientID != "" || p.ClientSecret != "" {
				return fmt.Errorf("%s has partial credentials: both client id and secret are required", name)
			}
			continue
		}
		enabled++
		if p.CallbackURL == "" {
			return fmt.Errorf("%s_CALLBACK_URL is required when %s credentials are set", strings.ToUpper(name), name)
		}
		switch p.RatePolicy {
		case "interval":
			if p.RequestsPerSecond <= 0 {
				return fmt.Errorf("%s_RATE_LIMIT must be positive", strings.ToUpper(name))
			}
		case "window":
			if p.MaxPerMinute <= 0 {
				return fmt.Errorf("%s_MAX_PER_MINUTE must be positive", strings.ToUpper(name))
			}
		default:
			return fmt.Errorf("%s_RATE_POLICY must be 'interval' or 'window'", strings.ToUpper(name))
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no platform credentials configured")
	}

	if c.NotifyEndpoint != "" && c.NotifyAPIKey == "" {
		return fmt.Errorf("NOTIFY_API_KEY is required when NOTIFY_ENDPOINT is set")
	}
	return nil
}
