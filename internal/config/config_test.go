package config

import (
	"os"
	"testing"
	"time"
)

var testEnvVars = []string{
	"PORT", "LOG_LEVEL", "DATABASE_PATH", "ENCRYPTION_KEY_PATH", "JWT_SECRET",
	"SWEEP_SCHEDULE", "REFRESH_LOOKAHEAD", "NOTIFY_ENDPOINT", "NOTIFY_API_KEY",
	"TWITTER_CLIENT_ID", "TWITTER_CLIENT_SECRET", "TWITTER_CONSUMER_KEY",
	"TWITTER_CONSUMER_SECRET", "TWITTER_CALLBACK_URL", "TWITTER_RATE_POLICY",
	"TWITTER_RATE_LIMIT", "TWITTER_MAX_PER_MINUTE",
	"LINKEDIN_CLIENT_ID", "LINKEDIN_CLIENT_SECRET", "LINKEDIN_CALLBACK_URL",
	"LINKEDIN_RATE_LIMIT",
	"FACEBOOK_CLIENT_ID", "FACEBOOK_CLIENT_SECRET", "FACEBOOK_CALLBACK_URL",
	"INSTAGRAM_CLIENT_ID", "INSTAGRAM_CLIENT_SECRET", "INSTAGRAM_CALLBACK_URL",
}

func clearTestEnvVars() {
	for _, key := range testEnvVars {
		os.Unsetenv(key)
	}
}

const validSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	clearTestEnvVars()

	c := Load()

	if c.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", c.Port)
	}
	if c.LogLevel != "info" {
		t.Errorf("Load() LogLevel = %v, want info", c.LogLevel)
	}
	if c.DatabasePath != "./data/oauth.db" {
		t.Errorf("Load() DatabasePath = %v, want ./data/oauth.db", c.DatabasePath)
	}
	if c.SweepSchedule != "0 * * * *" {
		t.Errorf("Load() SweepSchedule = %v, want hourly", c.SweepSchedule)
	}
	if c.RefreshLookahead != time.Hour {
		t.Errorf("Load() RefreshLookahead = %v, want 1h", c.RefreshLookahead)
	}

	if got := c.Platforms["linkedin"].RequestsPerSecond; got != 1.67 {
		t.Errorf("linkedin default rate = %v, want 1.67", got)
	}
	if got := c.Platforms["twitter"].RequestsPerSecond; got != 1.0 {
		t.Errorf("twitter default rate = %v, want 1.0", got)
	}
	if c.Platforms["twitter"].Enabled() {
		t.Error("twitter should be disabled without credentials")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearTestEnvVars()
	defer clearTestEnvVars()

	os.Setenv("PORT", "9090")
	os.Setenv("TWITTER_CLIENT_ID", "tw-id")
	os.Setenv("TWITTER_CLIENT_SECRET", "tw-secret")
	os.Setenv("TWITTER_CONSUMER_KEY", "tw-ck")
	os.Setenv("TWITTER_CONSUMER_SECRET", "tw-cs")
	os.Setenv("TWITTER_CALLBACK_URL", "https://svc.example/oauth/twitter/callback")
	os.Setenv("TWITTER_RATE_POLICY", "window")
	os.Setenv("TWITTER_MAX_PER_MINUTE", "25")
	os.Setenv("REFRESH_LOOKAHEAD", "30m")

	c := Load()

	if c.Port != "9090" {
		t.Errorf("Port = %v, want 9090", c.Port)
	}
	if c.RefreshLookahead != 30*time.Minute {
		t.Errorf("RefreshLookahead = %v, want 30m", c.RefreshLookahead)
	}

	tw := c.Platforms["twitter"]
	if !tw.Enabled() {
		t.Fatal("twitter should be enabled")
	}
	if tw.ConsumerKey != "tw-ck" || tw.ConsumerSecret != "tw-cs" {
		t.Errorf("consumer pair = %v/%v, want tw-ck/tw-cs", tw.ConsumerKey, tw.ConsumerSecret)
	}
	if tw.RatePolicy != "window" || tw.MaxPerMinute != 25 {
		t.Errorf("rate settings = %v/%v, want window/25", tw.RatePolicy, tw.MaxPerMinute)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		clearTestEnvVars()
		c := Load()
		c.JWTSecret = validSecret
		p := c.Platforms["linkedin"]
		p.ClientID = "id"
		p.ClientSecret = "secret"
		p.CallbackURL = "https://svc.example/oauth/linkedin/callback"
		c.Platforms["linkedin"] = p
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"short jwt secret", func(c *Config) { c.JWTSecret = "short" }, true},
		{"bad port", func(c *Config) { c.Port = "not-a-port" }, true},
		{"port out of range", func(c *Config) { c.Port = "70000" }, true},
		{"no platforms", func(c *Config) {
			p := c.Platforms["linkedin"]
			p.ClientID, p.ClientSecret = "", ""
			c.Platforms["linkedin"] = p
		}, true},
		{"partial credentials", func(c *Config) {
			p := c.Platforms["twitter"]
			p.ClientID = "id-only"
			c.Platforms["twitter"] = p
		}, true},
		{"missing callback", func(c *Config) {
			p := c.Platforms["linkedin"]
			p.CallbackURL = ""
			c.Platforms["linkedin"] = p
		}, true},
		{"bad rate policy", func(c *Config) {
			p := c.Platforms["linkedin"]
			p.RatePolicy = "leaky-bucket"
			c.Platforms["linkedin"] = p
		}, true},
		{"window needs quota", func(c *Config) {
			p := c.Platforms["linkedin"]
			p.RatePolicy = "window"
			p.MaxPerMinute = 0
			c.Platforms["linkedin"] = p
		}, true},
		{"negative lookahead", func(c *Config) { c.RefreshLookahead = -time.Minute }, true},
		{"notify endpoint without key", func(c *Config) { c.NotifyEndpoint = "https://hooks.example/notify" }, true},
		{"notify endpoint with key", func(c *Config) {
			c.NotifyEndpoint = "https://hooks.example/notify"
			c.NotifyAPIKey = "service-key"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
