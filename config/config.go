// Package config loads process configuration from defaults, an optional
// YAML file, and HEARTH_-prefixed environment variables, in that order.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
)

// Config holds all runtime settings.
type Config struct {
	ProjectName string   `koanf:"project_name"`
	ListenAddr  string   `koanf:"listen_addr"`
	PublicURL   string   `koanf:"public_url"`
	CORSOrigins []string `koanf:"cors_origins"`

	JWTSecret            string `koanf:"jwt_secret"`
	AccessTokenExpireMin int    `koanf:"access_token_expire_minutes"`
	ResetTokenExpireHrs  int    `koanf:"reset_token_expire_hours"`

	DatabaseURL string `koanf:"database_url"`
	RedisAddr   string `koanf:"redis_addr"`

	HTTPRequestsPerMinute int `koanf:"http_requests_per_minute"`
	WSMessagesPerWindow   int `koanf:"ws_messages_per_window"`
	WSWindowSeconds       int `koanf:"ws_window_seconds"`
	WSMaxMessageBytes     int `koanf:"ws_max_message_bytes"`

	WebEngageURL    string `koanf:"webengage_url"`
	WebEngageAPIKey string `koanf:"webengage_api_key"`
	EmailFrom       string `koanf:"email_from"`
	EmailFromName   string `koanf:"email_from_name"`

	GoogleClientID string `koanf:"google_client_id"`
}

// AccessTokenTTL returns the access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMin) * time.Minute
}

// ResetTokenTTL returns the password reset token lifetime.
func (c *Config) ResetTokenTTL() time.Duration {
	return time.Duration(c.ResetTokenExpireHrs) * time.Hour
}

// WSWindow returns the websocket rate-limit window length.
func (c *Config) WSWindow() time.Duration {
	return time.Duration(c.WSWindowSeconds) * time.Second
}

// EmailEnabled reports whether the transactional email sender is configured.
func (c *Config) EmailEnabled() bool {
	return c.WebEngageURL != "" && c.WebEngageAPIKey != ""
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"project_name":                "hearth",
		"listen_addr":                 ":8080",
		"public_url":                  "http://localhost:8080",
		"access_token_expire_minutes": 60 * 24,
		"reset_token_expire_hours":    2,
		"redis_addr":                  "localhost:6379",
		"http_requests_per_minute":    100,
		"ws_messages_per_window":      30,
		"ws_window_seconds":           10,
		"ws_max_message_bytes":        64 * 1024,
		"email_from_name":             "Hearth",
	}
}

// Load builds a Config. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
		}
	}

	// HEARTH_JWT_SECRET -> jwt_secret
	err := k.Load(env.Provider("HEARTH_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "HEARTH_"))
	}), nil)
	if err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if cfg.JWTSecret == "" {
		return nil, oops.Code("CONFIG_MISSING_SECRET").Errorf("jwt_secret must be set")
	}

	return &cfg, nil
}
