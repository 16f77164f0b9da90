// Package config provides configuration types for aipolicy.
//
// Configuration is file-based (aipolicy.yaml) with environment overrides
// (AIPOLICY_ prefix). It covers the HTTP listener, the creation-time owner
// and oracle identities, durable state, the audit backend, caller
// authentication, notification outputs and telemetry.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for aipolicy.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Policy holds the identities applied by init when no state exists yet.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// State configures the durable snapshot of roles and parameters.
	State StateConfig `yaml:"state" mapstructure:"state"`

	// Audit selects where AI decisions and security audits are recorded.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Auth configures file-based identities, API keys and JWT verification.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Notifications configures the notification dispatcher and its outputs.
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`

	// Stdio configures the stdin/stdout transport.
	Stdio StdioConfig `yaml:"stdio" mapstructure:"stdio"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (verbose logging, dev identities).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8547").
	// Defaults to "127.0.0.1:8547" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects the slog handler. Defaults to "text".
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// AllowedOrigins lists browser origins accepted by DNS rebinding protection.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string `yaml:"cert_file" mapstructure:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file" validate:"required_with=CertFile"`

	// RateLimit configures per-caller request limits.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Rate is the number of requests allowed per Period. Defaults to 600.
	Rate int `yaml:"rate" mapstructure:"rate" validate:"omitempty,min=1"`

	// Burst is the number of requests allowed at once. Defaults to Rate/10.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`

	// Period is the window for Rate (e.g., "1m"). Defaults to "1m".
	Period string `yaml:"period" mapstructure:"period" validate:"omitempty,duration"`

	// CleanupInterval is how often idle keys are swept. Defaults to "5m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// MaxTTL is the maximum age of an idle key. Defaults to "1h".
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty,duration"`
}

// PolicyConfig holds the creation-time identities.
type PolicyConfig struct {
	// Owner becomes the deployer/owner on first start.
	Owner string `yaml:"owner" mapstructure:"owner" validate:"required"`

	// Oracle is the initial AI oracle identity.
	Oracle string `yaml:"oracle" mapstructure:"oracle" validate:"required"`
}

// StateConfig configures the state.json snapshot.
type StateConfig struct {
	// Path is the snapshot file. Defaults to "./state.json".
	Path string `yaml:"path" mapstructure:"path"`
}

// AuditConfig selects the audit backend.
type AuditConfig struct {
	// Backend is "memory" or "sqlite://<absolute-path>". Defaults to "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,audit_backend"`
}

// AuthConfig configures caller authentication.
type AuthConfig struct {
	// Identities defines the known callers.
	Identities []IdentityConfig `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive"`

	// APIKeys defines the API keys that map to identities.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`

	// JWT enables HS256 bearer tokens when Secret is set.
	JWT JWTConfig `yaml:"jwt" mapstructure:"jwt"`
}

// IdentityConfig defines a file-based identity.
type IdentityConfig struct {
	// ID is the identity presented to the policy engine.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is the human-readable name for this identity.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
}

// APIKeyConfig defines an API key that authenticates as an identity.
type APIKeyConfig struct {
	// KeyHash is "sha256:<hex>" or an Argon2id PHC string.
	// Generate with: aipolicy hash-key <key>
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`

	// IdentityID references the identity this key authenticates as.
	// Must match an ID in Auth.Identities.
	IdentityID string `yaml:"identity_id" mapstructure:"identity_id" validate:"required"`
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	// Secret is the HS256 signing key. At least 32 bytes when set.
	Secret string `yaml:"secret" mapstructure:"secret" validate:"omitempty,min=32"`

	// Issuer is required in every token. Defaults to "aipolicy".
	Issuer string `yaml:"issuer" mapstructure:"issuer"`

	// TTL is the lifetime of tokens minted by "aipolicy token". Defaults to "24h".
	TTL string `yaml:"ttl" mapstructure:"ttl" validate:"omitempty,duration"`
}

// NotificationsConfig configures notification delivery.
type NotificationsConfig struct {
	// BufferSize is the number of recent notifications served by
	// getRecentNotifications. Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// ChannelSize is the dispatcher queue length. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// SendTimeout is how long Emit blocks on a full queue (e.g., "100ms", "0").
	// Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the queue fill percentage that triggers a warning.
	// Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// Outputs are the sinks notifications are delivered to.
	Outputs []NotifyOutputConfig `yaml:"outputs" mapstructure:"outputs" validate:"omitempty,dive"`
}

// NotifyOutputConfig configures one notification sink.
type NotifyOutputConfig struct {
	// Type is "log", "file" or "redis".
	Type string `yaml:"type" mapstructure:"type" validate:"required,notify_output"`

	// Dir is the JSONL directory for "file" outputs.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// RetentionDays and MaxFileSizeMB control "file" rotation.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`

	// Addr, Password, DB and Channel configure "redis" outputs.
	Addr     string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"omitempty,min=0"`
	Channel  string `yaml:"channel" mapstructure:"channel"`

	// Filter is an optional CEL expression over notification fields
	// (e.g., `kind == "security_alert" && score > 9000`).
	Filter string `yaml:"filter" mapstructure:"filter"`
}

// StdioConfig configures the stdin/stdout transport.
type StdioConfig struct {
	// Caller is the identity every stdio message is attributed to.
	Caller string `yaml:"caller" mapstructure:"caller"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// Enabled turns on span and metric export to stderr.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ServiceName is the service.name resource attribute. Defaults to "aipolicy".
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// MetricInterval is the metric export period. Defaults to "60s".
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"omitempty,duration"`
}

// Dev identities and the SHA-256 of their API keys ("dev-api-key",
// "dev-oracle-key").
const (
	DevOwner  = "dev-owner"
	DevOracle = "dev-oracle"

	devOwnerKeyHash  = "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274"
	devOracleKeyHash = "sha256:a0244383ba17eb34c0141304c34a731e0c211bd2aa42355527f3d807c106d69f"
)

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if len(c.Auth.Identities) == 0 {
		c.Auth.Identities = []IdentityConfig{
			{ID: DevOwner, Name: "Development Owner"},
			{ID: DevOracle, Name: "Development Oracle"},
		}
	}
	if len(c.Auth.APIKeys) == 0 {
		c.Auth.APIKeys = []APIKeyConfig{
			{KeyHash: devOwnerKeyHash, IdentityID: DevOwner},
			{KeyHash: devOracleKeyHash, IdentityID: DevOracle},
		}
	}
	if c.Policy.Owner == "" {
		c.Policy.Owner = DevOwner
	}
	if c.Policy.Oracle == "" {
		c.Policy.Oracle = DevOracle
	}
	if len(c.Notifications.Outputs) == 0 {
		c.Notifications.Outputs = []NotifyOutputConfig{{Type: "log"}}
	}
	c.Server.LogLevel = "debug"
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network access needs an explicit http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8547"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}

	// Rate limit defaults: enabled unless explicitly set in YAML/env.
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("server.rate_limit.enabled") {
		c.Server.RateLimit.Enabled = true
	}
	if c.Server.RateLimit.Rate == 0 {
		c.Server.RateLimit.Rate = 600
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = max(c.Server.RateLimit.Rate/10, 1)
	}
	if c.Server.RateLimit.Period == "" {
		c.Server.RateLimit.Period = "1m"
	}
	if c.Server.RateLimit.CleanupInterval == "" {
		c.Server.RateLimit.CleanupInterval = "5m"
	}
	if c.Server.RateLimit.MaxTTL == "" {
		c.Server.RateLimit.MaxTTL = "1h"
	}

	if c.State.Path == "" {
		c.State.Path = "state.json"
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = "memory"
	}

	if c.Auth.JWT.Issuer == "" {
		c.Auth.JWT.Issuer = "aipolicy"
	}
	if c.Auth.JWT.TTL == "" {
		c.Auth.JWT.TTL = "24h"
	}

	if c.Notifications.BufferSize == 0 {
		c.Notifications.BufferSize = 1000
	}
	if c.Notifications.ChannelSize == 0 {
		c.Notifications.ChannelSize = 1000
	}
	if c.Notifications.SendTimeout == "" {
		c.Notifications.SendTimeout = "100ms"
	}
	if c.Notifications.WarningThreshold == 0 {
		c.Notifications.WarningThreshold = 80
	}
	for i := range c.Notifications.Outputs {
		out := &c.Notifications.Outputs[i]
		switch out.Type {
		case "file":
			if out.RetentionDays == 0 {
				out.RetentionDays = 30
			}
			if out.MaxFileSizeMB == 0 {
				out.MaxFileSizeMB = 100
			}
		case "redis":
			if out.Channel == "" {
				out.Channel = "aipolicy:notifications"
			}
		}
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "aipolicy"
	}
	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "60s"
	}
}
