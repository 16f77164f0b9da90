package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadDotEnv loads environment variables from path (".env" when empty)
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for aipolicy.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file anywhere: ReadInConfig returns
		// ConfigFileNotFoundError, which callers treat as env-only mode.
		viper.SetConfigName("aipolicy")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AIPOLICY_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("AIPOLICY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an aipolicy config file.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".aipolicy"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "aipolicy"))
		}
	} else {
		paths = append(paths, "/etc/aipolicy")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for aipolicy.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "aipolicy"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar config keys for environment variable support.
// Example: AIPOLICY_SERVER_HTTP_ADDR overrides server.http_addr
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.log_format")
	_ = viper.BindEnv("server.cert_file")
	_ = viper.BindEnv("server.key_file")

	_ = viper.BindEnv("server.rate_limit.enabled")
	_ = viper.BindEnv("server.rate_limit.rate")
	_ = viper.BindEnv("server.rate_limit.burst")
	_ = viper.BindEnv("server.rate_limit.period")

	_ = viper.BindEnv("policy.owner")
	_ = viper.BindEnv("policy.oracle")

	_ = viper.BindEnv("state.path")
	_ = viper.BindEnv("audit.backend")

	// auth.identities and auth.api_keys are arrays; use the config file.
	_ = viper.BindEnv("auth.jwt.secret")
	_ = viper.BindEnv("auth.jwt.issuer")
	_ = viper.BindEnv("auth.jwt.ttl")

	_ = viper.BindEnv("notifications.buffer_size")
	_ = viper.BindEnv("notifications.channel_size")
	_ = viper.BindEnv("notifications.send_timeout")

	_ = viper.BindEnv("stdio.caller")

	_ = viper.BindEnv("telemetry.enabled")
	_ = viper.BindEnv("telemetry.service_name")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
