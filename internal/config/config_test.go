package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"http_addr", cfg.Server.HTTPAddr, "127.0.0.1:8547"},
		{"log_level", cfg.Server.LogLevel, "info"},
		{"log_format", cfg.Server.LogFormat, "text"},
		{"rate_limit.enabled", cfg.Server.RateLimit.Enabled, true},
		{"rate_limit.rate", cfg.Server.RateLimit.Rate, 600},
		{"rate_limit.burst", cfg.Server.RateLimit.Burst, 60},
		{"rate_limit.period", cfg.Server.RateLimit.Period, "1m"},
		{"state.path", cfg.State.Path, "state.json"},
		{"audit.backend", cfg.Audit.Backend, "memory"},
		{"jwt.issuer", cfg.Auth.JWT.Issuer, "aipolicy"},
		{"jwt.ttl", cfg.Auth.JWT.TTL, "24h"},
		{"notifications.buffer_size", cfg.Notifications.BufferSize, 1000},
		{"notifications.send_timeout", cfg.Notifications.SendTimeout, "100ms"},
		{"notifications.warning_threshold", cfg.Notifications.WarningThreshold, 80},
		{"telemetry.service_name", cfg.Telemetry.ServiceName, "aipolicy"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server: ServerConfig{
			HTTPAddr:  ":9090",
			RateLimit: RateLimitConfig{Enabled: true, Rate: 50, Burst: 2},
		},
		Audit: AuditConfig{Backend: "sqlite:///var/lib/aipolicy/audit.db"},
		Notifications: NotificationsConfig{
			Outputs: []NotifyOutputConfig{
				{Type: "file", Dir: "/var/log/aipolicy", RetentionDays: 7},
				{Type: "redis", Addr: "localhost:6379"},
			},
		},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.RateLimit.Rate != 50 || cfg.Server.RateLimit.Burst != 2 {
		t.Errorf("rate limit was overwritten: %+v", cfg.Server.RateLimit)
	}
	if cfg.Audit.Backend != "sqlite:///var/lib/aipolicy/audit.db" {
		t.Errorf("Audit.Backend was overwritten: got %q", cfg.Audit.Backend)
	}
	file := cfg.Notifications.Outputs[0]
	if file.RetentionDays != 7 || file.MaxFileSizeMB != 100 {
		t.Errorf("file output defaults = %+v", file)
	}
	if got := cfg.Notifications.Outputs[1].Channel; got != "aipolicy:notifications" {
		t.Errorf("redis channel default = %q", got)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Policy.Owner != DevOwner || cfg.Policy.Oracle != DevOracle {
		t.Errorf("policy = %+v, want dev identities", cfg.Policy)
	}
	if len(cfg.Auth.APIKeys) != 2 {
		t.Errorf("dev api keys = %d, want 2", len(cfg.Auth.APIKeys))
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("dev config should validate: %v", err)
	}
}

func TestConfig_SetDevDefaults_NoopWithoutDevMode(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDevDefaults()
	if cfg.Policy.Owner != "" || len(cfg.Auth.Identities) != 0 {
		t.Errorf("dev defaults applied without dev mode: %+v", cfg)
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{"empty dir", nil, ""},
		{"yaml", []string{"aipolicy.yaml"}, "aipolicy.yaml"},
		{"yml", []string{"aipolicy.yml"}, "aipolicy.yml"},
		{"ignores binary", []string{"aipolicy"}, ""},
		{"prefers yaml", []string{"aipolicy.yml", "aipolicy.yaml"}, "aipolicy.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			for _, f := range tt.files {
				if err := os.WriteFile(filepath.Join(dir, f), []byte("server:\n  http_addr: :9090\n"), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			want := ""
			if tt.want != "" {
				want = filepath.Join(dir, tt.want)
			}
			if got := findConfigFileInPaths([]string{dir}); got != want {
				t.Errorf("findConfigFileInPaths = %q, want %q", got, want)
			}
		})
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "aipolicy.yaml")
	yaml := `
server:
  http_addr: "127.0.0.1:9000"
  rate_limit:
    enabled: false
policy:
  owner: alice
  oracle: oracle-svc
auth:
  identities:
    - id: alice
      name: Alice
    - id: oracle-svc
      name: Oracle
  api_keys:
    - key_hash: "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274"
      identity_id: alice
notifications:
  outputs:
    - type: log
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AIPOLICY_STATE_PATH", filepath.Join(dir, "state.json"))

	InitViper(path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.RateLimit.Enabled {
		t.Error("explicit rate_limit.enabled=false was overridden")
	}
	if cfg.Policy.Owner != "alice" {
		t.Errorf("Owner = %q, want alice", cfg.Policy.Owner)
	}
	if cfg.State.Path != filepath.Join(dir, "state.json") {
		t.Errorf("State.Path = %q, want env override", cfg.State.Path)
	}
	if ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed() = %q, want %q", ConfigFileUsed(), path)
	}
}

func TestLoadConfig_InvalidFails(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "aipolicy.yaml")
	if err := os.WriteFile(path, []byte("audit:\n  backend: postgres://db\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	InitViper(path)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() expected validation error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "AIPOLICY_DOTENV_TEST"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() = %v", err)
	}
	if got := os.Getenv(key); got != "from-dotenv" {
		t.Errorf("%s = %q, want from-dotenv", key, got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing file should be ignored, got %v", err)
	}
}
