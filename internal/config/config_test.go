package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/pixied/internal/pixie/cloud"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PIXIED_TEST_USER", "alice@example.com")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set variable", "user: ${PIXIED_TEST_USER}", "user: alice@example.com"},
		{"set variable ignores default", "user: ${PIXIED_TEST_USER:bob}", "user: alice@example.com"},
		{"unset with default", "pass: ${PIXIED_TEST_UNSET:secret}", "pass: secret"},
		{"unset without default", "pass: ${PIXIED_TEST_UNSET}", "pass: "},
		{"no variables", "plain: value", "plain: value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("pixie:\n  username: user\n  password: pw\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Pixie.BaseURL != cloud.DefaultBaseURL {
		t.Errorf("Pixie.BaseURL = %q", cfg.Pixie.BaseURL)
	}
	if cfg.Pixie.AppID != cloud.DefaultAppID || cfg.Pixie.ClientKey != cloud.DefaultClientKey {
		t.Errorf("app keys = %q/%q", cfg.Pixie.AppID, cfg.Pixie.ClientKey)
	}
	if got := cfg.Pixie.MaxRetryBackoff.Duration(); got != 2*time.Minute {
		t.Errorf("MaxRetryBackoff = %v, want 2m", got)
	}
	if got := cfg.Poll.Interval.Duration(); got != 5*time.Minute {
		t.Errorf("Poll.Interval = %v, want 5m", got)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT should be disabled by default")
	}
	if cfg.MQTT.TopicPrefix != "pixied" || cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT defaults = %+v", cfg.MQTT)
	}
	if cfg.Script != "" {
		t.Errorf("Script = %q, want empty", cfg.Script)
	}
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("PIXIED_TEST_PASSWORD", "from-env")

	data := `
pixie:
  username: " User@Example.com "
  password: ${PIXIED_TEST_PASSWORD}
  timeout: 10s
  unhealthy_after: 3
  command_rate: 2.5
poll:
  interval: 30s
mqtt:
  enabled: true
  topic_prefix: home/pixie/
  broker:
    host: broker.lan
    port: 8883
    tls: true
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Pixie.Username != "user@example.com" {
		t.Errorf("Username = %q, want lowercased and trimmed", cfg.Pixie.Username)
	}
	if cfg.Pixie.Password != "from-env" {
		t.Errorf("Password = %q, want from-env", cfg.Pixie.Password)
	}

	cc := cfg.Pixie.CloudConfig()
	if cc.Timeout != 10*time.Second || cc.CommandRate != 2.5 || cc.CommandBurst != 5 {
		t.Errorf("CloudConfig() = %+v", cc)
	}
	lq := cfg.Pixie.LiveQueryConfig()
	if lq.UnhealthyAfter != 3 || lq.MinBackoff != time.Second || lq.Multiplier != 2.0 {
		t.Errorf("LiveQueryConfig() = %+v", lq)
	}
	if got := cfg.Poll.Interval.Duration(); got != 30*time.Second {
		t.Errorf("Poll.Interval = %v", got)
	}
	if cfg.MQTT.TopicPrefix != "home/pixie" {
		t.Errorf("TopicPrefix = %q, want trailing slash trimmed", cfg.MQTT.TopicPrefix)
	}
	if !cfg.MQTT.Broker.TLS || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("Broker = %+v", cfg.MQTT.Broker)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"missing credentials", "log:\n  level: debug\n", "pixie.username is required"},
		{"bad multiplier", "pixie:\n  username: u\n  password: p\n  retry_multiplier: 0.5\n", "retry_multiplier"},
		{"bad qos", "pixie:\n  username: u\n  password: p\nmqtt:\n  qos: 3\n", "mqtt.qos"},
		{"bad duration", "pixie:\n  username: u\n  password: p\n  timeout: soon\n", "invalid duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PIXIED_TEST_DOTENV_USER", "from-shell")
	t.Cleanup(func() { os.Unsetenv("PIXIED_TEST_DOTENV_PASS") })

	env := "PIXIED_TEST_DOTENV_USER=from-file\nPIXIED_TEST_DOTENV_PASS=secret\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	data := "pixie:\n  username: ${PIXIED_TEST_DOTENV_USER}\n  password: ${PIXIED_TEST_DOTENV_PASS}\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pixie.Username != "from-shell" {
		t.Errorf("Username = %q, environment should win over .env", cfg.Pixie.Username)
	}
	if cfg.Pixie.Password != "secret" {
		t.Errorf("Password = %q, want value from .env", cfg.Pixie.Password)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("pixie:\n  username: u\n  password: p\ndatabase:\n  path: /tmp/x.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/x.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}
