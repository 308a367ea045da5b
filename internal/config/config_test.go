package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("expected LogLevel INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 8080 {
		t.Errorf("expected MetricsPort 8080, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Global.HealthPort != 8081 {
		t.Errorf("expected HealthPort 8081, got %d", cfg.Global.HealthPort)
	}

	if cfg.Remote.BaseURL == "" {
		t.Error("expected a default remote base URL")
	}
	if cfg.Remote.Retry.MaxAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Remote.Retry.MaxAttempts)
	}
	if !cfg.Remote.CircuitBreaker.Enabled {
		t.Error("expected circuit breaker enabled by default")
	}

	if cfg.Staging.Directory == "" {
		t.Error("expected a default staging directory")
	}
	if cfg.Cache.FileName != "catalog.cache" {
		t.Errorf("expected catalog.cache, got %s", cfg.Cache.FileName)
	}
	if !cfg.Update.Enabled {
		t.Error("expected background update enabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	contents := []byte(`
global:
  log_level: DEBUG
mount:
  mount_point: /mnt/mediafire
remote:
  base_url: https://example.test/api/1.5
  session_token: abc123
staging:
  directory: /tmp/staging
cache:
  directory: /tmp/cache
`)
	if err := os.WriteFile(path, contents, 0600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("expected DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Mount.MountPoint != "/mnt/mediafire" {
		t.Errorf("expected mount point override, got %s", cfg.Mount.MountPoint)
	}
	if cfg.Remote.SessionToken != "abc123" {
		t.Errorf("expected session token override, got %s", cfg.Remote.SessionToken)
	}
	// Fields absent from the fixture retain their defaults.
	if cfg.Remote.Retry.MaxAttempts != 3 {
		t.Errorf("expected retry defaults preserved, got %d", cfg.Remote.Retry.MaxAttempts)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error loading nonexistent file")
	}
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := NewDefault()
	cfg.Mount.MountPoint = "/mnt/mediafire"
	cfg.Remote.SessionToken = "roundtrip-token"

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat saved config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected config file mode 0600, got %v", info.Mode().Perm())
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Mount.MountPoint != cfg.Mount.MountPoint {
		t.Errorf("mount point mismatch after roundtrip: %s", loaded.Mount.MountPoint)
	}
	if loaded.Remote.SessionToken != cfg.Remote.SessionToken {
		t.Errorf("session token mismatch after roundtrip: %s", loaded.Remote.SessionToken)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MFSFS_LOG_LEVEL", "ERROR")
	t.Setenv("MFSFS_MOUNT_POINT", "/mnt/env-mount")
	t.Setenv("MFSFS_SESSION_TOKEN", "env-token")
	t.Setenv("MFSFS_METRICS_PORT", "9100")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("expected ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Mount.MountPoint != "/mnt/env-mount" {
		t.Errorf("expected env mount point, got %s", cfg.Mount.MountPoint)
	}
	if cfg.Remote.SessionToken != "env-token" {
		t.Errorf("expected env session token, got %s", cfg.Remote.SessionToken)
	}
	if cfg.Global.MetricsPort != 9100 {
		t.Errorf("expected metrics port 9100, got %d", cfg.Global.MetricsPort)
	}
}

func TestLoadFromEnvInvalidPort(t *testing.T) {
	t.Setenv("MFSFS_METRICS_PORT", "not-a-number")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("expected error for non-numeric metrics port")
	}
}

func TestValidate(t *testing.T) {
	cfg := NewDefault()
	cfg.Mount.MountPoint = "/mnt/mediafire"
	cfg.Remote.SessionToken = "abc123"

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid configuration, got error: %v", err)
	}
}

func TestValidateRequiresMountPoint(t *testing.T) {
	cfg := NewDefault()
	cfg.Remote.SessionToken = "abc123"

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing mount point")
	}
}

func TestValidateRequiresCredentials(t *testing.T) {
	cfg := NewDefault()
	cfg.Mount.MountPoint = "/mnt/mediafire"

	if err := cfg.Validate(); err == nil {
		t.Error("expected error when neither session token nor email+password is set")
	}

	cfg.Remote.Email = "user@example.test"
	cfg.Remote.Password = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected email+password to satisfy credential requirement, got %v", err)
	}
}

func TestValidateRejectsEqualPorts(t *testing.T) {
	cfg := NewDefault()
	cfg.Mount.MountPoint = "/mnt/mediafire"
	cfg.Remote.SessionToken = "abc123"
	cfg.Global.HealthPort = cfg.Global.MetricsPort

	if err := cfg.Validate(); err == nil {
		t.Error("expected error when metrics_port equals health_port")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := NewDefault()
	cfg.Mount.MountPoint = "/mnt/mediafire"
	cfg.Remote.SessionToken = "abc123"
	cfg.Global.LogLevel = "VERBOSE"

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestValidateRejectsZeroRetryAttempts(t *testing.T) {
	cfg := NewDefault()
	cfg.Mount.MountPoint = "/mnt/mediafire"
	cfg.Remote.SessionToken = "abc123"
	cfg.Remote.Retry.MaxAttempts = 0

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero retry attempts")
	}
}
