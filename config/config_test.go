package config

import (
	"os"
	"path/filepath"
	"testing"

	"stamp-cli/internal/crypto"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STAMP_CONFIG", "STAMP_DATA_DIR", "STAMP_DATABASE_DRIVER", "STAMP_DATABASE_URL",
		"STAMP_LOG_LEVEL", "STAMP_KDF_QUICK", "STAMP_AGENT_LISTEN", "STAMP_OTEL_ENABLED",
		"STAMP_OTEL_SAMPLING_RATE", "STAMP_DEFAULT_IDENTITY",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("HOME", t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STAMP_DATA_DIR", filepath.Join(t.TempDir(), "data"))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("want sqlite driver, got %s", cfg.DatabaseDriver)
	}
	if cfg.DatabaseURL != filepath.Join(cfg.DataDir, "stamp.db") {
		t.Errorf("want database under data dir, got %s", cfg.DatabaseURL)
	}
	if cfg.LogLevel != "WARN" {
		t.Errorf("want WARN, got %s", cfg.LogLevel)
	}
	if cfg.AgentListen != "127.0.0.1:5757" {
		t.Errorf("want 127.0.0.1:5757, got %s", cfg.AgentListen)
	}
	if cfg.KDFParams() != crypto.KDFModerate {
		t.Errorf("want moderate KDF, got %+v", cfg.KDFParams())
	}
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("STAMP_KDF_QUICK", "1")
	t.Setenv("STAMP_LOG_LEVEL", "debug")
	t.Setenv("STAMP_DATABASE_URL", "/tmp/custom.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.KDFParams() != crypto.KDFInteractive {
		t.Errorf("want interactive KDF, got %+v", cfg.KDFParams())
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("want DEBUG, got %s", cfg.LogLevel)
	}
	if cfg.DatabaseURL != "/tmp/custom.db" {
		t.Errorf("want /tmp/custom.db, got %s", cfg.DatabaseURL)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "stamp.yaml")
	content := "database_driver: mysql\ndatabase_url: user:pass@tcp(localhost:3306)/stamp\ndefault_identity: abc\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabaseDriver != "mysql" {
		t.Errorf("want mysql, got %s", cfg.DatabaseDriver)
	}
	if cfg.DefaultIdentity != "abc" {
		t.Errorf("want default identity abc, got %s", cfg.DefaultIdentity)
	}

	// 環境変数は設定ファイルより優先される
	t.Setenv("STAMP_DEFAULT_IDENTITY", "xyz")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DefaultIdentity != "xyz" {
		t.Errorf("want env override xyz, got %s", cfg.DefaultIdentity)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown driver", env: map[string]string{"STAMP_DATABASE_DRIVER": "postgres"}},
		{name: "mysql without dsn", env: map[string]string{"STAMP_DATABASE_DRIVER": "mysql"}},
		{name: "sampling rate", env: map[string]string{"STAMP_OTEL_SAMPLING_RATE": "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("want error, got nil")
			}
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("want error for explicit missing config file")
	}
}
