package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: production
database:
  dsn: postgresql://user:pass@db:5432/ledger
broker:
  baseURL: https://api.example.test/
  appKey: key
  secretKey: secret
`)

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != EnvProduction {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.Database.MaxConns != 8 || cfg.Database.MinConns != 1 {
		t.Errorf("pool defaults not applied: max=%d min=%d", cfg.Database.MaxConns, cfg.Database.MinConns)
	}
	if cfg.Database.MigrationsPath != "db/migrations" {
		t.Errorf("migrations path default = %q", cfg.Database.MigrationsPath)
	}
	if cfg.Broker.BaseURL != "https://api.example.test" {
		t.Errorf("baseURL not trimmed: %q", cfg.Broker.BaseURL)
	}
	if cfg.Broker.Timeout != 10*time.Second {
		t.Errorf("broker timeout default = %v", cfg.Broker.Timeout)
	}
	if cfg.Calendar.Timezone != "Asia/Seoul" {
		t.Errorf("calendar timezone default = %q", cfg.Calendar.Timezone)
	}
	if cfg.Telemetry.ServiceName != "lotledger" {
		t.Errorf("telemetry service name default = %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoad_RejectsMalformedHoliday(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgresql://db/ledger
calendar:
  holidays: ["2026-13-40"]
`)
	if _, err := Load(context.Background(), path); err == nil {
		t.Fatal("expected malformed holiday to fail validation")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, fromFile, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load or default: %v", err)
	}
	if fromFile {
		t.Error("expected fromFile=false for missing config")
	}
	if cfg.Database.DSN == "" {
		t.Error("defaults not applied")
	}
}

func TestBrokerCredentialFallbackToEnv(t *testing.T) {
	t.Setenv("KIWOOM_APP_KEY", "env-app")
	t.Setenv("KIWOOM_SECRET_KEY", "env-secret")

	path := writeConfig(t, `
database:
  dsn: postgresql://db/ledger
broker:
  baseURL: https://api.example.test
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker.AppKey != "env-app" || cfg.Broker.SecretKey != "env-secret" {
		t.Errorf("credentials not taken from env: %q %q", cfg.Broker.AppKey, cfg.Broker.SecretKey)
	}
	if err := cfg.Broker.ValidateCredentials(); err != nil {
		t.Errorf("credentials should validate: %v", err)
	}
}

func TestValidateCredentials_Missing(t *testing.T) {
	var b BrokerConfig
	if err := b.ValidateCredentials(); err == nil {
		t.Fatal("expected missing credentials to fail")
	}
}
