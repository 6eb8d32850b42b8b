package telemetry

import (
	"context"
	"testing"
)

func TestStripScheme(t *testing.T) {
	cases := map[string]string{
		"http://collector:4318":  "collector:4318",
		"https://collector:4318": "collector:4318",
		"collector:4318":         "collector:4318",
		"  collector:4318 ":      "collector:4318",
	}
	for in, want := range cases {
		if got := stripScheme(in); got != want {
			t.Errorf("stripScheme(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaultConfigEnvironment(t *testing.T) {
	t.Setenv("OTEL_RESOURCE_ENVIRONMENT", "")
	t.Setenv("LOTLEDGER_ENV", "staging")
	cfg := DefaultConfig()
	if cfg.Environment != "staging" {
		t.Errorf("environment = %q, want staging", cfg.Environment)
	}
}

func TestDisabledProviderIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.Environment = "test"

	p, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if m := p.Meter("test"); m == nil {
		t.Fatal("disabled provider must still hand out a meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if Environment() != "test" {
		t.Errorf("environment label = %q, want test", Environment())
	}
}
