package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port    int           `env:"BRIGHTWARD_TEST_PORT" envDefault:"123"`
	Timeout time.Duration `env:"BRIGHTWARD_TEST_TIMEOUT" envDefault:"15m"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if cfg.Timeout != 15*time.Minute {
		t.Fatalf("expected default timeout 15m, got %s", cfg.Timeout)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("BRIGHTWARD_TEST_PORT", "9999")
	t.Setenv("BRIGHTWARD_TEST_TIMEOUT", "30s")

	var cfg envTestConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", cfg.Port)
	}
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("expected timeout 30s, got %s", cfg.Timeout)
	}
}

func TestParseEnvNilTarget(t *testing.T) {
	if err := ParseEnv(nil); err == nil {
		t.Fatal("expected error for nil target")
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("BRIGHTWARD_TEST_PORT", "not-an-int")

	var cfg envTestConfig
	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
