package auth

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "localhost:8085" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
}

func TestParseConfigEnvOverride(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, func(key string) (string, bool) {
		if key == "MURMUR_AUTH_HTTP_ADDR" {
			return "env-http", true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "env-http" {
		t.Fatalf("expected env addr, got %q", cfg.Addr)
	}
}

func TestParseConfigFlagOverride(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-addr", "flag-http"}, func(key string) (string, bool) {
		return "env-http", true
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "flag-http" {
		t.Fatalf("expected flag addr, got %q", cfg.Addr)
	}
}
