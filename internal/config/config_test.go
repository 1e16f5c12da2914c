package config

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLoadRequiresPortFlag(t *testing.T) {
	var stderr bytes.Buffer
	_, err := Load([]string{}, &stderr)
	if err == nil {
		t.Fatal("expected an error when -p is missing")
	}
	if !strings.Contains(stderr.String(), "usage:") {
		t.Fatalf("stderr = %q, want a usage message", stderr.String())
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := Load([]string{"-p", "8080"}, &stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.CacheEnabled {
		t.Fatal("CacheEnabled should default to false")
	}
	if cfg.BalancerStrategy != defaultBalancerStrategy {
		t.Fatalf("BalancerStrategy = %q, want %q", cfg.BalancerStrategy, defaultBalancerStrategy)
	}
	if cfg.HealthCheckEvery != defaultHealthCheckEvery {
		t.Fatalf("HealthCheckEvery = %v, want %v", cfg.HealthCheckEvery, defaultHealthCheckEvery)
	}
	if cfg.MetricsPort != defaultMetricsPort {
		t.Fatalf("MetricsPort = %q, want %q", cfg.MetricsPort, defaultMetricsPort)
	}
	if len(cfg.Origins) != 0 {
		t.Fatalf("Origins = %v, want empty", cfg.Origins)
	}
}

func TestLoadParsesRepeatedOriginFlags(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := Load([]string{
		"-p", "8080",
		"-origin", "api.example.com=10.0.0.1:80,10.0.0.2:80",
		"-origin", "static.example.com=10.0.1.1:80",
	}, &stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Origins) != 2 {
		t.Fatalf("Origins length = %d, want 2", len(cfg.Origins))
	}
	if cfg.Origins[0].Host != "api.example.com" || len(cfg.Origins[0].Addresses) != 2 {
		t.Fatalf("Origins[0] = %+v, want host api.example.com with 2 addresses", cfg.Origins[0])
	}
	if cfg.Origins[1].Host != "static.example.com" || len(cfg.Origins[1].Addresses) != 1 {
		t.Fatalf("Origins[1] = %+v, want host static.example.com with 1 address", cfg.Origins[1])
	}
}

func TestOriginFlagRejectsMissingEquals(t *testing.T) {
	var stderr bytes.Buffer
	_, err := Load([]string{"-p", "8080", "-origin", "no-equals-sign"}, &stderr)
	if err == nil {
		t.Fatal("expected an error for a malformed -origin value")
	}
}

func TestFlagsOverrideEnvironmentDefaults(t *testing.T) {
	t.Setenv("PROXY_LISTEN_PORT", "9999")
	t.Setenv("PROXY_CACHE_ENABLED", "true")

	var stderr bytes.Buffer
	cfg, err := Load([]string{"-p", "1234", "-c=false"}, &stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "1234" {
		t.Fatalf("Port = %q, want the flag value 1234 to win over the env default", cfg.Port)
	}
	if cfg.CacheEnabled {
		t.Fatal("explicit -c=false must override PROXY_CACHE_ENABLED=true")
	}
}

func TestEnvironmentSuppliesDefaultsWhenFlagsOmitted(t *testing.T) {
	t.Setenv("PROXY_LB_STRATEGY", "least_conn")
	t.Setenv("PROXY_HEALTHCHECK_INTERVAL", "2s")

	var stderr bytes.Buffer
	cfg, err := Load([]string{"-p", "8080"}, &stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BalancerStrategy != "least_conn" {
		t.Fatalf("BalancerStrategy = %q, want least_conn from the environment", cfg.BalancerStrategy)
	}
	if cfg.HealthCheckEvery != 2*time.Second {
		t.Fatalf("HealthCheckEvery = %v, want 2s from the environment", cfg.HealthCheckEvery)
	}
}
