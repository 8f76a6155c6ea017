package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:               "8000",
		Env:                "development",
		DatabaseURL:        "postgres://localhost:5432/carelink",
		SchedulerInterval:  time.Minute,
		SchedulerBatchSize: 200,
		DispatchTimeout:    10 * time.Second,
	}
}

func TestValidate_DevDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid dev config, got %v", err)
	}
}

func TestValidate_ProductionRequiresAuth(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for production without auth configuration")
	}

	cfg.AuthSigningKey = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected signing key to satisfy auth requirement, got %v", err)
	}

	cfg.AuthSigningKey = ""
	cfg.AuthIssuer = "https://idp.example.org"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for issuer without JWKS URL")
	}

	cfg.AuthJWKSURL = "https://idp.example.org/jwks"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected issuer+JWKS to validate, got %v", err)
	}
}

func TestValidate_SchedulerBounds(t *testing.T) {
	cfg := validConfig()
	cfg.SchedulerInterval = 100 * time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for sub-second scheduler interval")
	}

	cfg = validConfig()
	cfg.SchedulerBatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero batch size")
	}

	cfg = validConfig()
	cfg.DispatchTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero dispatch timeout")
	}
}

func TestIsDevIsProduction(t *testing.T) {
	cfg := validConfig()
	if !cfg.IsDev() || cfg.IsProduction() {
		t.Error("expected development mode")
	}
	cfg.Env = "production"
	if cfg.IsDev() || !cfg.IsProduction() {
		t.Error("expected production mode")
	}
}
