package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_DefaultsWithNoEnv(t *testing.T) {
	resetViper(t)
	InitViper()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	resetViper(t)
	t.Setenv("AGENTDOOR_PORT", "9090")
	t.Setenv("AGENTDOOR_ADMIN_API_KEY", "supersecret")
	t.Setenv("AGENTDOOR_TRUSTED_PROXY", "true")
	InitViper()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.AdminAPIKey != "supersecret" {
		t.Errorf("AdminAPIKey = %q", cfg.AdminAPIKey)
	}
	if !cfg.TrustedProxy {
		t.Error("expected TrustedProxy = true")
	}
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	resetViper(t)
	t.Setenv("AGENTDOOR_BASE_URL", "not-a-url")
	InitViper()

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for malformed base_url")
	}
}

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}
