package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

// setRequiredSecrets populates the three secrets validation insists on.
func setRequiredSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("GATEWAY_TOKEN_SALT", strings.Repeat("ab", 32))
	t.Setenv("SESSION_COOKIE_SECRET", "test-cookie-secret-at-least-32-chars!!")
	t.Setenv("HOST_TOKEN_KEK", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))))
}

// TestLoadDefaults is not t.Parallel because it mutates process-wide environment variables.
func TestLoadDefaults(t *testing.T) {
	keys := []string{
		"SERVER_PORT", "SERVER_ENV", "PUBLIC_BASE_URL",
		"DATABASE_URL", "DATABASE_MAX_CONNS", "DATABASE_MIN_CONNS",
		"REDIS_URL", "AUTH_MODE",
		"COMMAND_TIMEOUT", "IDLE_TIMEOUT", "IDLE_SWEEP", "RECONNECT_GRACE",
		"MAX_TEXT_BYTES", "MAX_BINARY_BYTES",
		"PROVISION_REGION", "PROVISION_SIZE", "PROVISION_IMAGE",
		"PROVISION_TIMEOUT", "RECONCILE_INTERVAL", "BOOTSTRAP_TOKEN_TTL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
	setRequiredSecrets(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.ServerEnv != "production" {
		t.Errorf("ServerEnv = %q, want %q", cfg.ServerEnv, "production")
	}
	if cfg.AuthMode != AuthModeProd {
		t.Errorf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeProd)
	}

	if cfg.CommandTimeout != 10*time.Second {
		t.Errorf("CommandTimeout = %v, want 10s", cfg.CommandTimeout)
	}
	if cfg.IdleTimeout != 600*time.Second {
		t.Errorf("IdleTimeout = %v, want 600s", cfg.IdleTimeout)
	}
	if cfg.IdleSweep != time.Minute {
		t.Errorf("IdleSweep = %v, want 1m", cfg.IdleSweep)
	}
	if cfg.ReconnectGrace != 30*time.Second {
		t.Errorf("ReconnectGrace = %v, want 30s", cfg.ReconnectGrace)
	}
	if cfg.MaxTextBytes != 256*1024 {
		t.Errorf("MaxTextBytes = %d, want %d", cfg.MaxTextBytes, 256*1024)
	}
	if cfg.MaxBinaryBytes != 64*1024 {
		t.Errorf("MaxBinaryBytes = %d, want %d", cfg.MaxBinaryBytes, 64*1024)
	}

	if cfg.DatabaseMaxConn != 25 {
		t.Errorf("DatabaseMaxConn = %d, want 25", cfg.DatabaseMaxConn)
	}
	if cfg.ProvisionTimeout != 10*time.Minute {
		t.Errorf("ProvisionTimeout = %v, want 10m", cfg.ProvisionTimeout)
	}
	if cfg.ReconcileInterval != time.Minute {
		t.Errorf("ReconcileInterval = %v, want 1m", cfg.ReconcileInterval)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("GATEWAY_TOKEN_SALT", "")
	t.Setenv("SESSION_COOKIE_SECRET", "")
	t.Setenv("HOST_TOKEN_KEK", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() error = nil, want missing-secret errors")
	}
	for _, want := range []string{"GATEWAY_TOKEN_SALT", "SESSION_COOKIE_SECRET", "HOST_TOKEN_KEK"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadRejectsMalformedKeys(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"salt not hex", "GATEWAY_TOKEN_SALT", "not-hex!"},
		{"salt wrong length", "GATEWAY_TOKEN_SALT", "abcd"},
		{"kek not base64", "HOST_TOKEN_KEK", "%%%"},
		{"kek wrong length", "HOST_TOKEN_KEK", base64.StdEncoding.EncodeToString([]byte("short"))},
		{"cookie secret short", "SESSION_COOKIE_SECRET", "short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredSecrets(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() error = nil, want error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoadRejectsUnknownAuthMode(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("AUTH_MODE", "staging")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "AUTH_MODE") {
		t.Fatalf("Load() error = %v, want AUTH_MODE error", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("COMMAND_TIMEOUT", "3s")
	t.Setenv("MAX_TEXT_BYTES", "4096")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.ServerPort != 9999 {
		t.Errorf("ServerPort = %d, want 9999", cfg.ServerPort)
	}
	if !cfg.DevAuthEnabled() {
		t.Error("DevAuthEnabled() = false, want true")
	}
	if cfg.CommandTimeout != 3*time.Second {
		t.Errorf("CommandTimeout = %v, want 3s", cfg.CommandTimeout)
	}
	if cfg.MaxTextBytes != 4096 {
		t.Errorf("MaxTextBytes = %d, want 4096", cfg.MaxTextBytes)
	}
}

func TestLoadInvalidInt(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("SERVER_PORT", "not-a-number")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Fatalf("Load() error = %v, want SERVER_PORT parse error", err)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("IDLE_TIMEOUT", "ten minutes")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "IDLE_TIMEOUT") {
		t.Fatalf("Load() error = %v, want IDLE_TIMEOUT parse error", err)
	}
}

func TestLoadMultipleErrors(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("SERVER_PORT", "0")
	t.Setenv("COMMAND_TIMEOUT", "1ms")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() error = nil, want joined validation errors")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") || !strings.Contains(err.Error(), "COMMAND_TIMEOUT") {
		t.Errorf("error %q should mention both SERVER_PORT and COMMAND_TIMEOUT", err)
	}
}

func TestDevelopmentOverridesPublicURL(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("SERVER_ENV", "development")
	t.Setenv("SERVER_PORT", "8081")
	t.Setenv("PUBLIC_BASE_URL", "https://app.vibecode.sh")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
	if cfg.PublicBaseURL != "http://localhost:8081" {
		t.Errorf("PublicBaseURL = %q, want local override", cfg.PublicBaseURL)
	}
}

func TestProviderConfigured(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("DO_OAUTH_CLIENT_ID", "client-id")
	t.Setenv("DO_OAUTH_CLIENT_SECRET", "client-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if !cfg.ProviderConfigured() {
		t.Error("ProviderConfigured() = false, want true")
	}
}
