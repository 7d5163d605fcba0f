package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	durations := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"SessionTTL", cfg.Access.SessionTTL, 12 * time.Hour},
		{"LockoutWindow", cfg.Access.LockoutWindow, 15 * time.Minute},
		{"FailureDelayMin", cfg.Access.FailureDelayMin, 500 * time.Millisecond},
		{"FailureDelayMax", cfg.Access.FailureDelayMax, time.Second},
		{"AttemptRetention", cfg.Access.AttemptRetention, 720 * time.Hour},
		{"RateLimitWindow", cfg.RateLimit.Window, time.Minute},
		{"AnalyzerDelay", cfg.Scan.AnalyzerDelay, time.Second},
		{"AnalyzerTimeout", cfg.Scan.AnalyzerTimeout, 30 * time.Second},
		{"ErrorTTL", cfg.Scan.ErrorTTL, time.Hour},
		{"ComplianceTTL", cfg.Scan.ComplianceTTL, 168 * time.Hour},
	}
	for _, tt := range durations {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	ints := []struct {
		name     string
		actual   int
		expected int
	}{
		{"LockoutMaxFailures", cfg.Access.LockoutMaxFailures, 5},
		{"RateLimitRequests", cfg.RateLimit.Requests, 60},
		{"FloodRequests", cfg.RateLimit.FloodRequests, 600},
		{"ErrorIntervalMinutes", cfg.Scan.ErrorIntervalMinutes, 15},
		{"ComplianceIntervalMinutes", cfg.Scan.ComplianceIntervalMinutes, 360},
		{"LogLimit", cfg.Scan.LogLimit, 200},
		{"SubjectLimit", cfg.Scan.SubjectLimit, 50},
		{"MinClusterSize", cfg.Scan.MinClusterSize, 2},
		{"MaxPromptTokens", cfg.Analyzer.MaxPromptTokens, 4000},
	}
	for _, tt := range ints {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %d, want %d", tt.name, tt.actual, tt.expected)
		}
	}

	if !cfg.Database.AutoMigrate {
		t.Error("AutoMigrate should default to true")
	}
	if cfg.Access.FingerprintKey != cfg.Access.SessionSecret {
		t.Error("FingerprintKey should default to the session secret")
	}
	if got := cfg.Scan.SubjectKinds; len(got) != 3 || got[0] != "post" || got[1] != "page" || got[2] != "product" {
		t.Errorf("SubjectKinds: got %v", got)
	}
	if cfg.Notify.MinSeverity != "high" {
		t.Errorf("MinSeverity: got %q, want high", cfg.Notify.MinSeverity)
	}
	if cfg.Notify.FindingsTopic != "warden.findings" {
		t.Errorf("FindingsTopic: got %q", cfg.Notify.FindingsTopic)
	}
	if p, ok := cfg.RateLimit.Routes["POST /access/validate"]; !ok || p.Limit != 10 || p.Window != time.Minute {
		t.Errorf("access route policy: got %+v, %v", p, ok)
	}
}

func TestLoad_MissingSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("DB_PASSWORD", "test")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for missing SESSION_SECRET")
	}
}

func TestLoad_MissingDBPassword(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for missing DB_PASSWORD")
	}
}

func TestServerConfig_Timeouts_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "30s")
	t.Setenv("SERVER_WRITE_TIMEOUT", "45s")
	t.Setenv("SERVER_IDLE_TIMEOUT", "120s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 30 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 45 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 120 * time.Second},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}
}

func TestServerConfig_Timeouts_InvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	// Invalid duration should fall back to default
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout with invalid value: got %v, want %v", cfg.Server.ReadTimeout, 15*time.Second)
	}
}

func TestServerConfig_Timeouts_ZeroValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	// Explicitly setting 0s should be honored (no timeout)
	if cfg.Server.ReadTimeout != 0 {
		t.Errorf("ReadTimeout with 0s: got %v, want 0", cfg.Server.ReadTimeout)
	}
}

func TestValidateSessionSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		env     string
		wantErr bool
	}{
		{"dev minimum", "0123456789abcdef", "development", false},
		{"dev too short", "short", "development", true},
		{"production needs 32", "0123456789abcdef0123", "production", true},
		{"production ok", "0123456789abcdef0123456789abcdef", "production", false},
		{"weak value", "password", "development", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSessionSecret(tt.secret, tt.env)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSessionSecret(%q, %q) = %v, wantErr %v", tt.secret, tt.env, err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FailureDelayBounds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ACCESS_FAILURE_DELAY_MIN", "2s")
	t.Setenv("ACCESS_FAILURE_DELAY_MAX", "1s")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error when the delay maximum is below the minimum")
	}
}

func TestLoad_AlertSenderRequiredWithRecipients(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ALERT_EMAIL_TO", "ops@example.com")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error when ALERT_EMAIL_FROM is missing")
	}

	t.Setenv("ALERT_EMAIL_FROM", "warden@example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if len(cfg.Notify.EmailTo) != 1 || cfg.Notify.EmailTo[0] != "ops@example.com" {
		t.Errorf("EmailTo: got %v", cfg.Notify.EmailTo)
	}
}

func TestParseRoutePolicies(t *testing.T) {
	routes, err := parseRoutePolicies("post /access/validate=5/30s; GET /findings=120/1m")
	if err != nil {
		t.Fatalf("parseRoutePolicies() = %v, want nil", err)
	}

	if p := routes["POST /access/validate"]; p.Limit != 5 || p.Window != 30*time.Second {
		t.Errorf("override: got %+v", p)
	}
	if p := routes["GET /findings"]; p.Limit != 120 || p.Window != time.Minute {
		t.Errorf("GET /findings: got %+v", p)
	}
}

func TestParseRoutePolicies_Invalid(t *testing.T) {
	tests := []string{
		"POST /access/validate",
		"/access/validate=5/1m",
		"POST /access/validate=five/1m",
		"POST /access/validate=5",
		"POST /access/validate=5/soon",
		"POST /access/validate=0/1m",
	}

	for _, raw := range tests {
		if _, err := parseRoutePolicies(raw); err == nil {
			t.Errorf("parseRoutePolicies(%q) = nil, want error", raw)
		}
	}
}
