package config

import (
	"os"
	"testing"
	"time"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "ALLOWED_ORIGINS", "WARNING_THRESHOLD", "FULLSCREEN_RETRY_DELAY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WarningThreshold != 3 {
		t.Errorf("WarningThreshold = %d, want 3", cfg.WarningThreshold)
	}
	if cfg.FullscreenRetry != time.Second {
		t.Errorf("FullscreenRetry = %v, want 1s", cfg.FullscreenRetry)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("WARNING_THRESHOLD", "5")
	t.Setenv("GRADER_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	if cfg.WarningThreshold != 5 {
		t.Errorf("WarningThreshold = %d, want 5", cfg.WarningThreshold)
	}
	if cfg.GraderTimeout != 5*time.Second {
		t.Errorf("GraderTimeout = %v, want 5s", cfg.GraderTimeout)
	}
}

func TestLoadRejectsZeroThreshold(t *testing.T) {
	t.Setenv("WARNING_THRESHOLD", "0")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted WARNING_THRESHOLD=0")
	}
}

func TestCacheKeys(t *testing.T) {
	if got := CacheKey.LiveSessionKey("a1", 7); got != "subject:7:assessment:a1:live" {
		t.Errorf("LiveSessionKey = %q", got)
	}
	if got := CacheKey.CatalogPayloadKey("a1"); got != "assessment:a1:catalog" {
		t.Errorf("CatalogPayloadKey = %q", got)
	}
}
