package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg := LoadServerConfig()
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.PollMaxAttempts != 60 {
		t.Fatalf("expected 60 poll attempts, got %d", cfg.PollMaxAttempts)
	}
	if cfg.MaxAutoFixAttempts != 3 {
		t.Fatalf("expected 3 auto-fix attempts, got %d", cfg.MaxAutoFixAttempts)
	}
	if cfg.MaxAutoFixAttemptsLimit != 10 {
		t.Fatalf("expected auto-fix limit 10, got %d", cfg.MaxAutoFixAttemptsLimit)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL_SECONDS", "5")
	t.Setenv("MAX_AUTOFIX_ATTEMPTS", "1")
	t.Setenv("PREVIEW_TTL_HOURS", "2")
	t.Setenv("POLL_MAX_ATTEMPTS", "not-a-number")

	cfg := LoadServerConfig()
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.MaxAutoFixAttempts != 1 {
		t.Fatalf("expected 1 auto-fix attempt, got %d", cfg.MaxAutoFixAttempts)
	}
	if cfg.PreviewTTL != 2*time.Hour {
		t.Fatalf("expected 2h ttl, got %s", cfg.PreviewTTL)
	}
	if cfg.PollMaxAttempts != 60 {
		t.Fatalf("expected fallback for invalid int, got %d", cfg.PollMaxAttempts)
	}
}

func TestGetBoolFallback(t *testing.T) {
	t.Setenv("PREVIEW_FLAG", "yes-please")
	if got := GetBool("PREVIEW_FLAG", true); !got {
		t.Fatal("expected fallback true for unparsable bool")
	}
	t.Setenv("PREVIEW_FLAG", "false")
	if got := GetBool("PREVIEW_FLAG", true); got {
		t.Fatal("expected parsed false")
	}
}
