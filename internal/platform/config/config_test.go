package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadUsesDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv("STREAM_MAX_DELIVERIES")
	os.Unsetenv("STREAM_BLOCK_MS")

	cfg := Load(nil)

	if cfg.StreamMaxDeliveries != 5 {
		t.Fatalf("expected default 5, got %d", cfg.StreamMaxDeliveries)
	}
	if cfg.StreamBlockTimeout != 5*time.Second {
		t.Fatalf("expected default 5s, got %v", cfg.StreamBlockTimeout)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	os.Setenv("STREAM_MAX_DELIVERIES", "9")
	defer os.Unsetenv("STREAM_MAX_DELIVERIES")

	cfg := Load(nil)

	if cfg.StreamMaxDeliveries != 9 {
		t.Fatalf("expected 9, got %d", cfg.StreamMaxDeliveries)
	}
}
