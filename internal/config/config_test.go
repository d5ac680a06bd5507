package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.StoreBackend != "file" {
		t.Errorf("StoreBackend = %q, want file", cfg.StoreBackend)
	}
	if cfg.ListenChannel != "0" {
		t.Errorf("ListenChannel = %q, want 0", cfg.ListenChannel)
	}
	if cfg.MaxMessageLength != 120 {
		t.Errorf("MaxMessageLength = %d, want 120", cfg.MaxMessageLength)
	}
	if cfg.ContextWindow != 10 {
		t.Errorf("ContextWindow = %d, want 10", cfg.ContextWindow)
	}
	if cfg.EventLogMax != 1000 {
		t.Errorf("EventLogMax = %d, want 1000", cfg.EventLogMax)
	}
	if cfg.ReasoningTimeout != 30*time.Second {
		t.Errorf("ReasoningTimeout = %s, want 30s", cfg.ReasoningTimeout)
	}
	if !cfg.IsDevelopment() {
		t.Error("default env should be development")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("MAX_MESSAGE_LENGTH", "160")
	t.Setenv("CHUNK_DELAY_MS", "250")
	t.Setenv("LISTEN_CHANNEL", "3")

	cfg := Load()

	if cfg.StoreBackend != "sqlite" {
		t.Errorf("StoreBackend = %q, want sqlite", cfg.StoreBackend)
	}
	if cfg.MaxMessageLength != 160 {
		t.Errorf("MaxMessageLength = %d, want 160", cfg.MaxMessageLength)
	}
	if cfg.ChunkDelay != 250*time.Millisecond {
		t.Errorf("ChunkDelay = %s, want 250ms", cfg.ChunkDelay)
	}
	if cfg.ListenChannel != "3" {
		t.Errorf("ListenChannel = %q, want 3", cfg.ListenChannel)
	}
}

func TestInvalidIntFallsBack(t *testing.T) {
	t.Setenv("CONTEXT_WINDOW", "not-a-number")

	cfg := Load()
	if cfg.ContextWindow != 10 {
		t.Errorf("ContextWindow = %d, want default 10", cfg.ContextWindow)
	}
}
