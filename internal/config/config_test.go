package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CAPTURE_MODE", "bounded")
	t.Setenv("SETTLE_DELAY", "250")
	t.Setenv("RECONNECT_DELAY", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9000" || cfg.Companion.CaptureMode != "bounded" {
		t.Fatalf("Load() = %+v", cfg)
	}
	if cfg.Companion.SettleDelay != 250*time.Millisecond {
		t.Fatalf("SettleDelay = %v, want 250ms", cfg.Companion.SettleDelay)
	}
	if cfg.Companion.ReconnectDelay != 5*time.Second {
		t.Fatalf("ReconnectDelay = %v, want 5s", cfg.Companion.ReconnectDelay)
	}
	if cfg.Companion.ChunkInterval != 250*time.Millisecond || cfg.Companion.BoundedWindow != 6*time.Second {
		t.Fatalf("capture timing = %v / %v", cfg.Companion.ChunkInterval, cfg.Companion.BoundedWindow)
	}
	if !cfg.IsDevelopment() {
		t.Fatal("empty FRONTEND_URL should be development")
	}
}

func TestLoadRejectsBadCaptureMode(t *testing.T) {
	t.Setenv("CAPTURE_MODE", "push-to-talk")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown capture mode")
	}
}

func TestValidateCompanion(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateCompanion(); err == nil {
		t.Fatal("expected error for empty backend URL")
	}
	cfg.Companion.BackendURL = "http://backend/ws"
	if err := cfg.ValidateCompanion(); err == nil {
		t.Fatal("expected error for http scheme")
	}
	cfg.Companion.BackendURL = "wss://backend.example.com/ws"
	if err := cfg.ValidateCompanion(); err != nil {
		t.Fatalf("ValidateCompanion() error = %v", err)
	}
}

func TestLoadPersona(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	body := strings.Join([]string{
		"companion:",
		"  voice_style: warm and unhurried",
		"  tone_anchors:",
		"    - gentle",
		"    - reassuring",
		"  safety_boundaries:",
		"    - never correct a memory",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p, err := LoadPersona(path)
	if err != nil {
		t.Fatalf("LoadPersona() error = %v", err)
	}
	if p.VoiceStyle != "warm and unhurried" || len(p.ToneAnchors) != 2 || p.SafetyBoundaries[0] != "never correct a memory" {
		t.Fatalf("LoadPersona() = %+v", p)
	}

	t.Setenv("COMPANION_VOICE_STYLE", "bright")
	p, err = LoadPersona(path)
	if err != nil || p.VoiceStyle != "bright" {
		t.Fatalf("LoadPersona() with override = %+v, %v", p, err)
	}
}

func TestLoadPersonaRequiresVoiceStyle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte("companion:\n  tone_anchors: [calm]\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadPersona(path); err == nil {
		t.Fatal("expected error without voice_style")
	}
	if _, err := LoadPersona(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
