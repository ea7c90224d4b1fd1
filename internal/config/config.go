// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/comfort-companion/internal/archive"
	"github.com/ashureev/comfort-companion/internal/capture"
	"github.com/ashureev/comfort-companion/internal/companion"
	"github.com/ashureev/comfort-companion/internal/sessionstate"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	StoreQuotaBytes int64
	PollInterval    time.Duration
	LogLevel        string
	Companion       CompanionConfig
}

// CompanionConfig controls the voice companion process.
type CompanionConfig struct {
	BackendURL           string
	CaptureMode          string
	ChunkInterval        time.Duration
	BoundedWindow        time.Duration
	GreetingDelay        time.Duration
	SettleDelay          time.Duration
	PermissionRetryDelay time.Duration
	ThinkingTimeout      time.Duration
	ReconnectDelay       time.Duration
	PersonaPath          string
	FFmpegPath           string
	FFplayPath           string
	MicDevice            string
	MicCommand           string
	SpeakerVolume        int
	NoSpeaker            bool
	ArchiveDir           string
	ArchiveQueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/companion.db"),
		StoreQuotaBytes: int64(getEnvInt("STORE_QUOTA_BYTES", 50<<20)),
		PollInterval:    getEnvDuration("POLL_INTERVAL", sessionstate.DefaultPollInterval),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Companion: CompanionConfig{
			BackendURL:           getEnv("COMPANION_BACKEND_URL", ""),
			CaptureMode:          getEnv("CAPTURE_MODE", "continuous"),
			ChunkInterval:        getEnvDuration("CAPTURE_CHUNK_INTERVAL", capture.DefaultChunkInterval),
			BoundedWindow:        getEnvDuration("CAPTURE_BOUNDED_WINDOW", capture.DefaultBoundedWindow),
			GreetingDelay:        getEnvDuration("GREETING_DELAY", companion.DefaultGreetingDelay),
			SettleDelay:          getEnvDuration("SETTLE_DELAY", companion.DefaultSettleDelay),
			PermissionRetryDelay: getEnvDuration("PERMISSION_RETRY_DELAY", companion.DefaultPermissionRetryDelay),
			ThinkingTimeout:      getEnvDuration("THINKING_TIMEOUT", companion.DefaultThinkingTimeout),
			ReconnectDelay:       getEnvDuration("RECONNECT_DELAY", companion.DefaultReconnectDelay),
			PersonaPath:          getEnv("COMPANION_PERSONA", ""),
			FFmpegPath:           getEnv("FFMPEG_PATH", "ffmpeg"),
			FFplayPath:           getEnv("FFPLAY_PATH", "ffplay"),
			MicDevice:            getEnv("MIC_DEVICE", ""),
			MicCommand:           getEnv("MIC_COMMAND", ""),
			SpeakerVolume:        getEnvInt("SPEAKER_VOLUME", 80),
			NoSpeaker:            getEnvBool("NO_SPEAKER", false),
			ArchiveDir:           getEnv("TRANSCRIPT_ARCHIVE_DIR", ""),
			ArchiveQueueSize:     getEnvInt("TRANSCRIPT_ARCHIVE_QUEUE", archive.DefaultQueueSize),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings shared by both processes.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.StoreQuotaBytes < 0 {
		return fmt.Errorf("STORE_QUOTA_BYTES must be >= 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if _, err := capture.ParseMode(c.Companion.CaptureMode); err != nil {
		return fmt.Errorf("CAPTURE_MODE: %w", err)
	}
	if c.Companion.ChunkInterval <= 0 {
		return fmt.Errorf("CAPTURE_CHUNK_INTERVAL must be > 0")
	}
	if c.Companion.BoundedWindow < c.Companion.ChunkInterval {
		return fmt.Errorf("CAPTURE_BOUNDED_WINDOW must be >= CAPTURE_CHUNK_INTERVAL")
	}
	if c.Companion.SpeakerVolume < 0 || c.Companion.SpeakerVolume > 100 {
		return fmt.Errorf("SPEAKER_VOLUME must be between 0 and 100")
	}
	return nil
}

// ValidateCompanion checks the settings only the companion process needs.
func (c *Config) ValidateCompanion() error {
	if c.Companion.BackendURL == "" {
		return fmt.Errorf("COMPANION_BACKEND_URL cannot be empty")
	}
	u, err := url.Parse(c.Companion.BackendURL)
	if err != nil {
		return fmt.Errorf("COMPANION_BACKEND_URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("COMPANION_BACKEND_URL must use ws:// or wss://, got %q", u.Scheme)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LOG_LEVEL to a slog level. Unknown values are info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("750ms") or bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
