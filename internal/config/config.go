// Package config loads server configuration from environment variables
// (optionally seeded from a .env file by main) via viper.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Speed factor bounds. Requested factors are clamped into this range.
const (
	MinSpeedFactor = 1.0
	MaxSpeedFactor = 3.0
)

// Config holds every recognized option with its resolved value.
type Config struct {
	// HTTP server.
	Port   string
	APIKey string

	// Upstream transcription service.
	OpenAIAPIKey   string
	RequestTimeout time.Duration

	// Pipeline defaults.
	SpeedFactor       float64
	ChunkTime         time.Duration
	ConcurrentChunks  int
	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxConcurrentJobs int64

	// Upload limits.
	MaxFileSizeMB       int64
	AllowedAudioFormats []string

	// Silence-aware chunking.
	SilenceThresholdDB float64
	SilenceDuration    time.Duration
	SilenceWindow      time.Duration
	MinChunkDuration   time.Duration

	// Storage.
	TempDir        string
	OutputDir      string
	TempFileMaxAge time.Duration

	// Logging.
	LogLevel string
	LogJSON  bool
}

// setDefaults registers the default for every recognized option.
func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("API_KEY", "")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("SPEED_FACTOR", 2.0)
	v.SetDefault("CHUNK_TIME", 900)
	v.SetDefault("CONCURRENT_CHUNKS", 4)
	v.SetDefault("MAX_RETRIES", 5)
	v.SetDefault("INITIAL_RETRY_DELAY", 1000)
	v.SetDefault("REQUEST_TIMEOUT", 600000)
	v.SetDefault("MAX_FILE_SIZE_MB", 500)
	v.SetDefault("ALLOWED_AUDIO_FORMATS", "mp3,wav,m4a,ogg,flac,aac")
	v.SetDefault("MAX_CONCURRENT_JOBS", 2)
	v.SetDefault("SILENCE_THRESHOLD", -40.0)
	v.SetDefault("SILENCE_DURATION", 0.5)
	v.SetDefault("SILENCE_WINDOW", 5.0)
	v.SetDefault("MIN_CHUNK_DURATION", 30.0)
	v.SetDefault("TEMP_DIR", "temp")
	v.SetDefault("OUTPUT_DIR", "output")
	v.SetDefault("TEMP_FILE_MAX_AGE_HOURS", 24)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load resolves the configuration from the environment.
// Numeric time options keep their historical units: CHUNK_TIME and the
// SILENCE_* options are seconds, INITIAL_RETRY_DELAY and REQUEST_TIMEOUT
// are milliseconds.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:                v.GetString("PORT"),
		APIKey:              v.GetString("API_KEY"),
		OpenAIAPIKey:        v.GetString("OPENAI_API_KEY"),
		SpeedFactor:         v.GetFloat64("SPEED_FACTOR"),
		ChunkTime:           time.Duration(v.GetFloat64("CHUNK_TIME") * float64(time.Second)),
		ConcurrentChunks:    v.GetInt("CONCURRENT_CHUNKS"),
		MaxRetries:          v.GetInt("MAX_RETRIES"),
		InitialRetryDelay:   time.Duration(v.GetInt("INITIAL_RETRY_DELAY")) * time.Millisecond,
		RequestTimeout:      time.Duration(v.GetInt("REQUEST_TIMEOUT")) * time.Millisecond,
		MaxFileSizeMB:       v.GetInt64("MAX_FILE_SIZE_MB"),
		AllowedAudioFormats: splitFormats(v.GetString("ALLOWED_AUDIO_FORMATS")),
		MaxConcurrentJobs:   v.GetInt64("MAX_CONCURRENT_JOBS"),
		SilenceThresholdDB:  v.GetFloat64("SILENCE_THRESHOLD"),
		SilenceDuration:     time.Duration(v.GetFloat64("SILENCE_DURATION") * float64(time.Second)),
		SilenceWindow:       time.Duration(v.GetFloat64("SILENCE_WINDOW") * float64(time.Second)),
		MinChunkDuration:    time.Duration(v.GetFloat64("MIN_CHUNK_DURATION") * float64(time.Second)),
		TempDir:             v.GetString("TEMP_DIR"),
		OutputDir:           v.GetString("OUTPUT_DIR"),
		TempFileMaxAge:      time.Duration(v.GetInt("TEMP_FILE_MAX_AGE_HOURS")) * time.Hour,
		LogLevel:            strings.ToLower(v.GetString("LOG_LEVEL")),
		LogJSON:             v.GetString("LOG_FORMAT") != "text",
	}

	return cfg, cfg.validate()
}

// validate normalizes values that have hard bounds and rejects the rest.
func (c *Config) validate() error {
	c.SpeedFactor = ClampSpeed(c.SpeedFactor)

	if c.ConcurrentChunks < 1 {
		c.ConcurrentChunks = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxConcurrentJobs < 1 {
		c.MaxConcurrentJobs = 1
	}
	if c.MaxFileSizeMB < 1 {
		return fmt.Errorf("MAX_FILE_SIZE_MB must be positive, got %d", c.MaxFileSizeMB)
	}
	if len(c.AllowedAudioFormats) == 0 {
		return fmt.Errorf("ALLOWED_AUDIO_FORMATS must name at least one extension")
	}
	if c.TempDir == "" || c.OutputDir == "" {
		return fmt.Errorf("TEMP_DIR and OUTPUT_DIR must be set")
	}
	return nil
}

// ClampSpeed forces a requested speed factor into [MinSpeedFactor, MaxSpeedFactor].
func ClampSpeed(f float64) float64 {
	if f < MinSpeedFactor {
		return MinSpeedFactor
	}
	if f > MaxSpeedFactor {
		return MaxSpeedFactor
	}
	return f
}

// FormatAllowed reports whether an audio file extension (without dot,
// case-insensitive) is in the allowed set.
func (c *Config) FormatAllowed(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range c.AllowedAudioFormats {
		if ext == allowed {
			return true
		}
	}
	return false
}

// SlogLevel maps the configured LOG_LEVEL onto slog. Unknown values
// fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MaxFileSizeBytes returns the upload cap in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// splitFormats parses a comma-separated extension list, lowercased and trimmed.
func splitFormats(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, strings.TrimPrefix(part, "."))
		}
	}
	return out
}
