// Package config provides configuration management for sluice using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/sluicedev/sluice/pkg/bytesize"
)

// Default configuration values.
const (
	defaultHTTPTimeout          = 20 * time.Second
	defaultHTTPRetries          = 3
	defaultHTTPRetryBackoff     = 10 * time.Second
	defaultStreamTimeout        = 60 * time.Second
	defaultSegmentAttempts      = 3
	defaultSegmentThreads       = 1
	defaultSegmentTimeout       = 10 * time.Second
	defaultSegmentQueueSize     = 8
	defaultRingbufferSize       = 16 * bytesize.MB
	defaultHLSLiveEdge          = 3
	defaultHLSReloadAttempts    = 3
	defaultHLSQueueThreshold    = 3.0
	defaultCacheCleanupSchedule = "0 */10 * * * *"
	maxSegmentThreads           = 10
)

// Config holds all configuration for the application.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Stream  StreamConfig  `mapstructure:"stream"`
	HLS     HLSConfig     `mapstructure:"hls"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
	Locale  string        `mapstructure:"locale"`
}

// HTTPConfig holds settings applied to every outbound request.
type HTTPConfig struct {
	Proxy        string            `mapstructure:"proxy"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	Retries      int               `mapstructure:"retries"`
	RetryBackoff time.Duration     `mapstructure:"retry_backoff"`
	SSLVerify    bool              `mapstructure:"ssl_verify"`
	SSLCert      string            `mapstructure:"ssl_cert"`
	SSLKey       string            `mapstructure:"ssl_key"`
	CABundle     string            `mapstructure:"ca_bundle"`
	Headers      map[string]string `mapstructure:"headers"`
	Cookies      map[string]string `mapstructure:"cookies"`
	QueryParams  map[string]string `mapstructure:"query_params"`
}

// StreamConfig holds settings for the segmented streaming engine.
type StreamConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	SegmentAttempts int           `mapstructure:"segment_attempts"`
	SegmentThreads  int           `mapstructure:"segment_threads"`
	SegmentTimeout  time.Duration `mapstructure:"segment_timeout"`
	QueueSize       int           `mapstructure:"queue_size"`
	// RingbufferSize is the byte capacity of the reader-side ring buffer.
	// Supports human-readable values like "16MB" or raw byte counts.
	RingbufferSize bytesize.Size `mapstructure:"ringbuffer_size"`
}

// HLSConfig holds HLS protocol settings.
type HLSConfig struct {
	LiveEdge               int     `mapstructure:"live_edge"`
	LiveRestart            bool    `mapstructure:"live_restart"`
	StartOffset            string  `mapstructure:"start_offset"`
	Duration               string  `mapstructure:"duration"`
	PlaylistReloadAttempts int     `mapstructure:"playlist_reload_attempts"`
	PlaylistReloadTime     string  `mapstructure:"playlist_reload_time"`
	SegmentQueueThreshold  float64 `mapstructure:"segment_queue_threshold"`
}

// CacheConfig holds the plugin cache settings.
type CacheConfig struct {
	// Path is the sqlite database file backing the cache.
	// Empty disables persistence (in-memory database).
	Path string `mapstructure:"path"`
	// CleanupSchedule is a 6-field cron expression for the expired-entry sweep.
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with SLUICE_, using underscores for nesting.
// Example: SLUICE_HTTP_TIMEOUT=30s.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sluice")
		v.AddConfigPath("$HOME/.sluice")
	}

	v.SetEnvPrefix("SLUICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook returns the mapstructure hook chain used when unmarshaling.
// TextUnmarshallerHookFunc enables human-readable ByteSize values.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// HTTP defaults
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.timeout", defaultHTTPTimeout)
	v.SetDefault("http.retries", defaultHTTPRetries)
	v.SetDefault("http.retry_backoff", defaultHTTPRetryBackoff)
	v.SetDefault("http.ssl_verify", true)
	v.SetDefault("http.headers", map[string]string{})
	v.SetDefault("http.cookies", map[string]string{})
	v.SetDefault("http.query_params", map[string]string{})

	// Stream defaults
	v.SetDefault("stream.timeout", defaultStreamTimeout)
	v.SetDefault("stream.segment_attempts", defaultSegmentAttempts)
	v.SetDefault("stream.segment_threads", defaultSegmentThreads)
	v.SetDefault("stream.segment_timeout", defaultSegmentTimeout)
	v.SetDefault("stream.queue_size", defaultSegmentQueueSize)
	v.SetDefault("stream.ringbuffer_size", int64(defaultRingbufferSize))

	// HLS defaults
	v.SetDefault("hls.live_edge", defaultHLSLiveEdge)
	v.SetDefault("hls.live_restart", false)
	v.SetDefault("hls.start_offset", "0")
	v.SetDefault("hls.duration", "0")
	v.SetDefault("hls.playlist_reload_attempts", defaultHLSReloadAttempts)
	v.SetDefault("hls.playlist_reload_time", "default")
	v.SetDefault("hls.segment_queue_threshold", defaultHLSQueueThreshold)

	// Cache defaults
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.cleanup_schedule", defaultCacheCleanupSchedule)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Locale defaults to the system locale when empty.
	v.SetDefault("locale", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.HTTP.Retries < 0 {
		return fmt.Errorf("http.retries must not be negative")
	}

	if c.Stream.SegmentThreads < 1 || c.Stream.SegmentThreads > maxSegmentThreads {
		return fmt.Errorf("stream.segment_threads must be between 1 and %d", maxSegmentThreads)
	}
	if c.Stream.SegmentAttempts < 1 {
		return fmt.Errorf("stream.segment_attempts must be at least 1")
	}
	if c.Stream.QueueSize < 1 {
		return fmt.Errorf("stream.queue_size must be at least 1")
	}
	if c.Stream.RingbufferSize <= 0 {
		return fmt.Errorf("stream.ringbuffer_size must be positive")
	}

	if c.HLS.LiveEdge < 1 {
		return fmt.Errorf("hls.live_edge must be at least 1")
	}
	if c.HLS.PlaylistReloadAttempts < 1 {
		return fmt.Errorf("hls.playlist_reload_attempts must be at least 1")
	}
	if c.HLS.SegmentQueueThreshold <= 0 {
		return fmt.Errorf("hls.segment_queue_threshold must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
