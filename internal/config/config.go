package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ios-tooling/tapedeck/internal/audio"
)

// Config represents the complete recorder configuration
type Config struct {
	Recording RecordingConfig `yaml:"recording"`
	Levels    LevelsConfig    `yaml:"levels"`
	Converter ConverterConfig `yaml:"converter"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RecordingConfig contains chunk store parameters
type RecordingConfig struct {
	Directory                 string  `yaml:"directory"`
	ChunkDuration             float64 `yaml:"chunk_duration"`     // seconds
	RetentionDuration         float64 `yaml:"retention_duration"` // seconds, 0 keeps everything
	SampleRate                int     `yaml:"sample_rate"`
	Channels                  int     `yaml:"channels"`
	BitDepth                  int     `yaml:"bit_depth"`
	Output                    string  `yaml:"output"`        // single_file, segmented or raw_mirror
	TargetFormat              string  `yaml:"target_format"` // see audio.FileTypeNames
	QueueSize                 int     `yaml:"queue_size"`
	DeleteConversionArtifacts bool    `yaml:"delete_conversion_artifacts"`
	IdleTimeout               float64 `yaml:"idle_timeout"` // seconds, 0 disables
	Resume                    bool    `yaml:"resume"`
	SamplesPerFile            int     `yaml:"samples_per_file"` // raw_mirror only
}

// LevelsConfig contains live level meter parameters
type LevelsConfig struct {
	Granularity       float64 `yaml:"granularity"` // seconds
	HistoryLimit      int     `yaml:"history_limit"`
	TargetSamples     int     `yaml:"target_samples"`
	ActivityThreshold float64 `yaml:"activity_threshold"` // dBFS
}

// ConverterConfig contains external codec configuration
type ConverterConfig struct {
	FFmpegPath    string `yaml:"ffmpeg_path"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Bitrate       string `yaml:"bitrate"`
	Parallelism   int    `yaml:"parallelism"`
}

// CatalogConfig contains the recording catalog location
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HTTPConfig contains HTTP status server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"` // stdout, stderr or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a complete, valid configuration
func Default() *Config {
	return &Config{
		Recording: RecordingConfig{
			Directory:     "recordings",
			ChunkDuration: 30,
			SampleRate:    16000,
			Channels:      1,
			BitDepth:      16,
			Output:        "segmented",
			TargetFormat:  "wav16k",
			QueueSize:     64,
			IdleTimeout:   0,
		},
		Levels: LevelsConfig{
			Granularity:       1,
			HistoryLimit:      5000,
			TargetSamples:     100,
			ActivityThreshold: -50,
		},
		Converter: ConverterConfig{
			FFmpegPath:    "ffmpeg",
			Timeout:       60,
			MaxRetries:    2,
			MaxConcurrent: 2,
			Bitrate:       "64k",
			Parallelism:   4,
		},
		Catalog: CatalogConfig{
			Enabled: true,
			Path:    "recordings/catalog.db",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the
// file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Levels.Validate(); err != nil {
		return fmt.Errorf("levels config: %w", err)
	}

	if err := c.Converter.Validate(); err != nil {
		return fmt.Errorf("converter config: %w", err)
	}

	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	if r.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", r.ChunkDuration)
	}

	if r.RetentionDuration < 0 {
		return fmt.Errorf("retention_duration cannot be negative, got %f", r.RetentionDuration)
	}

	if r.SampleRate < 8000 || r.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", r.SampleRate)
	}

	if r.Channels < 1 || r.Channels > 8 {
		return fmt.Errorf("channels must be between 1 and 8, got %d", r.Channels)
	}

	if r.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", r.BitDepth)
	}

	validOutputs := map[string]bool{"single_file": true, "segmented": true, "raw_mirror": true}
	if !validOutputs[strings.ToLower(r.Output)] {
		return fmt.Errorf("output must be one of [single_file, segmented, raw_mirror], got '%s'", r.Output)
	}

	if _, err := audio.ParseFileType(r.TargetFormat); err != nil {
		return fmt.Errorf("target_format: %w", err)
	}

	if r.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", r.QueueSize)
	}

	if r.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %f", r.IdleTimeout)
	}

	if strings.ToLower(r.Output) == "raw_mirror" && r.SamplesPerFile < 1 {
		return fmt.Errorf("samples_per_file must be at least 1 for raw_mirror output, got %d", r.SamplesPerFile)
	}

	return nil
}

// Validate validates levels configuration
func (l *LevelsConfig) Validate() error {
	if l.Granularity <= 0 {
		return fmt.Errorf("granularity must be positive, got %f", l.Granularity)
	}

	if l.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1, got %d", l.HistoryLimit)
	}

	if l.TargetSamples < 1 {
		return fmt.Errorf("target_samples must be at least 1, got %d", l.TargetSamples)
	}

	if l.ActivityThreshold < -80 || l.ActivityThreshold > 0 {
		return fmt.Errorf("activity_threshold must be between -80 and 0 dBFS, got %f", l.ActivityThreshold)
	}

	return nil
}

// Validate validates converter configuration
func (c *ConverterConfig) Validate() error {
	if c.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}

	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism)
	}

	return nil
}

// Validate validates catalog configuration
func (c *CatalogConfig) Validate() error {
	if c.Enabled && c.Path == "" {
		return fmt.Errorf("path cannot be empty when the catalog is enabled")
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits cannot be negative")
	}

	return nil
}

// IsFile reports whether logs go to a rotated file rather than a stream
func (l *LoggingConfig) IsFile() bool {
	return l.Output != "stdout" && l.Output != "stderr"
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (r *RecordingConfig) GetChunkDuration() time.Duration {
	return seconds(r.ChunkDuration)
}

// GetRetentionDuration returns the retention window as a time.Duration
func (r *RecordingConfig) GetRetentionDuration() time.Duration {
	return seconds(r.RetentionDuration)
}

// GetIdleTimeoutDuration returns the session idle timeout as a time.Duration
func (r *RecordingConfig) GetIdleTimeoutDuration() time.Duration {
	return seconds(r.IdleTimeout)
}

// GetTargetType returns the parsed target file type
func (r *RecordingConfig) GetTargetType() (audio.FileType, error) {
	return audio.ParseFileType(r.TargetFormat)
}

// GetGranularityDuration returns the summary granularity as a time.Duration
func (l *LevelsConfig) GetGranularityDuration() time.Duration {
	return seconds(l.Granularity)
}

// GetTimeoutDuration returns the codec timeout as a time.Duration
func (c *ConverterConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ListenAddress returns the host:port the HTTP server listens on
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
