package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ios-tooling/tapedeck/internal/audio"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid configuration",
			modify: func(c *Config) {},
		},
		{
			name:        "zero chunk duration",
			modify:      func(c *Config) { c.Recording.ChunkDuration = 0 },
			expectError: true,
			errorMsg:    "chunk_duration must be positive",
		},
		{
			name:        "negative retention",
			modify:      func(c *Config) { c.Recording.RetentionDuration = -1 },
			expectError: true,
			errorMsg:    "retention_duration cannot be negative",
		},
		{
			name:        "unknown target format",
			modify:      func(c *Config) { c.Recording.TargetFormat = "flac" },
			expectError: true,
			errorMsg:    "target_format",
		},
		{
			name:        "unknown output",
			modify:      func(c *Config) { c.Recording.Output = "tape" },
			expectError: true,
			errorMsg:    "output must be one of",
		},
		{
			name:        "raw mirror without samples per file",
			modify:      func(c *Config) { c.Recording.Output = "raw_mirror" },
			expectError: true,
			errorMsg:    "samples_per_file",
		},
		{
			name: "raw mirror with samples per file",
			modify: func(c *Config) {
				c.Recording.Output = "raw_mirror"
				c.Recording.SamplesPerFile = 16000
			},
		},
		{
			name:        "8 bit depth",
			modify:      func(c *Config) { c.Recording.BitDepth = 8 },
			expectError: true,
			errorMsg:    "bit_depth must be 16",
		},
		{
			name:        "threshold above full scale",
			modify:      func(c *Config) { c.Levels.ActivityThreshold = 3 },
			expectError: true,
			errorMsg:    "activity_threshold",
		},
		{
			name:        "empty ffmpeg path",
			modify:      func(c *Config) { c.Converter.FFmpegPath = "" },
			expectError: true,
			errorMsg:    "ffmpeg_path cannot be empty",
		},
		{
			name:        "catalog enabled without path",
			modify:      func(c *Config) { c.Catalog.Path = "" },
			expectError: true,
			errorMsg:    "catalog config",
		},
		{
			name: "catalog disabled without path",
			modify: func(c *Config) {
				c.Catalog.Enabled = false
				c.Catalog.Path = ""
			},
		},
		{
			name: "invalid http port",
			modify: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Port = 70000
			},
			expectError: true,
			errorMsg:    "http port must be between",
		},
		{
			name:        "invalid log level",
			modify:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)
			err := config.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "full configuration",
			configYAML: `
recording:
  directory: /var/lib/tapedeck
  chunk_duration: 5
  retention_duration: 10.5
  sample_rate: 48000
  channels: 2
  bit_depth: 16
  output: segmented
  target_format: m4a
  queue_size: 16
  delete_conversion_artifacts: true
  idle_timeout: 300
  resume: true

levels:
  granularity: 0.5
  history_limit: 100
  target_samples: 50
  activity_threshold: -40

converter:
  ffmpeg_path: /usr/bin/ffmpeg
  timeout: 30
  max_retries: 1
  max_concurrent: 4
  bitrate: 96k
  parallelism: 2

catalog:
  enabled: false

http:
  enabled: true
  address: 0.0.0.0
  port: 9090

logging:
  level: debug
  format: json
  output: /var/log/tapedeck.log
  max_size_mb: 10
  compress: true
`,
			check: func(t *testing.T, c *Config) {
				if c.Recording.GetChunkDuration() != 5*time.Second {
					t.Errorf("Expected 5s chunks, got %v", c.Recording.GetChunkDuration())
				}
				if c.Recording.GetRetentionDuration() != 10500*time.Millisecond {
					t.Errorf("Expected 10.5s retention, got %v", c.Recording.GetRetentionDuration())
				}
				target, err := c.Recording.GetTargetType()
				if err != nil || target.Name != audio.M4A.Name {
					t.Errorf("Expected m4a target, got %v (%v)", target, err)
				}
				if !c.Recording.Resume || !c.Recording.DeleteConversionArtifacts {
					t.Error("Expected resume and delete_conversion_artifacts to be set")
				}
				if c.HTTP.ListenAddress() != "0.0.0.0:9090" {
					t.Errorf("Unexpected listen address %s", c.HTTP.ListenAddress())
				}
				if !c.Logging.IsFile() || c.Logging.MaxBackups != 3 {
					t.Errorf("Expected file logging with default backups, got %+v", c.Logging)
				}
			},
		},
		{
			name: "partial configuration keeps defaults",
			configYAML: `
recording:
  chunk_duration: 60
`,
			check: func(t *testing.T, c *Config) {
				if c.Recording.ChunkDuration != 60 {
					t.Errorf("Expected chunk duration 60, got %f", c.Recording.ChunkDuration)
				}
				if c.Recording.SampleRate != 16000 || c.Converter.FFmpegPath != "ffmpeg" {
					t.Errorf("Expected defaults to survive, got %+v", c)
				}
			},
		},
		{
			name:        "invalid YAML",
			configYAML:  "recording: [unclosed",
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid value",
			configYAML: `
recording:
  sample_rate: 100
`,
			expectError: true,
			errorMsg:    "sample_rate must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			tt.check(t, config)
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	recording := RecordingConfig{
		ChunkDuration:     1.5,
		RetentionDuration: 0,
		IdleTimeout:       60,
	}

	if recording.GetChunkDuration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", recording.GetChunkDuration())
	}

	if recording.GetRetentionDuration() != 0 {
		t.Errorf("Expected no retention, got %v", recording.GetRetentionDuration())
	}

	if recording.GetIdleTimeoutDuration() != time.Minute {
		t.Errorf("Expected 60 seconds, got %v", recording.GetIdleTimeoutDuration())
	}

	levels := LevelsConfig{Granularity: 0.25}
	if levels.GetGranularityDuration() != 250*time.Millisecond {
		t.Errorf("Expected 0.25 seconds, got %v", levels.GetGranularityDuration())
	}

	converter := ConverterConfig{Timeout: 30}
	if converter.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", converter.GetTimeoutDuration())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to file",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "/tmp/tapedeck.log", MaxSizeMB: 5},
			valid:  true,
		},
		{
			name:   "invalid log level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "empty output",
			config: LoggingConfig{Level: "info", Format: "text"},
			valid:  false,
		},
		{
			name:   "negative rotation",
			config: LoggingConfig{Level: "info", Format: "text", Output: "app.log", MaxBackups: -1},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
