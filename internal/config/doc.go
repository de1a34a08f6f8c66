// Package config provides configuration loading and validation for tapedeck.
// It handles YAML-based configuration with per-section validation and
// falls back to Default for anything the file leaves out.
package config
