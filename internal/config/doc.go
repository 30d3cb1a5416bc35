// Package config provides configuration loading and validation for the voice
// conversion service. It handles YAML-based configuration with per-section
// struct validation and duration helpers for timeout fields.
package config
