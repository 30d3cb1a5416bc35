package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Audio     AudioConfig     `yaml:"audio"`
	Admission AdmissionConfig `yaml:"admission"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Port           int    `yaml:"port"`
	Address        string `yaml:"address"`
	ReadTimeout    int    `yaml:"read_timeout"`  // seconds
	WriteTimeout   int    `yaml:"write_timeout"` // seconds
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// EngineConfig contains conversion engine backend configuration
type EngineConfig struct {
	Endpoint        string  `yaml:"endpoint"`
	Timeout         int     `yaml:"timeout"` // seconds, per conversion
	MaxRetries      int     `yaml:"max_retries"`
	MaxConcurrent   int     `yaml:"max_concurrent"`
	MaxBatch        int     `yaml:"max_batch"`
	MaxSeqLen       int     `yaml:"max_seq_len"` // autoregressive cache capacity, tokens
	Precision       string  `yaml:"precision"`
	TokensPerSecond float64 `yaml:"tokens_per_second"`
}

// AudioConfig contains output encoding and input probing parameters
type AudioConfig struct {
	FFmpegPath    string  `yaml:"ffmpeg_path"`
	FFprobePath   string  `yaml:"ffprobe_path"`
	MP3Bitrate    string  `yaml:"mp3_bitrate"`
	OggCodec      string  `yaml:"ogg_codec"`
	NormalizePeak float64 `yaml:"normalize_peak"`
	EncodeTimeout int     `yaml:"encode_timeout"` // seconds
}

// AdmissionConfig contains request admission limits
type AdmissionConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	QueueDepth    int `yaml:"queue_depth"`
	QueueWait     int `yaml:"queue_wait"` // seconds, 0 waits indefinitely
}

// ArtifactsConfig contains output artifact storage configuration
type ArtifactsConfig struct {
	Dir           string `yaml:"dir"`
	TTL           int    `yaml:"ttl"`            // seconds
	SweepInterval int    `yaml:"sweep_interval"` // seconds
	MaxEntries    int    `yaml:"max_entries"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Admission.Validate(); err != nil {
		return fmt.Errorf("admission config: %w", err)
	}

	if err := c.Artifacts.Validate(); err != nil {
		return fmt.Errorf("artifacts config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", s.ReadTimeout)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.MaxUploadBytes < 1024 {
		return fmt.Errorf("max_upload_bytes must be at least 1024, got %d", s.MaxUploadBytes)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	if e.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	if e.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", e.MaxRetries)
	}

	if e.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", e.MaxConcurrent)
	}

	if e.MaxBatch < 1 {
		return fmt.Errorf("max_batch must be at least 1, got %d", e.MaxBatch)
	}

	if e.MaxSeqLen < 1024 {
		return fmt.Errorf("max_seq_len must be at least 1024 tokens, got %d", e.MaxSeqLen)
	}

	validPrecisions := map[string]bool{"fp16": true, "fp32": true, "bf16": true}
	if !validPrecisions[e.Precision] {
		return fmt.Errorf("precision must be one of [fp16, fp32, bf16], got '%s'", e.Precision)
	}

	if e.TokensPerSecond <= 0 {
		return fmt.Errorf("tokens_per_second must be positive, got %f", e.TokensPerSecond)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if a.FFprobePath == "" {
		return fmt.Errorf("ffprobe_path cannot be empty")
	}

	if a.MP3Bitrate == "" {
		return fmt.Errorf("mp3_bitrate cannot be empty")
	}

	if a.OggCodec == "" {
		return fmt.Errorf("ogg_codec cannot be empty")
	}

	if a.NormalizePeak <= 0 || a.NormalizePeak > 1 {
		return fmt.Errorf("normalize_peak must be between 0 and 1, got %f", a.NormalizePeak)
	}

	if a.EncodeTimeout < 1 {
		return fmt.Errorf("encode_timeout must be at least 1 second, got %d", a.EncodeTimeout)
	}

	return nil
}

// Validate validates admission configuration
func (a *AdmissionConfig) Validate() error {
	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}

	if a.QueueDepth < 0 {
		return fmt.Errorf("queue_depth cannot be negative, got %d", a.QueueDepth)
	}

	if a.QueueWait < 0 {
		return fmt.Errorf("queue_wait cannot be negative, got %d", a.QueueWait)
	}

	return nil
}

// Validate validates artifacts configuration
func (a *ArtifactsConfig) Validate() error {
	if a.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if a.TTL < 1 {
		return fmt.Errorf("ttl must be at least 1 second, got %d", a.TTL)
	}

	if a.SweepInterval < 1 {
		return fmt.Errorf("sweep_interval must be at least 1 second, got %d", a.SweepInterval)
	}

	if a.MaxEntries < 1 {
		return fmt.Errorf("max_entries must be at least 1, got %d", a.MaxEntries)
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

	return nil
}

// GetReadTimeoutDuration returns the server read timeout as a time.Duration
func (s *ServerConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the server write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetTimeoutDuration returns the per-conversion engine timeout as a time.Duration
func (e *EngineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetEncodeTimeoutDuration returns the encoder subprocess timeout as a time.Duration
func (a *AudioConfig) GetEncodeTimeoutDuration() time.Duration {
	return time.Duration(a.EncodeTimeout) * time.Second
}

// GetQueueWaitDuration returns the maximum admission queue wait as a time.Duration
func (a *AdmissionConfig) GetQueueWaitDuration() time.Duration {
	return time.Duration(a.QueueWait) * time.Second
}

// GetTTLDuration returns the artifact time-to-live as a time.Duration
func (a *ArtifactsConfig) GetTTLDuration() time.Duration {
	return time.Duration(a.TTL) * time.Second
}

// GetSweepIntervalDuration returns the artifact sweep interval as a time.Duration
func (a *ArtifactsConfig) GetSweepIntervalDuration() time.Duration {
	return time.Duration(a.SweepInterval) * time.Second
}
