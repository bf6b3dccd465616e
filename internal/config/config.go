package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Audio source kinds
const (
	SourcePortAudio = "portaudio"
	SourceWAV       = "wav"
	SourceTone      = "tone"
)

// Config represents the complete streamer configuration
type Config struct {
	Stream  StreamConfig  `yaml:"stream"`
	Audio   AudioConfig   `yaml:"audio"`
	Silence SilenceConfig `yaml:"silence"`
	HTTP    HTTPConfig    `yaml:"http"`
	NATS    NATSConfig    `yaml:"nats"`
	Logging LoggingConfig `yaml:"logging"`
}

// StreamConfig contains UDP destination and sender pacing configuration
type StreamConfig struct {
	TargetAddress    string `yaml:"target_address"`
	TargetPort       int    `yaml:"target_port"`
	BindAddress      string `yaml:"bind_address"`
	LocalPort        int    `yaml:"local_port"`         // 0 = ephemeral
	SendIntervalMs   int    `yaml:"send_interval_ms"`   // 0 = no pause between packets
	WriteTimeoutMs   int    `yaml:"write_timeout_ms"`   // 0 = no deadline
	JoinTimeoutMs    int    `yaml:"join_timeout_ms"`
	StatsIntervalMs  int    `yaml:"stats_interval_ms"`  // 0 = no periodic stats
	SocketBufferSize int    `yaml:"socket_buffer_size"` // 0 = OS default
	AutoStart        bool   `yaml:"auto_start"`
}

// AudioConfig contains capture source parameters
type AudioConfig struct {
	Source        string  `yaml:"source"`
	SampleRate    int     `yaml:"sample_rate"`
	Channels      int     `yaml:"channels"`
	BlockSize     int     `yaml:"block_size"` // frames per callback
	Device        string  `yaml:"device"`     // portaudio input device name, empty for default
	WAVPath       string  `yaml:"wav_path"`
	Loop          bool    `yaml:"loop"`
	ToneFrequency float64 `yaml:"tone_frequency"` // Hz
	ToneAmplitude float64 `yaml:"tone_amplitude"` // linear, 0-1
}

// SilenceConfig contains silence gate parameters
type SilenceConfig struct {
	Threshold  float32 `yaml:"threshold"`
	HoldBlocks int     `yaml:"hold_blocks"`
}

// HTTPConfig contains HTTP control API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// NATSConfig contains event publishing configuration
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	MaxRetries    int    `yaml:"max_retries"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for any value a file leaves out
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			TargetAddress:   "127.0.0.1",
			TargetPort:      12345,
			BindAddress:     "",
			LocalPort:       0,
			SendIntervalMs:  10,
			WriteTimeoutMs:  250,
			JoinTimeoutMs:   2000,
			StatsIntervalMs: 500,
		},
		Audio: AudioConfig{
			Source:        SourcePortAudio,
			SampleRate:    44100,
			Channels:      2,
			BlockSize:     512,
			ToneFrequency: 440,
			ToneAmplitude: 0.5,
		},
		Silence: SilenceConfig{
			Threshold:  0.001,
			HoldBlocks: 10,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "mix2go",
			MaxRetries:    5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of Default
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
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Silence.Validate(); err != nil {
		return fmt.Errorf("silence config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.NATS.Validate(); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.TargetAddress == "" {
		return fmt.Errorf("target_address cannot be empty")
	}

	if s.TargetPort < 1 || s.TargetPort > 65535 {
		return fmt.Errorf("target_port must be between 1 and 65535, got %d", s.TargetPort)
	}

	if s.LocalPort < 0 || s.LocalPort > 65535 {
		return fmt.Errorf("local_port must be between 0 and 65535, got %d", s.LocalPort)
	}

	if s.SendIntervalMs < 0 {
		return fmt.Errorf("send_interval_ms cannot be negative, got %d", s.SendIntervalMs)
	}

	if s.WriteTimeoutMs < 0 {
		return fmt.Errorf("write_timeout_ms cannot be negative, got %d", s.WriteTimeoutMs)
	}

	if s.JoinTimeoutMs < 1 {
		return fmt.Errorf("join_timeout_ms must be at least 1, got %d", s.JoinTimeoutMs)
	}

	if s.StatsIntervalMs < 0 {
		return fmt.Errorf("stats_interval_ms cannot be negative, got %d", s.StatsIntervalMs)
	}

	if s.SocketBufferSize < 0 {
		return fmt.Errorf("socket_buffer_size cannot be negative, got %d", s.SocketBufferSize)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.Source {
	case SourcePortAudio, SourceTone:
	case SourceWAV:
		if a.WAVPath == "" {
			return fmt.Errorf("wav_path cannot be empty when source is 'wav'")
		}
	default:
		return fmt.Errorf("source must be one of [portaudio, wav, tone], got '%s'", a.Source)
	}

	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", a.SampleRate)
	}

	if a.Channels < 1 || a.Channels > 32 {
		return fmt.Errorf("channels must be between 1 and 32, got %d", a.Channels)
	}

	if a.BlockSize < 16 || a.BlockSize > 8192 {
		return fmt.Errorf("block_size must be between 16 and 8192 frames, got %d", a.BlockSize)
	}

	if a.Source == SourceTone {
		if a.ToneFrequency <= 0 || a.ToneFrequency >= float64(a.SampleRate)/2 {
			return fmt.Errorf("tone_frequency must be between 0 and %d Hz (exclusive), got %f", a.SampleRate/2, a.ToneFrequency)
		}

		if a.ToneAmplitude < 0 || a.ToneAmplitude > 1 {
			return fmt.Errorf("tone_amplitude must be between 0 and 1, got %f", a.ToneAmplitude)
		}
	}

	return nil
}

// Validate validates silence gate configuration
func (s *SilenceConfig) Validate() error {
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", s.Threshold)
	}

	if s.HoldBlocks < 1 {
		return fmt.Errorf("hold_blocks must be at least 1, got %d", s.HoldBlocks)
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

// Validate validates NATS configuration
func (n *NATSConfig) Validate() error {
	if !n.Enabled {
		return nil
	}

	if n.URL == "" {
		return fmt.Errorf("url cannot be empty when NATS is enabled")
	}

	if n.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix cannot be empty when NATS is enabled")
	}

	if n.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", n.MaxRetries)
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

	// Anything other than stdout or stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetSendInterval returns the pause between packets as a time.Duration
func (s *StreamConfig) GetSendInterval() time.Duration {
	return time.Duration(s.SendIntervalMs) * time.Millisecond
}

// GetWriteTimeout returns the per-packet write deadline as a time.Duration
func (s *StreamConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMs) * time.Millisecond
}

// GetJoinTimeout returns the sender stop timeout as a time.Duration
func (s *StreamConfig) GetJoinTimeout() time.Duration {
	return time.Duration(s.JoinTimeoutMs) * time.Millisecond
}

// GetStatsInterval returns the stats notification period as a time.Duration
func (s *StreamConfig) GetStatsInterval() time.Duration {
	return time.Duration(s.StatsIntervalMs) * time.Millisecond
}

// GetBlockDuration returns the duration of one audio block as a time.Duration
func (a *AudioConfig) GetBlockDuration() time.Duration {
	return time.Duration(float64(a.BlockSize) / float64(a.SampleRate) * float64(time.Second))
}
