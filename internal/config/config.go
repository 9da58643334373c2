// Package config provides configuration management for framecut using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultMaxGOPFrames   = 1200
	defaultQuality        = "near_lossless"
	defaultQueueDepth     = 256
	defaultAudioPreRollMS = 0
)

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	FFmpeg  FFmpegConfig  `mapstructure:"ffmpeg"`
	Cut     CutConfig     `mapstructure:"cut"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// CutConfig holds smart-cut engine configuration.
type CutConfig struct {
	// MaxGOPFrames caps the re-encode decode window. Jobs whose prefix would
	// need more frames than this fail with GopTooLarge instead of expanding.
	MaxGOPFrames int `mapstructure:"max_gop_frames"`

	// PreserveTimestamps keeps the input timestamp epoch instead of rebasing
	// the first output DTS to zero.
	PreserveTimestamps bool `mapstructure:"preserve_timestamps"`

	// Quality selects the CRF preset for re-encoded boundary segments:
	// low, normal, high, indistinguishable, near_lossless, lossless.
	Quality string `mapstructure:"quality"`

	// QueueDepth bounds the per-stream pending packet queue.
	QueueDepth int `mapstructure:"queue_depth"`

	// AudioPreRollMS is the pre-roll window before each interval whose audio
	// packets are emitted flagged discard, covering codec priming.
	AudioPreRollMS int `mapstructure:"audio_pre_roll_ms"`
}

// SetDefaults registers default values on the provided viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.format", defaultLogFormat)
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	v.SetDefault("cut.max_gop_frames", defaultMaxGOPFrames)
	v.SetDefault("cut.preserve_timestamps", false)
	v.SetDefault("cut.quality", defaultQuality)
	v.SetDefault("cut.queue_depth", defaultQueueDepth)
	v.SetDefault("cut.audio_pre_roll_ms", defaultAudioPreRollMS)
}

// Load reads configuration from the given file path (empty = search default
// locations) plus FRAMECUT_* environment variables and returns the resolved
// Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.SetConfigType("yaml")
		v.SetConfigName(".framecut")
	}

	v.SetEnvPrefix("FRAMECUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; a broken one is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validQualities lists the accepted quality preset names.
var validQualities = map[string]bool{
	"low":               true,
	"normal":            true,
	"high":              true,
	"indistinguishable": true,
	"near_lossless":     true,
	"lossless":          true,
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}

	if c.Cut.MaxGOPFrames <= 0 {
		return fmt.Errorf("cut.max_gop_frames must be positive, got %d", c.Cut.MaxGOPFrames)
	}
	if c.Cut.QueueDepth <= 0 {
		return fmt.Errorf("cut.queue_depth must be positive, got %d", c.Cut.QueueDepth)
	}
	if !validQualities[c.Cut.Quality] {
		return fmt.Errorf("invalid cut.quality %q", c.Cut.Quality)
	}
	if c.Cut.AudioPreRollMS < 0 {
		return fmt.Errorf("cut.audio_pre_roll_ms must not be negative, got %d", c.Cut.AudioPreRollMS)
	}

	return nil
}
