package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the main configuration structure.
type Config struct {
	Quality         int           `mapstructure:"quality"`
	TargetReduction float64       `mapstructure:"target_reduction"`
	PDF             PDFConfig     `mapstructure:"pdf"`
	Image           ImageConfig   `mapstructure:"image"`
	Video           VideoConfig   `mapstructure:"video"`
	Batch           BatchConfig   `mapstructure:"batch"`
	Install         InstallConfig `mapstructure:"install"`
	Logging         LoggingConfig `mapstructure:"logging"`
}

// PDFConfig contains Ghostscript backend settings.
type PDFConfig struct {
	GhostscriptPath string `mapstructure:"ghostscript_path"`
}

// ImageConfig contains image backend settings.
type ImageConfig struct {
	KeepMetadata bool `mapstructure:"keep_metadata"`
}

// VideoConfig contains ffmpeg backend settings.
type VideoConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	Preset      string `mapstructure:"preset"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	WorkerThreads int  `mapstructure:"worker_threads"`
	DryRun        bool `mapstructure:"dry_run"`
}

// InstallConfig contains dependency installer settings.
type InstallConfig struct {
	Tools []string `mapstructure:"tools"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Quality:         60,
		TargetReduction: 0,
		PDF: PDFConfig{
			GhostscriptPath: "gs",
		},
		Image: ImageConfig{
			KeepMetadata: true,
		},
		Video: VideoConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Preset:      "medium",
		},
		Batch: BatchConfig{
			WorkerThreads: 4,
			DryRun:        false,
		},
		Install: InstallConfig{
			Tools: []string{"gs", "ffmpeg", "ffprobe", "exiftool"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "media-shrink.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.media-shrink")
		viper.AddConfigPath("/etc/media-shrink")
	}

	viper.SetEnvPrefix("MEDIA_SHRINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults.
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates and normalizes the configuration.
func (c *Config) Validate() error {
	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 0 and 100, got %d", c.Quality)
	}

	if c.TargetReduction < 0 || c.TargetReduction >= 1 {
		return fmt.Errorf("target_reduction must be in [0, 1), got %.2f", c.TargetReduction)
	}

	validPresets := map[string]bool{
		"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
		"fast": true, "medium": true, "slow": true, "slower": true, "veryslow": true,
	}
	if c.Video.Preset != "" && !validPresets[c.Video.Preset] {
		return fmt.Errorf("invalid ffmpeg preset: %s", c.Video.Preset)
	}

	if c.Batch.WorkerThreads <= 0 {
		c.Batch.WorkerThreads = 4
	}

	if len(c.Install.Tools) == 0 {
		c.Install.Tools = DefaultConfig().Install.Tools
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
