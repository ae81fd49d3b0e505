package config

import (
	"fmt"
	"strings"
	"time"

	"image-optimizer-go/internal/batch"

	"github.com/spf13/viper"
)

// FormatOption describes a target format for UI selection.
type FormatOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MediaType   string `json:"media_type"`
	Lossy       bool   `json:"lossy"`
	Description string `json:"description"`
}

// Config represents the main configuration structure
type Config struct {
	Settings      SettingsConfig      `mapstructure:"settings"`
	Naming        NamingConfig        `mapstructure:"naming"`
	NamingService NamingServiceConfig `mapstructure:"naming_service"`
	Server        ServerConfig        `mapstructure:"server"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// SettingsConfig holds the default batch settings
type SettingsConfig struct {
	TargetFormat     string  `mapstructure:"target_format"`
	Quality          float64 `mapstructure:"quality"`
	MaxWidth         int     `mapstructure:"max_width"`
	MaxHeight        int     `mapstructure:"max_height"`
	PreserveMetadata bool    `mapstructure:"preserve_metadata"`
}

// NamingConfig configures the client side of name suggestions
type NamingConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NamingServiceConfig configures the model behind the naming service
type NamingServiceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Prompt  string        `mapstructure:"prompt"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	MaxUploadMB    int64         `mapstructure:"max_upload_mb"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// ArchiveConfig contains archive export settings
type ArchiveConfig struct {
	FileName string `mapstructure:"file_name"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Format     string `mapstructure:"format"` // json or text
}

// GetAvailableFormats returns all target format options
func GetAvailableFormats() []FormatOption {
	return []FormatOption{
		{
			ID:          string(batch.FormatOriginal),
			Name:        "Original",
			Description: "Keep each image in its own format",
		},
		{
			ID:          string(batch.FormatWebP),
			Name:        "WebP",
			MediaType:   "image/webp",
			Lossy:       true,
			Description: "Small files with broad browser support",
		},
		{
			ID:          string(batch.FormatAVIF),
			Name:        "AVIF",
			MediaType:   "image/avif",
			Lossy:       true,
			Description: "Smallest files, slower to encode (requires ffmpeg)",
		},
		{
			ID:          string(batch.FormatJPEG),
			Name:        "JPEG",
			MediaType:   "image/jpeg",
			Lossy:       true,
			Description: "Universal photo format without transparency",
		},
		{
			ID:          string(batch.FormatPNG),
			Name:        "PNG",
			MediaType:   "image/png",
			Description: "Lossless, keeps transparency",
		},
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	defaults := batch.DefaultSettings()
	return &Config{
		Settings: SettingsConfig{
			TargetFormat:     string(defaults.TargetFormat),
			Quality:          defaults.Quality,
			MaxWidth:         defaults.MaxWidth,
			MaxHeight:        defaults.MaxHeight,
			PreserveMetadata: defaults.PreserveMetadata,
		},
		Naming: NamingConfig{
			Enabled:  false,
			Endpoint: "http://localhost:8080/api/name",
			Timeout:  30 * time.Second,
		},
		NamingService: NamingServiceConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-1.5-flash",
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Port:         8080,
			MaxUploadMB:  256,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Archive: ArchiveConfig{
			FileName: "optimized-images.zip",
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "image-optimizer.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
			Format:     "json",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	return Load(viper.GetViper(), configPath)
}

// Load reads configuration through v. An empty configPath searches the
// default locations; a missing file is not an error.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	config := DefaultConfig()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-optimizer")
		v.AddConfigPath("/etc/image-optimizer")
	}

	v.SetEnvPrefix("IMAGE_OPTIMIZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnv makes secrets settable from the environment without a config
// file key. AutomaticEnv alone only covers keys viper already knows.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"naming_service.api_key",
		"naming_service.model",
		"naming.endpoint",
		"naming.enabled",
		"server.port",
		"logging.level",
	} {
		v.BindEnv(key)
	}
}

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	format, err := batch.ParseFormat(c.Settings.TargetFormat)
	if err != nil {
		return err
	}
	c.Settings.TargetFormat = string(format)

	if err := c.BatchSettings().Validate(); err != nil {
		return err
	}

	if c.Naming.Timeout <= 0 {
		c.Naming.Timeout = 30 * time.Second
	}
	if c.Naming.Enabled && c.Naming.Endpoint == "" {
		return fmt.Errorf("naming.endpoint is required when naming is enabled")
	}
	if c.NamingService.Timeout <= 0 {
		c.NamingService.Timeout = 30 * time.Second
	}
	c.NamingService.BaseURL = strings.TrimRight(c.NamingService.BaseURL, "/")

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 256
	}

	if c.Archive.FileName == "" {
		c.Archive.FileName = "optimized-images.zip"
	}
	if !strings.HasSuffix(strings.ToLower(c.Archive.FileName), ".zip") {
		c.Archive.FileName += ".zip"
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json":
		c.Logging.Format = "json"
	case "text":
		c.Logging.Format = "text"
	default:
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// BatchSettings returns the configured default batch settings
func (c *Config) BatchSettings() batch.Settings {
	return batch.Settings{
		TargetFormat:     batch.Format(c.Settings.TargetFormat),
		Quality:          c.Settings.Quality,
		MaxWidth:         c.Settings.MaxWidth,
		MaxHeight:        c.Settings.MaxHeight,
		PreserveMetadata: c.Settings.PreserveMetadata,
	}
}

// NamingAvailable reports whether the naming service has credentials
func (c *Config) NamingAvailable() bool {
	return c.NamingService.APIKey != ""
}
