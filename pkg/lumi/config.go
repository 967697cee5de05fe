package lumi

import (
	"fmt"
	"os"

	"github.com/lumikid/lumi/pkg/configutil"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Assist  AssistConfig  `mapstructure:"assist"`
	Capture CaptureConfig `mapstructure:"capture"`
	Vendors VendorsConfig `mapstructure:"vendors"`
	Archive ArchiveConfig `mapstructure:"archive"`

	Observability ObservabilityConfig `mapstructure:"observability"`
}

// AssistConfig points at the remote assistant service.
type AssistConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

type CaptureConfig struct {
	SampleRate  int    `mapstructure:"sample_rate"`
	Language    string `mapstructure:"language"`
	BufferBytes int    `mapstructure:"buffer_bytes"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT     VendorConfig `mapstructure:"stt"`
	Speaker VendorConfig `mapstructure:"speaker"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ObservabilityConfig struct {
	ArtifactsDir string `mapstructure:"artifacts_dir"`
	EventBuffer  int    `mapstructure:"event_buffer"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("assist.base_url", "http://localhost:8000")
	v.SetDefault("assist.timeout_ms", 45000)
	v.SetDefault("capture.sample_rate", 16000)
	v.SetDefault("capture.language", "en")
	v.SetDefault("capture.buffer_bytes", 3200)
	v.SetDefault("vendors.stt.provider", "mock")
	v.SetDefault("vendors.speaker.provider", "mock")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "lumi-sessions.db")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.event_buffer", 1024)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Assist.BaseURL, "assist.base_url"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.STT.Provider, "vendors.stt.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.Speaker.Provider, "vendors.speaker.provider"); err != nil {
		return err
	}
	if c.Archive.Enabled {
		if err := configutil.RequireString(c.Archive.Path, "archive.path"); err != nil {
			return err
		}
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	cfg.Assist.BaseURL = os.ExpandEnv(cfg.Assist.BaseURL)
	cfg.Archive.Path = os.ExpandEnv(cfg.Archive.Path)
	cfg.Observability.ArtifactsDir = os.ExpandEnv(cfg.Observability.ArtifactsDir)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.Speaker.Settings = expandSettings(cfg.Vendors.Speaker.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
