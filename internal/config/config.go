// Package config provides configuration management for the lip-sync
// service.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all service configuration
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Blend     BlendConfig     `mapstructure:"blend"`
	Rig       RigConfig       `mapstructure:"rig"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// TransportConfig configures the viseme stream client
type TransportConfig struct {
	URL            string        `mapstructure:"url"`
	SpeakerID      string        `mapstructure:"speaker_id"` // "*" accepts every speaker
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	IngestBuffer   int           `mapstructure:"ingest_buffer"`
}

// SyncConfig configures clock reconciliation
type SyncConfig struct {
	LeadTimeMs float64 `mapstructure:"lead_time_ms"` // mouth motion leads audio by this much
}

// QueueConfig configures the pending-event queue
type QueueConfig struct {
	Capacity      int     `mapstructure:"capacity"`
	EvictFraction float64 `mapstructure:"evict_fraction"` // share of oldest events dropped on overflow
}

// BlendConfig configures the animation windows
type BlendConfig struct {
	TransitionMs  float64 `mapstructure:"transition_ms"`
	HoldMs        float64 `mapstructure:"hold_ms"`
	DecayMs       float64 `mapstructure:"decay_ms"`
	RestIntensity float64 `mapstructure:"rest_intensity"`
}

// RigConfig configures avatar binding
type RigConfig struct {
	ModelPath string `mapstructure:"model_path"` // optional .glb to bind at startup
	TickHz    int    `mapstructure:"tick_hz"`
}

// MetricsConfig configures Prometheus exposure
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			URL:            "ws://localhost:8080/api/v1/visemes",
			SpeakerID:      "*",
			ReconnectDelay: 3 * time.Second,
			IngestBuffer:   128,
		},
		Sync: SyncConfig{
			LeadTimeMs: 48,
		},
		Queue: QueueConfig{
			Capacity:      256,
			EvictFraction: 0.5,
		},
		Blend: BlendConfig{
			TransitionMs:  50,
			HoldMs:        60,
			DecayMs:       120,
			RestIntensity: 0.1,
		},
		Rig: RigConfig{
			ModelPath: "",
			TickHz:    60,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9920",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return cfg, err
	}

	configDir := filepath.Join(homeDir, ".lipsync")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("LIPSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(homeDir, ".lipsync")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("transport", cfg.Transport)
	viper.Set("sync", cfg.Sync)
	viper.Set("queue", cfg.Queue)
	viper.Set("blend", cfg.Blend)
	viper.Set("rig", cfg.Rig)
	viper.Set("metrics", cfg.Metrics)
	viper.Set("logging", cfg.Logging)

	configPath := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configPath)
}

// Watch re-reads the config file on change and hands the updated
// configuration to onChange. Lets lead time and blend windows be tuned
// while the avatar is running.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".lipsync"), nil
}
