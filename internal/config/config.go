// Package config loads and validates server configuration.
//
// Configuration comes from an optional YAML file; the PORT and CORS_ORIGIN
// environment variables override it for container deployments.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the root configuration.
type ServerConfig struct {
	Server  HTTPConfig    `yaml:"server"`
	Game    GameConfig    `yaml:"game"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// HTTPConfig holds the listener settings.
type HTTPConfig struct {
	Port int `yaml:"port"`

	// CORSOrigins is the allowlist for browser origins; empty allows all.
	CORSOrigins []string `yaml:"cors_origins"`
}

// GameConfig holds the default per-game round timings. Individual games
// may override the timers at creation.
type GameConfig struct {
	SpreadTimer      time.Duration `yaml:"spread_timer"`
	OpenTradingTimer time.Duration `yaml:"open_trading_timer"`
	NoTighterWindow  time.Duration `yaml:"no_tighter_window"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*ServerConfig, error) {
	var cfg ServerConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ServerConfig) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = n
	}
	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		c.Server.CORSOrigins = c.Server.CORSOrigins[:0]
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, origin)
			}
		}
	}
	return nil
}
