package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPort             = 3000
	DefaultSpreadTimer      = 60 * time.Second
	DefaultOpenTradingTimer = 120 * time.Second
	DefaultNoTighterWindow  = 10 * time.Second
	DefaultMetricsPath      = "/metrics"
)

func (c *ServerConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Game.SpreadTimer == 0 {
		c.Game.SpreadTimer = DefaultSpreadTimer
	}
	if c.Game.OpenTradingTimer == 0 {
		c.Game.OpenTradingTimer = DefaultOpenTradingTimer
	}
	if c.Game.NoTighterWindow == 0 {
		c.Game.NoTighterWindow = DefaultNoTighterWindow
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
