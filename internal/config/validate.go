package config

import "fmt"

// Validate checks that all values are usable.
func (c *ServerConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Game.SpreadTimer < 0 {
		return fmt.Errorf("game.spread_timer must be positive")
	}
	if c.Game.OpenTradingTimer < 0 {
		return fmt.Errorf("game.open_trading_timer must be positive")
	}
	if c.Game.NoTighterWindow < 0 {
		return fmt.Errorf("game.no_tighter_window must be positive")
	}
	return nil
}
