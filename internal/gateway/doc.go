// Package gateway mediates between websocket connections and game
// instances.
//
// The gateway:
//   - Upgrades connections and runs per-client read/write pumps
//   - Tracks a session bag per connection (player, game, role)
//   - Dispatches inbound events to game methods, enforcing the
//     gamemaster role on gm-prefixed events
//   - Fans game callbacks out to the game's room, projecting a tailored
//     state snapshot per recipient
package gateway
