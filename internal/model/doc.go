// Package model defines shared data types used across the game server.
//
// Conventions:
//   - Prices: float64 dollars
//   - Quantities: positive int contracts; positions are signed ints
//   - Timestamps: int64 milliseconds since Unix epoch
//   - IDs: uuid strings for players/orders/trades, six-char codes for games
package model
