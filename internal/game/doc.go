// Package game implements the authoritative state for one game.
//
// A game instance:
//   - Drives per-market rounds through the five-stage state machine
//   - Owns the current market's order book and the stage timers
//   - Tracks player cash, positions, and P&L through settlement
//   - Publishes changes through callback slots the gateway subscribes
//
// All mutation is serialized behind one mutex; callbacks fire after the
// lock is released, in the order the engine produced them.
package game
