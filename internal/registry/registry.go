// Package registry owns every live game and the player-to-game index.
//
// The registry is the only process-wide mutable structure; all other state
// is serialized behind its owning game. Game codes are six characters from
// an unambiguous alphabet, retried on collision.
package registry

import (
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"github.com/rickgao/mmgame/internal/game"
)

// codeAlphabet excludes look-alike characters (I, O, 0, 1).
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
)

// Registry issues game codes and maps players to their games.
type Registry struct {
	mu      sync.RWMutex
	games   map[string]*game.Game // canonical code → game
	players map[string]string     // player id → canonical code
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		games:   make(map[string]*game.Game),
		players: make(map[string]string),
		logger:  logger,
	}
}

// Create issues a fresh code and registers a new game with it.
func (r *Registry) Create(cfg game.Config) *game.Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.newCode()
	g := game.New(code, cfg, r.logger)
	r.games[code] = g

	r.logger.Info("game created", "game", code, "total", len(r.games))
	return g
}

// Get looks up a game by code, case-insensitively.
func (r *Registry) Get(code string) (*game.Game, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[strings.ToUpper(code)]
	return g, ok
}

// GameFor returns the game a player belongs to.
func (r *Registry) GameFor(playerID string) (*game.Game, bool) {
	r.mu.RLock()
	code, ok := r.players[playerID]
	if !ok {
		r.mu.RUnlock()
		return nil, false
	}
	g, ok := r.games[code]
	r.mu.RUnlock()
	return g, ok
}

// Join adds the player to the game with the given code. Returns false when
// the code is unknown.
func (r *Registry) Join(code, playerID, displayName string, isGamemaster bool) (*game.Game, bool) {
	canonical := strings.ToUpper(code)

	r.mu.Lock()
	g, ok := r.games[canonical]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	r.players[playerID] = canonical
	r.mu.Unlock()

	g.AddPlayer(playerID, displayName, isGamemaster)
	return g, true
}

// Track records the player-to-game mapping without re-adding the player;
// used for the creating gamemaster, whom the caller adds to the game
// directly.
func (r *Registry) Track(playerID, code string) {
	r.mu.Lock()
	r.players[playerID] = strings.ToUpper(code)
	r.mu.Unlock()
}

// Leave removes the player from their game. When the last participant
// leaves, the game is deleted from the registry.
func (r *Registry) Leave(playerID string) (*game.Game, string, bool) {
	r.mu.Lock()
	code, ok := r.players[playerID]
	if !ok {
		r.mu.Unlock()
		return nil, "", false
	}
	delete(r.players, playerID)
	g, ok := r.games[code]
	r.mu.Unlock()
	if !ok {
		return nil, "", false
	}

	name, _ := g.RemovePlayer(playerID)

	r.mu.Lock()
	if g.PlayerCount() == 0 {
		delete(r.games, code)
		r.logger.Info("game deleted", "game", code, "total", len(r.games))
	}
	r.mu.Unlock()

	return g, name, true
}

// Count returns the number of live games.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// newCode draws codes until one does not collide with a live game. Must be
// called with the write lock held.
func (r *Registry) newCode() string {
	for {
		b := make([]byte, codeLength)
		for i := range b {
			b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
		}
		code := string(b)
		if _, taken := r.games[code]; !taken {
			return code
		}
	}
}
