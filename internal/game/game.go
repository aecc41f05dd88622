package game

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/mmgame/internal/book"
	"github.com/rickgao/mmgame/internal/model"
)

// maxAnnouncements caps the retained announcement ring; oldest are evicted.
const maxAnnouncements = 50

// Errors surfaced to clients through game:error.
var (
	ErrWrongStage        = errors.New("not allowed in the current stage")
	ErrNotStarted        = errors.New("game has not started")
	ErrAlreadyStarted    = errors.New("game already started")
	ErrNoMarkets         = errors.New("game has no markets")
	ErrUnknownPlayer     = errors.New("unknown player")
	ErrUnknownMarket     = errors.New("unknown market")
	ErrGamemasterTrading = errors.New("gamemaster cannot trade")
	ErrNotTighter        = errors.New("spread must be strictly tighter")
	ErrInvalidSpread     = errors.New("spread width must be positive")
	ErrNotMarketMaker    = errors.New("only the market maker may quote")
	ErrQuoteWidth        = errors.New("quote width must match the best spread")
	ErrNoQuote           = errors.New("no market maker quote")
	ErrMarketMakerTrade  = errors.New("market maker cannot force a trade")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrExposureLimit     = errors.New("trade would exceed the exposure limit")
	ErrNotComplete       = errors.New("markets are not complete")
	ErrPnlNotFinalized   = errors.New("finalize pnl before stopping")
	ErrStopped           = errors.New("game is stopped")
	ErrInvalidExposure   = errors.New("max exposure must be >= 0")
)

// Config holds per-game settings fixed at construction.
type Config struct {
	SpreadTimer      time.Duration
	OpenTradingTimer time.Duration
	NoTighterWindow  time.Duration
	GamemasterSecret string
}

// DefaultConfig returns the standard round timings.
func DefaultConfig() Config {
	return Config{
		SpreadTimer:      60 * time.Second,
		OpenTradingTimer: 120 * time.Second,
		NoTighterWindow:  10 * time.Second,
	}
}

// Callbacks are the game's broadcast hooks. The gateway reassigns them on
// every join; they must not call back into the game synchronously with a
// held lock (the game releases its lock before firing them). A nil slot is
// skipped. OnStageChange receives a nil round once all markets complete.
type Callbacks struct {
	OnStageChange     func(stage model.Stage, round *model.Round)
	OnTrade           func(trade model.Trade)
	OnTimer           func(stage model.Stage, endsAt int64, secondsRemaining int)
	OnOrderBookChange func(snapshot model.BookSnapshot)
}

// Game is the authoritative state for one game.
type Game struct {
	mu sync.Mutex

	code      string
	cfg       Config
	status    model.GameStatus
	createdAt int64
	logger    *slog.Logger

	markets            []model.Market
	currentMarketIndex int
	currentRoundIndex  int
	round              *model.Round
	book               *book.Book

	players       map[string]*model.Player
	announcements []model.Announcement

	showIndividualPositions bool
	trueValues              map[string]float64
	allMarketsComplete      bool
	pnlFinalized            bool
	maxExposure             int

	callbacks Callbacks
	emits     []func()

	// Timer state; see timers.go.
	stageGen     uint64
	stageTimer   *time.Timer
	tickStop     chan struct{}
	stageExpiry  func()
	noTighterGen uint64
	noTighter    *time.Timer

	now func() time.Time
}

// New creates a game in the lobby with no players or markets.
func New(code string, cfg Config, logger *slog.Logger) *Game {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpreadTimer <= 0 {
		cfg.SpreadTimer = DefaultConfig().SpreadTimer
	}
	if cfg.OpenTradingTimer <= 0 {
		cfg.OpenTradingTimer = DefaultConfig().OpenTradingTimer
	}
	if cfg.NoTighterWindow <= 0 {
		cfg.NoTighterWindow = DefaultConfig().NoTighterWindow
	}

	return &Game{
		code:                    code,
		cfg:                     cfg,
		status:                  model.StatusLobby,
		createdAt:               time.Now().UnixMilli(),
		logger:                  logger.With("game", code),
		players:                 make(map[string]*model.Player),
		trueValues:              make(map[string]float64),
		showIndividualPositions: true,
		now:                     time.Now,
	}
}

// SetCallbacks replaces the broadcast hooks.
func (g *Game) SetCallbacks(cb Callbacks) {
	g.mu.Lock()
	g.callbacks = cb
	g.mu.Unlock()
}

// Code returns the canonical game code.
func (g *Game) Code() string {
	return g.code
}

// Status returns the lifecycle state.
func (g *Game) Status() model.GameStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// PlayerCount returns the number of joined players.
func (g *Game) PlayerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.players)
}

// HasPlayer reports whether the id belongs to this game.
func (g *Game) HasPlayer(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.players[id]
	return ok
}

// IsGamemaster reports whether the player holds the gamemaster role.
func (g *Game) IsGamemaster(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[id]
	return ok && p.IsGamemaster
}

// CheckGamemasterSecret compares a candidate against the configured secret.
func (g *Game) CheckGamemasterSecret(s string) bool {
	return subtle.ConstantTimeCompare([]byte(s), []byte(g.cfg.GamemasterSecret)) == 1
}

// AddPlayer registers a player. Re-joining with the same id keeps the
// existing state and only updates the display name. New players start
// with the initial endowment and a zero position in every market.
func (g *Game) AddPlayer(id, name string, isGamemaster bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.players[id]; ok {
		p.Name = name
		return
	}

	p := &model.Player{
		ID:           id,
		Name:         name,
		Cash:         model.InitialCash,
		Positions:    make(map[string]model.Position),
		IsGamemaster: isGamemaster,
	}
	for _, m := range g.markets {
		p.Positions[m.ID] = model.Position{}
	}
	g.players[id] = p

	g.logger.Info("player joined", "player", id, "name", name, "gamemaster", isGamemaster)
}

// RemovePlayer deletes the player row. Their resting orders stay in the
// book and may still match; fills then settle against the surviving
// counterparty only.
func (g *Game) RemovePlayer(id string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.players[id]
	if !ok {
		return "", false
	}
	delete(g.players, id)
	g.logger.Info("player left", "player", id)
	return p.Name, true
}

// SetGamemaster flips the gamemaster flag on.
func (g *Game) SetGamemaster(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.players[id]; ok {
		p.IsGamemaster = true
	}
}

// AddMarket appends a market and opens a zero position for every player.
// If all markets had been exhausted, the new market immediately starts a
// fresh round.
func (g *Game) AddMarket(name, description string) model.Market {
	return g.addMarket(model.Market{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
	})
}

// AddDerivative appends a derivative market whose true value is the
// weighted sum of its underlyings'.
func (g *Game) AddDerivative(name, description string, weights map[string]float64, condition string) model.Market {
	w := make(map[string]float64, len(weights))
	for id, v := range weights {
		w[id] = v
	}
	return g.addMarket(model.Market{
		ID:                uuid.NewString(),
		Name:              name,
		Description:       description,
		UnderlyingWeights: w,
		Condition:         condition,
	})
}

func (g *Game) addMarket(m model.Market) model.Market {
	g.mu.Lock()
	g.markets = append(g.markets, m)
	for _, p := range g.players {
		p.Positions[m.ID] = model.Position{}
	}

	if g.status == model.StatusPlaying && g.allMarketsComplete && g.round == nil &&
		g.currentMarketIndex < len(g.markets) {
		g.allMarketsComplete = false
		g.startRound()
	}
	g.unlockAndFlush()

	return m
}

// Markets returns the ordered market list.
func (g *Game) Markets() []model.Market {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Market, len(g.markets))
	copy(out, g.markets)
	return out
}

// Announce appends to the bounded announcement ring and returns the entry.
func (g *Game) Announce(text string) model.Announcement {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := model.Announcement{
		ID:   uuid.NewString(),
		Text: text,
		At:   g.now().UnixMilli(),
	}
	g.announcements = append(g.announcements, a)
	if len(g.announcements) > maxAnnouncements {
		g.announcements = g.announcements[len(g.announcements)-maxAnnouncements:]
	}
	return a
}

// SetVisibility toggles whether snapshots expose individual positions.
func (g *Game) SetVisibility(show bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.showIndividualPositions = show
}

// SetTrueValue records a market's settlement value.
func (g *Game) SetTrueValue(marketID string, value float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.marketByID(marketID) == nil {
		return ErrUnknownMarket
	}
	g.trueValues[marketID] = value
	return nil
}

// SetExposureLimit sets the per-market absolute position cap; 0 disables.
func (g *Game) SetExposureLimit(maxExposure int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if maxExposure < 0 {
		return ErrInvalidExposure
	}
	g.maxExposure = maxExposure
	return nil
}

func (g *Game) marketByID(id string) *model.Market {
	for i := range g.markets {
		if g.markets[i].ID == id {
			return &g.markets[i]
		}
	}
	return nil
}

func (g *Game) currentMarket() *model.Market {
	if g.currentMarketIndex < 0 || g.currentMarketIndex >= len(g.markets) {
		return nil
	}
	return &g.markets[g.currentMarketIndex]
}

// queue defers a callback until the lock is released. Must be called with
// the lock held.
func (g *Game) queue(fn func()) {
	if fn != nil {
		g.emits = append(g.emits, fn)
	}
}

// unlockAndFlush releases the lock and fires queued callbacks in order.
func (g *Game) unlockAndFlush() {
	emits := g.emits
	g.emits = nil
	g.mu.Unlock()
	for _, fn := range emits {
		fn()
	}
}
