package game

import (
	"math"

	"github.com/rickgao/mmgame/internal/book"
	"github.com/rickgao/mmgame/internal/model"
)

// spreadMatchTolerance bounds the allowed gap between the market maker's
// quoted width and the winning spread.
const spreadMatchTolerance = 1e-6

// Start moves the game from lobby to playing and opens the first round.
func (g *Game) Start() error {
	g.mu.Lock()
	defer g.unlockAndFlush()

	if g.status != model.StatusLobby {
		return ErrAlreadyStarted
	}
	if len(g.markets) == 0 {
		return ErrNoMarkets
	}

	g.status = model.StatusPlaying
	g.currentMarketIndex = 0
	g.currentRoundIndex = 0
	g.allMarketsComplete = false
	g.startRound()

	g.logger.Info("game started", "markets", len(g.markets))
	return nil
}

// Pause suspends play. Timers are cancelled; stageEndsAt is preserved so
// Resume can re-arm with the remaining wall-clock delta.
func (g *Game) Pause() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status == model.StatusStopped {
		return ErrStopped
	}
	g.status = model.StatusPaused
	g.cancelTimersLocked()
	g.logger.Info("game paused")
	return nil
}

// Resume returns a paused game to play, re-arming the stage timer when its
// deadline is still in the future.
func (g *Game) Resume() error {
	g.mu.Lock()
	defer g.unlockAndFlush()

	if g.status == model.StatusStopped {
		return ErrStopped
	}
	g.status = model.StatusPlaying

	if g.round != nil && g.stageExpiry != nil && g.round.StageEndsAt > g.now().UnixMilli() {
		g.scheduleStageEndAt(g.round.StageEndsAt, g.stageExpiry)
	}
	g.logger.Info("game resumed")
	return nil
}

// Stop ends the game. Refused while markets are complete but P&L has not
// been finalized.
func (g *Game) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.allMarketsComplete && !g.pnlFinalized {
		return ErrPnlNotFinalized
	}
	g.status = model.StatusStopped
	g.cancelTimersLocked()
	g.logger.Info("game stopped")
	return nil
}

// NextStage advances the round one stage.
func (g *Game) NextStage() error {
	g.mu.Lock()
	defer g.unlockAndFlush()

	if g.status != model.StatusPlaying || g.round == nil {
		return ErrNotStarted
	}

	switch g.round.Stage {
	case model.StageSpreadQuoting:
		g.endSpreadQuoting()
	case model.StageMarketMakerQuote:
		if g.round.Quote == nil {
			return ErrNoQuote
		}
		g.transitionTo(model.StageForcedTrading)
	case model.StageForcedTrading:
		g.enterOpenTrading()
	case model.StageOpenTrading:
		g.endRound()
	case model.StageRoundEnd:
		g.advanceToNextMarket()
	}
	return nil
}

// PrevStage is a minimal rewind: MARKET_MAKER_QUOTE back to SPREAD_QUOTING,
// or FORCED_TRADING back to MARKET_MAKER_QUOTE. Other rewinds are refused.
func (g *Game) PrevStage() error {
	g.mu.Lock()
	defer g.unlockAndFlush()

	if g.status != model.StatusPlaying || g.round == nil {
		return ErrNotStarted
	}

	switch g.round.Stage {
	case model.StageMarketMakerQuote:
		// The deadline is restored at the default length but the timer is
		// not re-armed; the round will not auto-advance.
		g.round.Stage = model.StageSpreadQuoting
		g.round.StageEndsAt = g.now().Add(g.cfg.SpreadTimer).UnixMilli()
		g.queueStageChange()
	case model.StageForcedTrading:
		if g.round.Quote == nil {
			return ErrWrongStage
		}
		g.round.Quote = nil
		g.round.Stage = model.StageMarketMakerQuote
		g.queueStageChange()
	default:
		return ErrWrongStage
	}
	return nil
}

// SubmitSpread records a Stage-1 spread. Each accepted submission rolls
// the no-tighter window; its expiry ends the stage.
func (g *Game) SubmitSpread(playerID string, width float64) (model.SpreadUpdatePayload, error) {
	g.mu.Lock()
	defer g.unlockAndFlush()

	var upd model.SpreadUpdatePayload

	p, ok := g.players[playerID]
	if !ok {
		return upd, ErrUnknownPlayer
	}
	if p.IsGamemaster {
		return upd, ErrGamemasterTrading
	}
	if g.status != model.StatusPlaying || g.round == nil || g.round.Stage != model.StageSpreadQuoting {
		return upd, ErrWrongStage
	}
	if width <= 0 {
		return upd, ErrInvalidSpread
	}
	if g.round.BestSpread != nil && width >= *g.round.BestSpread {
		return upd, ErrNotTighter
	}

	now := g.now()
	best := width
	g.round.BestSpread = &best
	g.round.BestSpreadPlayerID = playerID
	g.round.Submissions = append(g.round.Submissions, model.SpreadSubmission{
		PlayerID:    playerID,
		SpreadWidth: width,
		Timestamp:   now.UnixMilli(),
	})
	g.round.NoTighterUntil = now.Add(g.cfg.NoTighterWindow).UnixMilli()
	g.armNoTighterTimer(g.cfg.NoTighterWindow)

	g.logger.Info("spread accepted", "player", playerID, "width", width)

	upd.BestSpread = g.round.BestSpread
	upd.BestSpreadPlayerID = playerID
	upd.Submissions = append([]model.SpreadSubmission(nil), g.round.Submissions...)
	return upd, nil
}

// SubmitQuote records the market maker's two-sided quote and opens forced
// trading. The quoted width must equal the winning spread.
func (g *Game) SubmitQuote(playerID string, bid, ask float64) error {
	g.mu.Lock()
	defer g.unlockAndFlush()

	if g.status != model.StatusPlaying || g.round == nil || g.round.Stage != model.StageMarketMakerQuote {
		return ErrWrongStage
	}
	if playerID != g.round.BestSpreadPlayerID {
		return ErrNotMarketMaker
	}
	width := ask - bid
	if width <= 0 || g.round.BestSpread == nil || math.Abs(width-*g.round.BestSpread) > spreadMatchTolerance {
		return ErrQuoteWidth
	}

	g.round.Quote = &model.Quote{Bid: bid, Ask: ask}
	g.logger.Info("market maker quoted", "player", playerID, "bid", bid, "ask", ask)
	g.transitionTo(model.StageForcedTrading)
	return nil
}

// startRound allocates the order book for the current market and opens
// spread quoting. The spread timer is not auto-armed; the gamemaster sets
// it, and accepted submissions roll the no-tighter window on their own.
func (g *Game) startRound() {
	market := g.currentMarket()
	if market == nil {
		return
	}

	g.book = book.New(market.ID)
	g.round = &model.Round{
		Index:    g.currentRoundIndex,
		Stage:    model.StageSpreadQuoting,
		MarketID: market.ID,
	}
	for _, p := range g.players {
		p.IsMarketMaker = false
		p.RoundPnl = 0
	}

	g.logger.Info("round started", "round", g.currentRoundIndex, "market", market.Name)
	g.queueStageChange()
}

// endSpreadQuoting closes Stage 1: the best-spread player becomes the
// market maker, or the round ends when nobody quoted.
func (g *Game) endSpreadQuoting() {
	g.cancelTimersLocked()
	g.round.StageEndsAt = 0
	g.round.NoTighterUntil = 0

	if g.round.BestSpreadPlayerID == "" {
		g.endRound()
		return
	}
	if p, ok := g.players[g.round.BestSpreadPlayerID]; ok {
		p.IsMarketMaker = true
	}
	g.round.Stage = model.StageMarketMakerQuote
	g.queueStageChange()
}

// enterOpenTrading arms the open-trading timer and opens the book to all.
func (g *Game) enterOpenTrading() {
	g.round.Stage = model.StageOpenTrading
	g.queueStageChange()
	g.scheduleStageEnd(g.cfg.OpenTradingTimer, g.expireOpenTrading)
}

// endRound closes the round and immediately advances to the next market.
func (g *Game) endRound() {
	g.cancelTimersLocked()
	g.round.Stage = model.StageRoundEnd
	g.round.StageEndsAt = 0
	g.queueStageChange()
	g.advanceToNextMarket()
}

// advanceToNextMarket opens the next market's round, or marks the game
// complete when markets are exhausted.
func (g *Game) advanceToNextMarket() {
	g.currentMarketIndex++
	g.currentRoundIndex++

	if g.currentMarketIndex < len(g.markets) {
		g.startRound()
		return
	}

	g.round = nil
	g.book = nil
	g.allMarketsComplete = true
	g.logger.Info("all markets complete")
	if cb := g.callbacks.OnStageChange; cb != nil {
		g.queue(func() { cb(model.StageRoundEnd, nil) })
	}
}

// transitionTo moves between stages that carry no timer of their own.
func (g *Game) transitionTo(stage model.Stage) {
	g.cancelTimersLocked()
	g.round.Stage = stage
	g.round.StageEndsAt = 0
	g.queueStageChange()
}

func (g *Game) queueStageChange() {
	if cb := g.callbacks.OnStageChange; cb != nil {
		stage := g.round.Stage
		round := copyRound(g.round)
		g.queue(func() { cb(stage, round) })
	}
}
