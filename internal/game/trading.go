package game

import (
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/mmgame/internal/book"
	"github.com/rickgao/mmgame/internal/model"
)

// ForcedTrade executes a Stage-3 trade against the market maker's quote.
// Buys lift the ask, sells hit the bid; cash and position deltas are
// symmetric between the caller and the market maker.
func (g *Game) ForcedTrade(playerID string, direction model.Direction, quantity int) error {
	g.mu.Lock()
	defer g.unlockAndFlush()

	if g.status != model.StatusPlaying || g.round == nil || g.round.Stage != model.StageForcedTrading {
		return ErrWrongStage
	}
	if g.round.Quote == nil {
		return ErrNoQuote
	}

	caller, ok := g.players[playerID]
	if !ok {
		return ErrUnknownPlayer
	}
	if caller.IsGamemaster {
		return ErrGamemasterTrading
	}
	if playerID == g.round.BestSpreadPlayerID {
		return ErrMarketMakerTrade
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	mm, ok := g.players[g.round.BestSpreadPlayerID]
	if !ok {
		return ErrUnknownPlayer
	}

	marketID := g.round.MarketID
	delta := quantity
	price := g.round.Quote.Ask
	if direction == model.DirectionSell {
		delta = -quantity
		price = g.round.Quote.Bid
	}

	if g.maxExposure > 0 {
		if abs(caller.Positions[marketID].Quantity+delta) > g.maxExposure ||
			abs(mm.Positions[marketID].Quantity-delta) > g.maxExposure {
			return ErrExposureLimit
		}
	}

	// Caller's average cost tracks the fill; the market maker's position
	// moves without avg-cost tracking.
	g.applyFill(caller, marketID, delta, price, true)
	g.applyFill(mm, marketID, -delta, price, false)

	trade := model.Trade{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		Price:     price,
		Quantity:  quantity,
		Timestamp: time.Now().UnixMilli(),
	}
	if direction == model.DirectionBuy {
		trade.BuyerID = playerID
		trade.SellerID = mm.ID
	} else {
		trade.BuyerID = mm.ID
		trade.SellerID = playerID
	}

	g.logger.Info("forced trade",
		"player", playerID,
		"direction", direction,
		"quantity", quantity,
		"price", price,
	)

	if cb := g.callbacks.OnTrade; cb != nil {
		g.queue(func() { cb(trade) })
	}
	return nil
}

// SubmitOrder places a limit order into the round's book during open
// trading and settles any fills it produces.
func (g *Game) SubmitOrder(playerID string, side model.Side, price float64, quantity int) error {
	g.mu.Lock()
	defer g.unlockAndFlush()

	if g.status != model.StatusPlaying || g.round == nil || g.round.Stage != model.StageOpenTrading || g.book == nil {
		return ErrWrongStage
	}

	caller, ok := g.players[playerID]
	if !ok {
		return ErrUnknownPlayer
	}
	if caller.IsGamemaster {
		return ErrGamemasterTrading
	}

	_, trades, err := g.book.AddOrder(playerID, side, price, quantity, g.exposureValidator())
	if err != nil {
		return err
	}

	for _, t := range trades {
		if buyer, ok := g.players[t.BuyerID]; ok {
			g.applyFill(buyer, t.MarketID, t.Quantity, t.Price, true)
		}
		if seller, ok := g.players[t.SellerID]; ok {
			g.applyFill(seller, t.MarketID, -t.Quantity, t.Price, false)
		}
	}

	if cb := g.callbacks.OnOrderBookChange; cb != nil {
		snap := g.book.Snapshot()
		g.queue(func() { cb(snap) })
	}
	if cb := g.callbacks.OnTrade; cb != nil {
		for _, t := range trades {
			trade := t
			g.queue(func() { cb(trade) })
		}
	}
	return nil
}

// BookSnapshot returns the current round's aggregated book, if any.
func (g *Game) BookSnapshot() (model.BookSnapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.book == nil {
		return model.BookSnapshot{}, false
	}
	return g.book.Snapshot(), true
}

// exposureValidator builds the fill validator the book consults before
// each fill. It tracks deltas approved earlier in the same matching batch
// so a multi-fill order cannot walk past the limit. Must be called with
// the lock held.
func (g *Game) exposureValidator() book.FillValidator {
	if g.maxExposure == 0 {
		return nil
	}
	limit := g.maxExposure
	pending := make(map[string]int)

	return func(buyerID, sellerID, marketID string, quantity int) bool {
		buyerPos, sellerPos := pending[buyerID], pending[sellerID]
		if buyer, ok := g.players[buyerID]; ok {
			buyerPos += buyer.Positions[marketID].Quantity
		}
		if seller, ok := g.players[sellerID]; ok {
			sellerPos += seller.Positions[marketID].Quantity
		}
		if abs(buyerPos+quantity) > limit || abs(sellerPos-quantity) > limit {
			return false
		}
		pending[buyerID] += quantity
		pending[sellerID] -= quantity
		return true
	}
}

// applyFill moves cash and position for one side of a trade. A positive
// delta is a buy. When updateAvg is set, the player's average cost becomes
// the quantity-weighted mean of the prior cost and this fill.
func (g *Game) applyFill(p *model.Player, marketID string, delta int, price float64, updateAvg bool) {
	p.Cash -= price * float64(delta)

	pos := p.Positions[marketID]
	if updateAvg {
		oldQty, newQty := pos.Quantity, pos.Quantity+delta
		if newQty == 0 {
			pos.AvgCost = 0
		} else {
			prior := float64(abs(oldQty)) * pos.AvgCost
			fill := float64(abs(delta)) * price
			pos.AvgCost = (prior + fill) / float64(abs(oldQty)+abs(delta))
		}
	}
	pos.Quantity += delta
	p.Positions[marketID] = pos
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
