package game

import "github.com/rickgao/mmgame/internal/model"

// Snapshot projects the game state for one viewer.
//
// Gamemasters see the true-value map, augmented with any derivative value
// computable from underlyings. Everyone else never sees true values. When
// individual positions are hidden, player rows have positions emptied and
// cash and round P&L zeroed; id, name, role flags and total P&L are kept.
// A non-gamemaster viewer additionally has their own cash zeroed.
func (g *Game) Snapshot(forGamemaster bool, viewerPlayerID string) *model.GameState {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := &model.GameState{
		GameCode:                g.code,
		Status:                  g.status,
		Markets:                 append([]model.Market(nil), g.markets...),
		CurrentMarketIndex:      g.currentMarketIndex,
		CurrentRoundIndex:       g.currentRoundIndex,
		Round:                   copyRound(g.round),
		Players:                 make(map[string]model.Player, len(g.players)),
		Announcements:           append([]model.Announcement(nil), g.announcements...),
		ShowIndividualPositions: g.showIndividualPositions,
		AllMarketsComplete:      g.allMarketsComplete,
		PnlFinalized:            g.pnlFinalized,
		MaxExposure:             g.maxExposure,
		CreatedAt:               g.createdAt,
	}

	for id, p := range g.players {
		state.Players[id] = projectPlayer(p, g.showIndividualPositions)
	}

	if forGamemaster {
		values := make(map[string]float64, len(g.trueValues))
		for _, m := range g.markets {
			if v, ok := g.trueValueLocked(m.ID, make(map[string]bool)); ok {
				values[m.ID] = v
			}
		}
		state.MarketTrueValues = values
	} else if viewerPlayerID != "" {
		if viewer, ok := state.Players[viewerPlayerID]; ok {
			viewer.Cash = 0
			state.Players[viewerPlayerID] = viewer
		}
	}

	if g.book != nil {
		snap := g.book.Snapshot()
		state.OrderBook = &snap
	}

	return state
}

func projectPlayer(p *model.Player, showPositions bool) model.Player {
	out := *p
	if !showPositions {
		out.Positions = map[string]model.Position{}
		out.Cash = 0
		out.RoundPnl = 0
		return out
	}
	out.Positions = make(map[string]model.Position, len(p.Positions))
	for id, pos := range p.Positions {
		out.Positions[id] = pos
	}
	return out
}

func copyRound(r *model.Round) *model.Round {
	if r == nil {
		return nil
	}
	out := *r
	out.Submissions = append([]model.SpreadSubmission(nil), r.Submissions...)
	if r.BestSpread != nil {
		best := *r.BestSpread
		out.BestSpread = &best
	}
	if r.Quote != nil {
		q := *r.Quote
		out.Quote = &q
	}
	return &out
}
