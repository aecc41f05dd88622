package game

import "github.com/rickgao/mmgame/internal/model"

// TrueValue resolves a market's settlement value. A direct value wins;
// otherwise a derivative resolves to the weighted sum of its underlyings,
// undefined when any reference is missing or itself undefined.
func (g *Game) TrueValue(marketID string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trueValueLocked(marketID, make(map[string]bool))
}

func (g *Game) trueValueLocked(marketID string, visited map[string]bool) (float64, bool) {
	if v, ok := g.trueValues[marketID]; ok {
		return v, true
	}
	if visited[marketID] {
		// Cyclic derivative definition; treat as undefined.
		return 0, false
	}
	visited[marketID] = true
	defer delete(visited, marketID)

	m := g.marketByID(marketID)
	if m == nil || !m.IsDerivative() {
		return 0, false
	}

	var total float64
	for underlyingID, weight := range m.UnderlyingWeights {
		v, ok := g.trueValueLocked(underlyingID, visited)
		if !ok {
			return 0, false
		}
		total += weight * v
	}
	return total, true
}

// FinalizePnl settles every non-gamemaster player: settlement value is
// cash plus position × true value over markets whose value resolves, and
// total P&L is the distance from the initial endowment. Idempotent once
// all markets are complete.
func (g *Game) FinalizePnl() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.allMarketsComplete {
		return ErrNotComplete
	}
	if g.pnlFinalized {
		return nil
	}

	for _, p := range g.players {
		if p.IsGamemaster {
			continue
		}
		settlement := p.Cash
		for _, m := range g.markets {
			pos := p.Positions[m.ID]
			if pos.Quantity == 0 {
				continue
			}
			v, ok := g.trueValueLocked(m.ID, make(map[string]bool))
			if !ok {
				continue
			}
			settlement += float64(pos.Quantity) * v
		}
		p.TotalPnl = settlement - model.InitialCash
	}

	g.pnlFinalized = true
	g.logger.Info("pnl finalized")
	return nil
}
