package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/mmgame/internal/model"
)

// newTestGame builds a playing game with one market, a gamemaster, and two
// traders, advanced to the requested stage.
func newTestGame(t *testing.T, stage model.Stage) (*Game, model.Market) {
	t.Helper()

	g := New("TESTGM", Config{GamemasterSecret: "s"}, nil)
	g.AddPlayer("gm", "GM", true)
	g.AddPlayer("alice", "Alice", false)
	g.AddPlayer("bob", "Bob", false)
	m := g.AddMarket("X", "test market")
	require.NoError(t, g.Start())

	if stage == model.StageSpreadQuoting {
		return g, m
	}

	_, err := g.SubmitSpread("alice", 2.0)
	require.NoError(t, err)
	require.NoError(t, g.NextStage()) // → MARKET_MAKER_QUOTE
	if stage == model.StageMarketMakerQuote {
		return g, m
	}

	require.NoError(t, g.SubmitQuote("alice", 99, 101)) // → FORCED_TRADING
	if stage == model.StageForcedTrading {
		return g, m
	}

	require.NoError(t, g.NextStage()) // → OPEN_TRADING
	require.Equal(t, model.StageOpenTrading, g.Snapshot(true, "").Round.Stage)
	return g, m
}

func TestStart_RequiresLobbyAndMarket(t *testing.T) {
	g := New("AAAAAA", DefaultConfig(), nil)
	g.AddPlayer("gm", "GM", true)

	assert.ErrorIs(t, g.Start(), ErrNoMarkets)

	g.AddMarket("X", "")
	require.NoError(t, g.Start())
	assert.ErrorIs(t, g.Start(), ErrAlreadyStarted)

	state := g.Snapshot(true, "")
	assert.Equal(t, model.StatusPlaying, state.Status)
	require.NotNil(t, state.Round)
	assert.Equal(t, model.StageSpreadQuoting, state.Round.Stage)
	assert.Equal(t, 0, state.Round.Index)
}

func TestSubmitSpread_MonotoneTightening(t *testing.T) {
	g, _ := newTestGame(t, model.StageSpreadQuoting)

	_, err := g.SubmitSpread("alice", 1.50)
	require.NoError(t, err)

	// Equal width is rejected; only strictly tighter wins.
	_, err = g.SubmitSpread("bob", 1.50)
	assert.ErrorIs(t, err, ErrNotTighter)

	upd, err := g.SubmitSpread("bob", 1.49)
	require.NoError(t, err)
	assert.Equal(t, "bob", upd.BestSpreadPlayerID)
	require.NotNil(t, upd.BestSpread)
	assert.Equal(t, 1.49, *upd.BestSpread)
	assert.Len(t, upd.Submissions, 2)

	state := g.Snapshot(true, "")
	assert.Greater(t, state.Round.NoTighterUntil, time.Now().UnixMilli())
}

func TestSubmitSpread_Rejections(t *testing.T) {
	g, _ := newTestGame(t, model.StageSpreadQuoting)

	_, err := g.SubmitSpread("gm", 1.0)
	assert.ErrorIs(t, err, ErrGamemasterTrading)

	_, err = g.SubmitSpread("alice", 0)
	assert.ErrorIs(t, err, ErrInvalidSpread)

	_, err = g.SubmitSpread("nobody", 1.0)
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestNoTighterWindow_EndsStageOne(t *testing.T) {
	g := New("NTWIND", Config{NoTighterWindow: 20 * time.Millisecond, GamemasterSecret: "s"}, nil)
	g.AddPlayer("gm", "GM", true)
	g.AddPlayer("alice", "Alice", false)
	g.AddMarket("X", "")
	require.NoError(t, g.Start())

	_, err := g.SubmitSpread("alice", 2.0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return g.Snapshot(true, "").Round.Stage == model.StageMarketMakerQuote
	}, time.Second, 5*time.Millisecond)

	state := g.Snapshot(true, "")
	assert.True(t, state.Players["alice"].IsMarketMaker)
}

func TestNextStage_NoSubmissionsEndsRound(t *testing.T) {
	g := New("NOSUBS", DefaultConfig(), nil)
	g.AddPlayer("gm", "GM", true)
	g.AddMarket("X", "")
	g.AddMarket("Y", "")
	require.NoError(t, g.Start())

	// Nobody quoted a spread: the round ends and the next market opens.
	require.NoError(t, g.NextStage())
	state := g.Snapshot(true, "")
	require.NotNil(t, state.Round)
	assert.Equal(t, model.StageSpreadQuoting, state.Round.Stage)
	assert.Equal(t, 1, state.CurrentMarketIndex)
	assert.Equal(t, 1, state.Round.Index)
}

func TestSubmitQuote_Contract(t *testing.T) {
	g, _ := newTestGame(t, model.StageMarketMakerQuote)

	// Only the best-spread player may quote.
	assert.ErrorIs(t, g.SubmitQuote("bob", 99, 101), ErrNotMarketMaker)

	// Width must match the winning spread within tolerance.
	assert.ErrorIs(t, g.SubmitQuote("alice", 99, 100), ErrQuoteWidth)
	assert.ErrorIs(t, g.SubmitQuote("alice", 101, 99), ErrQuoteWidth)

	require.NoError(t, g.SubmitQuote("alice", 99, 101))
	state := g.Snapshot(true, "")
	assert.Equal(t, model.StageForcedTrading, state.Round.Stage)
	require.NotNil(t, state.Round.Quote)
	assert.Equal(t, 99.0, state.Round.Quote.Bid)
}

func TestNextStage_MMQuoteRequiresQuote(t *testing.T) {
	g, _ := newTestGame(t, model.StageMarketMakerQuote)
	assert.ErrorIs(t, g.NextStage(), ErrNoQuote)
}

func TestForcedTrade_BuySettlement(t *testing.T) {
	g, m := newTestGame(t, model.StageForcedTrading)

	var trades []model.Trade
	g.SetCallbacks(Callbacks{OnTrade: func(tr model.Trade) { trades = append(trades, tr) }})

	require.NoError(t, g.ForcedTrade("bob", model.DirectionBuy, 5))

	state := g.Snapshot(true, "")
	bob := state.Players["bob"]
	alice := state.Players["alice"]

	assert.InDelta(t, 10000-101*5, bob.Cash, 1e-9)
	assert.Equal(t, 5, bob.Positions[m.ID].Quantity)
	assert.InDelta(t, 101, bob.Positions[m.ID].AvgCost, 1e-9)

	assert.InDelta(t, 10000+101*5, alice.Cash, 1e-9)
	assert.Equal(t, -5, alice.Positions[m.ID].Quantity)

	// Cash and positions conserve across the pair.
	assert.InDelta(t, 20000, bob.Cash+alice.Cash, 1e-9)
	assert.Equal(t, 0, bob.Positions[m.ID].Quantity+alice.Positions[m.ID].Quantity)

	require.Len(t, trades, 1)
	assert.Equal(t, 101.0, trades[0].Price)
	assert.Equal(t, 5, trades[0].Quantity)
	assert.Equal(t, "bob", trades[0].BuyerID)
	assert.Equal(t, "alice", trades[0].SellerID)
	assert.Empty(t, trades[0].BidOrderID)
	assert.Empty(t, trades[0].AskOrderID)
}

func TestForcedTrade_SellHitsBid(t *testing.T) {
	g, m := newTestGame(t, model.StageForcedTrading)

	require.NoError(t, g.ForcedTrade("bob", model.DirectionSell, 3))

	state := g.Snapshot(true, "")
	assert.InDelta(t, 10000+99*3, state.Players["bob"].Cash, 1e-9)
	assert.Equal(t, -3, state.Players["bob"].Positions[m.ID].Quantity)
	assert.Equal(t, 3, state.Players["alice"].Positions[m.ID].Quantity)
}

func TestForcedTrade_Rejections(t *testing.T) {
	g, _ := newTestGame(t, model.StageForcedTrading)

	assert.ErrorIs(t, g.ForcedTrade("gm", model.DirectionBuy, 1), ErrGamemasterTrading)
	assert.ErrorIs(t, g.ForcedTrade("alice", model.DirectionBuy, 1), ErrMarketMakerTrade)
	assert.ErrorIs(t, g.ForcedTrade("bob", model.DirectionBuy, 0), ErrInvalidQuantity)
}

func TestForcedTrade_ExposureLimit(t *testing.T) {
	g, _ := newTestGame(t, model.StageForcedTrading)
	require.NoError(t, g.SetExposureLimit(4))

	assert.ErrorIs(t, g.ForcedTrade("bob", model.DirectionBuy, 5), ErrExposureLimit)
	require.NoError(t, g.ForcedTrade("bob", model.DirectionBuy, 4))
	assert.ErrorIs(t, g.ForcedTrade("bob", model.DirectionBuy, 1), ErrExposureLimit)
}

func TestSubmitOrder_SettlesFills(t *testing.T) {
	g, m := newTestGame(t, model.StageOpenTrading)

	var bookEvents int
	var trades []model.Trade
	g.SetCallbacks(Callbacks{
		OnOrderBookChange: func(model.BookSnapshot) { bookEvents++ },
		OnTrade:           func(tr model.Trade) { trades = append(trades, tr) },
	})

	require.NoError(t, g.SubmitOrder("alice", model.SideAsk, 100, 5))
	require.NoError(t, g.SubmitOrder("bob", model.SideBid, 100, 5))

	state := g.Snapshot(true, "")
	bob := state.Players["bob"]
	alice := state.Players["alice"]

	assert.InDelta(t, 10000-500, bob.Cash, 1e-9)
	assert.Equal(t, 5, bob.Positions[m.ID].Quantity)
	assert.InDelta(t, 100, bob.Positions[m.ID].AvgCost, 1e-9)
	assert.InDelta(t, 10000+500, alice.Cash, 1e-9)
	assert.Equal(t, -5, alice.Positions[m.ID].Quantity)

	assert.Equal(t, 2, bookEvents)
	require.Len(t, trades, 1)
	assert.Equal(t, 100.0, trades[0].Price)
}

func TestSubmitOrder_ExposureValidatorBlocksFill(t *testing.T) {
	g, _ := newTestGame(t, model.StageOpenTrading)
	require.NoError(t, g.SetExposureLimit(2))

	require.NoError(t, g.SubmitOrder("alice", model.SideAsk, 100, 3))
	require.NoError(t, g.SubmitOrder("bob", model.SideBid, 100, 3))

	// The fill would take bob to +3 against a limit of 2: no trade, both
	// orders rest.
	state := g.Snapshot(true, "")
	require.NotNil(t, state.OrderBook)
	require.Len(t, state.OrderBook.Bids, 1)
	require.Len(t, state.OrderBook.Asks, 1)
	assert.Equal(t, 3, state.OrderBook.Bids[0].Quantity)
	assert.InDelta(t, 10000, state.Players["bob"].Cash, 1e-9)
}

func TestSubmitOrder_WrongStage(t *testing.T) {
	g, _ := newTestGame(t, model.StageForcedTrading)
	assert.ErrorIs(t, g.SubmitOrder("bob", model.SideBid, 100, 1), ErrWrongStage)
}

func TestOpenTradingEnd_AdvancesAndCompletes(t *testing.T) {
	g, _ := newTestGame(t, model.StageOpenTrading)

	require.NoError(t, g.NextStage())

	state := g.Snapshot(true, "")
	assert.Nil(t, state.Round)
	assert.True(t, state.AllMarketsComplete)
}

func TestAddMarket_AfterCompletionRestartsPlay(t *testing.T) {
	g, _ := newTestGame(t, model.StageOpenTrading)
	require.NoError(t, g.NextStage())
	require.True(t, g.Snapshot(true, "").AllMarketsComplete)

	g.AddMarket("Y", "second market")

	state := g.Snapshot(true, "")
	assert.False(t, state.AllMarketsComplete)
	require.NotNil(t, state.Round)
	assert.Equal(t, model.StageSpreadQuoting, state.Round.Stage)
	assert.Equal(t, 1, state.CurrentMarketIndex)
}

func TestPrevStage_Rewinds(t *testing.T) {
	g, _ := newTestGame(t, model.StageForcedTrading)

	require.NoError(t, g.PrevStage())
	state := g.Snapshot(true, "")
	assert.Equal(t, model.StageMarketMakerQuote, state.Round.Stage)
	assert.Nil(t, state.Round.Quote)

	require.NoError(t, g.PrevStage())
	state = g.Snapshot(true, "")
	assert.Equal(t, model.StageSpreadQuoting, state.Round.Stage)
	assert.Greater(t, state.Round.StageEndsAt, time.Now().UnixMilli())

	assert.ErrorIs(t, g.PrevStage(), ErrWrongStage)
}

func TestPauseResume_PreservesDeadline(t *testing.T) {
	g, _ := newTestGame(t, model.StageOpenTrading)

	before := g.Snapshot(true, "").Round.StageEndsAt
	require.Greater(t, before, time.Now().UnixMilli())

	require.NoError(t, g.Pause())
	assert.Equal(t, model.StatusPaused, g.Status())
	assert.Equal(t, before, g.Snapshot(true, "").Round.StageEndsAt)

	require.NoError(t, g.Resume())
	assert.Equal(t, model.StatusPlaying, g.Status())
	assert.Equal(t, before, g.Snapshot(true, "").Round.StageEndsAt)
}

func TestStop_RefusedUntilFinalized(t *testing.T) {
	g, _ := newTestGame(t, model.StageOpenTrading)
	require.NoError(t, g.NextStage()) // complete all markets

	assert.ErrorIs(t, g.Stop(), ErrPnlNotFinalized)
	require.NoError(t, g.FinalizePnl())
	require.NoError(t, g.Stop())
	assert.Equal(t, model.StatusStopped, g.Status())
}

func TestFinalizePnl_RequiresCompletionAndIsIdempotent(t *testing.T) {
	g, m := newTestGame(t, model.StageForcedTrading)

	assert.ErrorIs(t, g.FinalizePnl(), ErrNotComplete)

	require.NoError(t, g.ForcedTrade("bob", model.DirectionBuy, 5))
	require.NoError(t, g.NextStage()) // open trading
	require.NoError(t, g.NextStage()) // round end → complete
	require.NoError(t, g.SetTrueValue(m.ID, 105))

	require.NoError(t, g.FinalizePnl())
	require.NoError(t, g.FinalizePnl())

	state := g.Snapshot(true, "")
	// Bob: 9495 cash + 5×105 = 10020 → +20; Alice: 10505 − 5×105 → −20.
	assert.InDelta(t, 20, state.Players["bob"].TotalPnl, 1e-9)
	assert.InDelta(t, -20, state.Players["alice"].TotalPnl, 1e-9)
	assert.True(t, state.PnlFinalized)
}

func TestDerivativeValuation(t *testing.T) {
	g := New("DERIVS", DefaultConfig(), nil)
	g.AddPlayer("gm", "GM", true)
	a := g.AddMarket("A", "")
	b := g.AddMarket("B", "")
	d := g.AddDerivative("D", "", map[string]float64{a.ID: 1, b.ID: -2}, "")

	_, ok := g.TrueValue(d.ID)
	assert.False(t, ok, "undefined until underlyings are set")

	require.NoError(t, g.SetTrueValue(a.ID, 10))
	_, ok = g.TrueValue(d.ID)
	assert.False(t, ok, "still undefined with one underlying missing")

	require.NoError(t, g.SetTrueValue(b.ID, 4))
	v, ok := g.TrueValue(d.ID)
	require.True(t, ok)
	assert.InDelta(t, 2, v, 1e-9)
}

func TestDerivativeValuation_CycleIsUndefined(t *testing.T) {
	g := New("CYCLES", DefaultConfig(), nil)
	d1 := g.AddDerivative("D1", "", nil, "")
	d2 := g.AddDerivative("D2", "", map[string]float64{d1.ID: 1}, "")

	// Wire d1 back onto d2 to form a cycle.
	g.mu.Lock()
	g.marketByID(d1.ID).UnderlyingWeights = map[string]float64{d2.ID: 1}
	g.mu.Unlock()

	_, ok := g.TrueValue(d1.ID)
	assert.False(t, ok)
	_, ok = g.TrueValue(d2.ID)
	assert.False(t, ok)
}

func TestSnapshot_Projections(t *testing.T) {
	g, m := newTestGame(t, model.StageForcedTrading)
	require.NoError(t, g.SetTrueValue(m.ID, 100))
	require.NoError(t, g.ForcedTrade("bob", model.DirectionBuy, 2))

	gmState := g.Snapshot(true, "")
	require.Contains(t, gmState.MarketTrueValues, m.ID)

	playerState := g.Snapshot(false, "bob")
	assert.Nil(t, playerState.MarketTrueValues)
	assert.Zero(t, playerState.Players["bob"].Cash, "viewer's own cash is hidden")
	assert.NotZero(t, playerState.Players["alice"].Cash)

	g.SetVisibility(false)
	hidden := g.Snapshot(false, "bob")
	for _, p := range hidden.Players {
		assert.Empty(t, p.Positions)
		assert.Zero(t, p.Cash)
		assert.Zero(t, p.RoundPnl)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	g, m := newTestGame(t, model.StageForcedTrading)

	state := g.Snapshot(true, "")
	state.Players["bob"].Positions[m.ID] = model.Position{Quantity: 999}
	state.Round.Stage = model.StageRoundEnd

	fresh := g.Snapshot(true, "")
	assert.Zero(t, fresh.Players["bob"].Positions[m.ID].Quantity)
	assert.Equal(t, model.StageForcedTrading, fresh.Round.Stage)
}

func TestAnnouncements_RingCap(t *testing.T) {
	g := New("ANNCAP", DefaultConfig(), nil)
	for i := 0; i < maxAnnouncements+7; i++ {
		g.Announce("note")
	}
	state := g.Snapshot(true, "")
	assert.Len(t, state.Announcements, maxAnnouncements)
}

func TestAddPlayer_RejoinKeepsState(t *testing.T) {
	g, m := newTestGame(t, model.StageForcedTrading)
	require.NoError(t, g.ForcedTrade("bob", model.DirectionBuy, 2))

	g.AddPlayer("bob", "Bobby", false)

	state := g.Snapshot(true, "")
	assert.Equal(t, "Bobby", state.Players["bob"].Name)
	assert.Equal(t, 2, state.Players["bob"].Positions[m.ID].Quantity)
}

func TestSetTimer_OnlyInTimedStages(t *testing.T) {
	g, _ := newTestGame(t, model.StageForcedTrading)

	g.SetTimer(30)
	assert.Zero(t, g.Snapshot(true, "").Round.StageEndsAt)
}

func TestSetTimer_SpreadQuoting(t *testing.T) {
	g, _ := newTestGame(t, model.StageSpreadQuoting)

	var timerEvents int
	g.SetCallbacks(Callbacks{OnTimer: func(model.Stage, int64, int) { timerEvents++ }})

	g.SetTimer(30)
	state := g.Snapshot(true, "")
	assert.Greater(t, state.Round.StageEndsAt, time.Now().UnixMilli())
	assert.Equal(t, 1, timerEvents, "initial TIMER fires on arm")
}
