package model

// Side identifies which half of the book an order rests on.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Direction identifies the aggressor side of a forced trade.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Stage is a round's position in the five-stage state machine.
type Stage string

const (
	StageSpreadQuoting    Stage = "SPREAD_QUOTING"
	StageMarketMakerQuote Stage = "MARKET_MAKER_QUOTE"
	StageForcedTrading    Stage = "FORCED_TRADING"
	StageOpenTrading      Stage = "OPEN_TRADING"
	StageRoundEnd         Stage = "ROUND_END"
)

// GameStatus is a game's lifecycle state.
type GameStatus string

const (
	StatusLobby   GameStatus = "lobby"
	StatusPlaying GameStatus = "playing"
	StatusPaused  GameStatus = "paused"
	StatusStopped GameStatus = "stopped"
)

// InitialCash is every player's starting endowment.
const InitialCash = 10_000.0

// Market is one tradeable instrument. A market with UnderlyingWeights is a
// derivative: its true value is the weighted sum of its underlyings'.
type Market struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	UnderlyingWeights map[string]float64 `json:"underlyingWeights,omitempty"`
	Condition         string             `json:"condition,omitempty"`
}

// IsDerivative reports whether the market's value derives from others.
func (m *Market) IsDerivative() bool {
	return len(m.UnderlyingWeights) > 0
}

// Order is a resting or partially-filled limit order.
type Order struct {
	ID        string  `json:"id"`
	MarketID  string  `json:"marketId"`
	PlayerID  string  `json:"playerId"`
	Side      Side    `json:"side"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Remaining int     `json:"remaining"`
	CreatedAt int64   `json:"createdAt"`

	// Seq breaks price ties: lower means inserted earlier.
	Seq uint64 `json:"-"`
}

// Trade is one execution. Order ids are empty for forced-trading fills.
type Trade struct {
	ID         string  `json:"id"`
	MarketID   string  `json:"marketId"`
	BuyerID    string  `json:"buyerId"`
	SellerID   string  `json:"sellerId"`
	BidOrderID string  `json:"bidOrderId"`
	AskOrderID string  `json:"askOrderId"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	Timestamp  int64   `json:"timestamp"`
}

// Position is a player's holding in one market. AvgCost is meaningful only
// while Quantity is non-zero.
type Position struct {
	Quantity int     `json:"quantity"`
	AvgCost  float64 `json:"avgCost"`
}

// Player is one participant in a game. IsMarketMaker is valid for the
// current round only; IsGamemaster holds for the game's lifetime.
type Player struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Cash          float64             `json:"cash"`
	Positions     map[string]Position `json:"positions"`
	RoundPnl      float64             `json:"roundPnl"`
	TotalPnl      float64             `json:"totalPnl"`
	IsMarketMaker bool                `json:"isMarketMaker"`
	IsGamemaster  bool                `json:"isGamemaster"`
}

// SpreadSubmission records one accepted Stage-1 spread.
type SpreadSubmission struct {
	PlayerID    string  `json:"playerId"`
	SpreadWidth float64 `json:"spreadWidth"`
	Timestamp   int64   `json:"timestamp"`
}

// Quote is the market maker's two-sided Stage-2 quote.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// Round is the per-market round state. Timestamps are absolute wall time;
// zero means no timer is active.
type Round struct {
	Index              int                `json:"index"`
	Stage              Stage              `json:"stage"`
	MarketID           string             `json:"marketId"`
	BestSpread         *float64           `json:"bestSpread"`
	BestSpreadPlayerID string             `json:"bestSpreadPlayerId,omitempty"`
	Submissions        []SpreadSubmission `json:"submissions"`
	Quote              *Quote             `json:"quote"`
	StageEndsAt        int64              `json:"stageEndsAt,omitempty"`
	NoTighterUntil     int64              `json:"noTighterUntil,omitempty"`
}

// Announcement is one gamemaster broadcast. Games keep at most 50.
type Announcement struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// PriceLevel is one aggregated order-book level.
type PriceLevel struct {
	Price     float64  `json:"price"`
	Quantity  int      `json:"quantity"`
	PlayerIDs []string `json:"playerIds"`
}

// BookSnapshot is the aggregated view of one market's resting orders.
type BookSnapshot struct {
	Bids           []PriceLevel `json:"bids"`
	Asks           []PriceLevel `json:"asks"`
	LastTradePrice *float64     `json:"lastTradePrice,omitempty"`
}

// GameState is the viewer-projected game snapshot sent to clients.
// MarketTrueValues is present only in gamemaster projections.
type GameState struct {
	GameCode                string             `json:"gameCode"`
	Status                  GameStatus         `json:"status"`
	Markets                 []Market           `json:"markets"`
	CurrentMarketIndex      int                `json:"currentMarketIndex"`
	CurrentRoundIndex       int                `json:"currentRoundIndex"`
	Round                   *Round             `json:"round"`
	Players                 map[string]Player  `json:"players"`
	Announcements           []Announcement     `json:"announcements"`
	ShowIndividualPositions bool               `json:"showIndividualPositions"`
	MarketTrueValues        map[string]float64 `json:"marketTrueValues,omitempty"`
	AllMarketsComplete      bool               `json:"allMarketsComplete"`
	PnlFinalized            bool               `json:"pnlFinalized"`
	MaxExposure             int                `json:"maxExposure"`
	CreatedAt               int64              `json:"createdAt"`
	OrderBook               *BookSnapshot      `json:"orderBook,omitempty"`
}
