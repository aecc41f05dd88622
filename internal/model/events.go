package model

import "encoding/json"

// Inbound event names.
const (
	EvJoinGame     = "game:join"
	EvLeaveGame    = "game:leave"
	EvSubmitSpread = "game:spread:submit"
	EvSubmitQuote  = "game:mm:quote"
	EvForcedTrade  = "game:forced:trade"
	EvSubmitOrder  = "game:order:submit"
	EvCancelOrder  = "game:order:cancel"

	EvGMCreate           = "gm:create"
	EvGMStart            = "gm:start"
	EvGMPause            = "gm:pause"
	EvGMResume           = "gm:resume"
	EvGMStop             = "gm:stop"
	EvGMNextStage        = "gm:next_stage"
	EvGMPrevStage        = "gm:prev_stage"
	EvGMAddMarket        = "gm:add_market"
	EvGMAddDerivative    = "gm:add_derivative"
	EvGMBroadcast        = "gm:broadcast"
	EvGMSetTimer         = "gm:set_timer"
	EvGMSetVisibility    = "gm:set_visibility"
	EvGMSetTrueValue     = "gm:set_true_value"
	EvGMSetExposureLimit = "gm:set_exposure_limit"
	EvGMFinalizePnl      = "gm:finalize_pnl"
)

// Outbound event names.
const (
	EvJoined       = "game:joined"
	EvState        = "game:state"
	EvStageChanged = "game:stage_changed"
	EvSpreadUpdate = "game:spread_update"
	EvOrderBook    = "game:order_book"
	EvTrade        = "game:trade"
	EvAnnouncement = "game:announcement"
	EvTimer        = "game:timer"
	EvPlayerLeft   = "game:player_left"
	EvError        = "game:error"
	EvEnded        = "game:ended"

	EvAck = "ack"
)

// Envelope is the wire frame for every message in both directions. ID is
// set on inbound events that expect an acknowledgement; the matching ack
// echoes it.
type Envelope struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payloads.

type JoinPayload struct {
	GameCode         string `json:"gameCode"`
	DisplayName      string `json:"displayName"`
	IsGamemaster     bool   `json:"isGamemaster,omitempty"`
	GamemasterSecret string `json:"gamemasterSecret,omitempty"`
}

type SpreadPayload struct {
	SpreadWidth float64 `json:"spreadWidth"`
}

type QuotePayload struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

type ForcedTradePayload struct {
	Direction Direction `json:"direction"`
	Quantity  int       `json:"quantity"`
}

type OrderPayload struct {
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type CancelOrderPayload struct {
	OrderID string `json:"orderId"`
}

type CreateGamePayload struct {
	GamemasterSecret        string `json:"gamemasterSecret"`
	SpreadTimerSeconds      int    `json:"spreadTimerSeconds,omitempty"`
	OpenTradingTimerSeconds int    `json:"openTradingTimerSeconds,omitempty"`
	NoTighterWindowSeconds  int    `json:"noTighterWindowSeconds,omitempty"`
}

type AddMarketPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type AddDerivativePayload struct {
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	UnderlyingWeights map[string]float64 `json:"underlyingWeights"`
	Condition         string             `json:"condition,omitempty"`
}

type BroadcastPayload struct {
	Text string `json:"text"`
}

type SetTimerPayload struct {
	Seconds int `json:"seconds"`
}

type SetVisibilityPayload struct {
	ShowIndividualPositions bool `json:"showIndividualPositions"`
}

type SetTrueValuePayload struct {
	MarketID string  `json:"marketId"`
	Value    float64 `json:"value"`
}

type SetExposureLimitPayload struct {
	MaxExposure int `json:"maxExposure"`
}

// Outbound payloads.

type JoinedPayload struct {
	GameCode     string     `json:"gameCode"`
	PlayerID     string     `json:"playerId"`
	IsGamemaster bool       `json:"isGamemaster"`
	State        *GameState `json:"state"`
}

type StatePayload struct {
	State *GameState `json:"state"`
}

type StageChangedPayload struct {
	Stage Stage  `json:"stage"`
	Round *Round `json:"round"`
}

type SpreadUpdatePayload struct {
	BestSpread         *float64           `json:"bestSpread"`
	BestSpreadPlayerID string             `json:"bestSpreadPlayerId,omitempty"`
	Submissions        []SpreadSubmission `json:"submissions"`
}

type OrderBookPayload struct {
	OrderBook *BookSnapshot `json:"orderBook"`
}

type TradePayload struct {
	Trade Trade `json:"trade"`
}

type TimerPayload struct {
	Stage            Stage `json:"stage"`
	EndsAt           int64 `json:"endsAt"`
	SecondsRemaining int   `json:"secondsRemaining"`
}

type PlayerLeftPayload struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type EndedPayload struct {
	State   *GameState `json:"state"`
	Message string     `json:"message"`
}

type AckError struct {
	Error string `json:"error"`
}

type CreatedPayload struct {
	GameCode string `json:"gameCode"`
}
