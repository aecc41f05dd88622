package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/mmgame/internal/game"
	"github.com/rickgao/mmgame/internal/metrics"
	"github.com/rickgao/mmgame/internal/model"
	"github.com/rickgao/mmgame/internal/registry"
)

// Options configures the gateway.
type Options struct {
	// AllowedOrigins is the CORS allowlist; empty allows all origins.
	AllowedOrigins []string

	// GameDefaults seeds per-game timing configuration; gm:create may
	// override the timers per game.
	GameDefaults game.Config
}

// Gateway routes websocket events to game instances.
type Gateway struct {
	registry *registry.Registry
	hub      *hub
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// New creates a gateway over the given registry.
func New(reg *registry.Registry, opts Options, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		registry: reg,
		hub:      newHub(),
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     gw.checkOrigin,
	}
	return gw
}

func (gw *Gateway) checkOrigin(r *http.Request) bool {
	if len(gw.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range gw.opts.AllowedOrigins {
		if allowed == origin || allowed == "*" {
			return true
		}
	}
	return false
}

// ServeWS upgrades the connection and runs the client pumps until the
// connection drops.
func (gw *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(wsConn, gw.logger)
	gw.hub.add(c)
	gw.metrics.ConnOpened()

	go c.writePump()
	gw.readPump(c)
}

func (gw *Gateway) readPump(c *client) {
	defer func() {
		gw.disconnect(c)
		gw.metrics.ConnClosed()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				gw.logger.Debug("read error", "error", err)
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			gw.logger.Debug("malformed frame", "error", err)
			continue
		}
		gw.dispatch(c, env)
	}
}

// disconnect tears a connection down as an implicit leave.
func (gw *Gateway) disconnect(c *client) {
	gw.handleLeave(c)
	gw.hub.remove(c)
	c.close()
}

// dispatch routes one inbound envelope. Events that need a game or a role
// the session lacks are ignored without a reply.
func (gw *Gateway) dispatch(c *client, env model.Envelope) {
	gw.metrics.Event(env.Type)

	switch env.Type {
	case model.EvJoinGame:
		gw.handleJoin(c, env)
	case model.EvLeaveGame:
		gw.handleLeave(c)
	case model.EvGMCreate:
		gw.handleCreate(c, env)

	case model.EvSubmitSpread:
		gw.handleSpread(c, env)
	case model.EvSubmitQuote:
		gw.handleQuote(c, env)
	case model.EvForcedTrade:
		gw.handleForcedTrade(c, env)
	case model.EvSubmitOrder:
		gw.handleOrder(c, env)
	case model.EvCancelOrder:
		gw.sendError(c, "order cancellation is not supported")

	case model.EvGMStart, model.EvGMPause, model.EvGMResume, model.EvGMStop,
		model.EvGMNextStage, model.EvGMPrevStage, model.EvGMAddMarket,
		model.EvGMAddDerivative, model.EvGMBroadcast, model.EvGMSetTimer,
		model.EvGMSetVisibility, model.EvGMSetTrueValue,
		model.EvGMSetExposureLimit, model.EvGMFinalizePnl:
		gw.handleGamemaster(c, env)

	default:
		gw.logger.Debug("unknown event", "event", env.Type)
	}
}

func (gw *Gateway) handleJoin(c *client, env model.Envelope) {
	var p model.JoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendEvent(model.EvAck, env.ID, model.AckError{Error: "invalid payload"})
		return
	}

	g, ok := gw.registry.Get(p.GameCode)
	if !ok {
		c.sendEvent(model.EvAck, env.ID, model.AckError{Error: "game not found"})
		return
	}

	isGM := false
	if p.IsGamemaster {
		if !g.CheckGamemasterSecret(p.GamemasterSecret) {
			c.sendEvent(model.EvAck, env.ID, model.AckError{Error: "invalid gamemaster secret"})
			return
		}
		isGM = true
	}

	playerID := uuid.NewString()
	g, ok = gw.registry.Join(p.GameCode, playerID, p.DisplayName, isGM)
	if !ok {
		c.sendEvent(model.EvAck, env.ID, model.AckError{Error: "game not found"})
		return
	}

	c.setSession(session{
		playerID:     playerID,
		gameCode:     g.Code(),
		displayName:  p.DisplayName,
		isGamemaster: isGM,
	})
	gw.hub.joinRoom(roomKey(g.Code()), c)
	gw.wireCallbacks(g)

	c.sendEvent(model.EvAck, env.ID, model.JoinedPayload{
		GameCode:     g.Code(),
		PlayerID:     playerID,
		IsGamemaster: isGM,
		State:        g.Snapshot(isGM, playerID),
	})
	gw.broadcastState(g)

	gw.logger.Info("joined", "game", g.Code(), "player", playerID, "name", p.DisplayName)
}

func (gw *Gateway) handleCreate(c *client, env model.Envelope) {
	var p model.CreateGamePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendEvent(model.EvAck, env.ID, model.AckError{Error: "invalid payload"})
		return
	}
	if p.GamemasterSecret == "" {
		c.sendEvent(model.EvAck, env.ID, model.AckError{Error: "gamemaster secret required"})
		return
	}

	cfg := gw.opts.GameDefaults
	cfg.GamemasterSecret = p.GamemasterSecret
	if p.SpreadTimerSeconds > 0 {
		cfg.SpreadTimer = time.Duration(p.SpreadTimerSeconds) * time.Second
	}
	if p.OpenTradingTimerSeconds > 0 {
		cfg.OpenTradingTimer = time.Duration(p.OpenTradingTimerSeconds) * time.Second
	}
	if p.NoTighterWindowSeconds > 0 {
		cfg.NoTighterWindow = time.Duration(p.NoTighterWindowSeconds) * time.Second
	}

	g := gw.registry.Create(cfg)
	playerID := uuid.NewString()
	g.AddPlayer(playerID, "Gamemaster", true)
	gw.registry.Track(playerID, g.Code())

	c.setSession(session{
		playerID:     playerID,
		gameCode:     g.Code(),
		displayName:  "Gamemaster",
		isGamemaster: true,
	})
	gw.hub.joinRoom(roomKey(g.Code()), c)
	gw.wireCallbacks(g)
	gw.metrics.SetGames(gw.registry.Count())

	c.sendEvent(model.EvAck, env.ID, model.CreatedPayload{GameCode: g.Code()})
	c.sendEvent(model.EvJoined, 0, model.JoinedPayload{
		GameCode:     g.Code(),
		PlayerID:     playerID,
		IsGamemaster: true,
		State:        g.Snapshot(true, playerID),
	})

	gw.logger.Info("game created", "game", g.Code())
}

func (gw *Gateway) handleLeave(c *client) {
	sess := c.session()
	if sess.playerID == "" {
		return
	}

	g, name, ok := gw.registry.Leave(sess.playerID)
	room := roomKey(sess.gameCode)
	gw.hub.leaveRoom(room, c)
	c.clearSession()
	gw.metrics.SetGames(gw.registry.Count())

	if !ok {
		return
	}

	gw.hub.broadcast(room, model.EvPlayerLeft, model.PlayerLeftPayload{
		PlayerID:    sess.playerID,
		DisplayName: name,
	})
	gw.broadcastState(g)
}

func (gw *Gateway) handleSpread(c *client, env model.Envelope) {
	g, sess, ok := gw.sessionGame(c)
	if !ok {
		return
	}
	var p model.SpreadPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		gw.sendError(c, "invalid payload")
		return
	}

	upd, err := g.SubmitSpread(sess.playerID, p.SpreadWidth)
	if err != nil {
		gw.sendError(c, err.Error())
		return
	}
	gw.hub.broadcast(roomKey(sess.gameCode), model.EvSpreadUpdate, upd)
	gw.broadcastState(g)
}

func (gw *Gateway) handleQuote(c *client, env model.Envelope) {
	g, sess, ok := gw.sessionGame(c)
	if !ok {
		return
	}
	var p model.QuotePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		gw.sendError(c, "invalid payload")
		return
	}

	if err := g.SubmitQuote(sess.playerID, p.Bid, p.Ask); err != nil {
		gw.sendError(c, err.Error())
		return
	}
	gw.broadcastState(g)
}

func (gw *Gateway) handleForcedTrade(c *client, env model.Envelope) {
	g, sess, ok := gw.sessionGame(c)
	if !ok {
		return
	}
	var p model.ForcedTradePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		gw.sendError(c, "invalid payload")
		return
	}

	if err := g.ForcedTrade(sess.playerID, p.Direction, p.Quantity); err != nil {
		gw.sendError(c, err.Error())
		return
	}
	gw.broadcastState(g)
}

func (gw *Gateway) handleOrder(c *client, env model.Envelope) {
	g, sess, ok := gw.sessionGame(c)
	if !ok {
		return
	}
	var p model.OrderPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		gw.sendError(c, "invalid payload")
		return
	}

	if err := g.SubmitOrder(sess.playerID, p.Side, p.Price, p.Quantity); err != nil {
		gw.sendError(c, err.Error())
		return
	}
	gw.broadcastState(g)
}

// handleGamemaster covers every gm-prefixed event except gm:create. The
// role is verified against the looked-up game, not the session flag; a
// non-gamemaster sender is ignored without a reply.
func (gw *Gateway) handleGamemaster(c *client, env model.Envelope) {
	g, sess, ok := gw.sessionGame(c)
	if !ok {
		return
	}
	if !g.IsGamemaster(sess.playerID) {
		return
	}

	var err error
	switch env.Type {
	case model.EvGMStart:
		err = g.Start()
	case model.EvGMPause:
		err = g.Pause()
	case model.EvGMResume:
		err = g.Resume()
	case model.EvGMNextStage:
		err = g.NextStage()
	case model.EvGMPrevStage:
		err = g.PrevStage()

	case model.EvGMStop:
		if err = g.Stop(); err == nil {
			gw.hub.broadcast(roomKey(sess.gameCode), model.EvEnded, model.EndedPayload{
				State:   g.Snapshot(true, ""),
				Message: "The game has ended. Thanks for playing!",
			})
			return
		}

	case model.EvGMAddMarket:
		var p model.AddMarketPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			g.AddMarket(p.Name, p.Description)
		}
	case model.EvGMAddDerivative:
		var p model.AddDerivativePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			g.AddDerivative(p.Name, p.Description, p.UnderlyingWeights, p.Condition)
		}
	case model.EvGMBroadcast:
		var p model.BroadcastPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			a := g.Announce(p.Text)
			gw.hub.broadcast(roomKey(sess.gameCode), model.EvAnnouncement, a)
		}
	case model.EvGMSetTimer:
		var p model.SetTimerPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			g.SetTimer(clampSeconds(p.Seconds))
		}
	case model.EvGMSetVisibility:
		var p model.SetVisibilityPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			g.SetVisibility(p.ShowIndividualPositions)
		}
	case model.EvGMSetTrueValue:
		var p model.SetTrueValuePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = g.SetTrueValue(p.MarketID, p.Value)
		}
	case model.EvGMSetExposureLimit:
		var p model.SetExposureLimitPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = g.SetExposureLimit(p.MaxExposure)
		}
	case model.EvGMFinalizePnl:
		err = g.FinalizePnl()
	}

	if err != nil {
		gw.sendError(c, err.Error())
		return
	}
	gw.broadcastState(g)
}

// sessionGame resolves the session's game; events without a live session
// are silently ignored.
func (gw *Gateway) sessionGame(c *client) (*game.Game, session, bool) {
	sess := c.session()
	if sess.playerID == "" || sess.gameCode == "" {
		return nil, sess, false
	}
	g, ok := gw.registry.GameFor(sess.playerID)
	if !ok {
		return nil, sess, false
	}
	return g, sess, true
}

func (gw *Gateway) sendError(c *client, message string) {
	gw.metrics.Error()
	c.sendEvent(model.EvError, 0, model.ErrorPayload{Message: message})
}

// broadcastState sends each room member a snapshot projected for them.
// This is deliberately not a single room broadcast: gamemasters see true
// values, and players see their own filtered view.
func (gw *Gateway) broadcastState(g *game.Game) {
	for _, member := range gw.hub.members(roomKey(g.Code())) {
		sess := member.session()
		state := g.Snapshot(sess.isGamemaster, sess.playerID)
		member.sendEvent(model.EvState, 0, model.StatePayload{State: state})
	}
}

// wireCallbacks (re)registers the broadcast hooks on a game. Callbacks are
// reassigned on every join so the hooks always reach the live hub.
func (gw *Gateway) wireCallbacks(g *game.Game) {
	room := roomKey(g.Code())

	g.SetCallbacks(game.Callbacks{
		OnStageChange: func(stage model.Stage, round *model.Round) {
			if round != nil {
				gw.hub.broadcast(room, model.EvStageChanged, model.StageChangedPayload{
					Stage: stage,
					Round: round,
				})
				if round.StageEndsAt > 0 {
					gw.hub.broadcast(room, model.EvTimer, model.TimerPayload{
						Stage:            stage,
						EndsAt:           round.StageEndsAt,
						SecondsRemaining: secondsUntil(round.StageEndsAt),
					})
				}
			}
			gw.broadcastState(g)
		},
		OnTimer: func(stage model.Stage, endsAt int64, secondsRemaining int) {
			gw.hub.broadcast(room, model.EvTimer, model.TimerPayload{
				Stage:            stage,
				EndsAt:           endsAt,
				SecondsRemaining: secondsRemaining,
			})
		},
		OnTrade: func(trade model.Trade) {
			gw.metrics.Trade()
			gw.hub.broadcast(room, model.EvTrade, model.TradePayload{Trade: trade})
		},
		OnOrderBookChange: func(snapshot model.BookSnapshot) {
			gw.hub.broadcast(room, model.EvOrderBook, model.OrderBookPayload{OrderBook: &snapshot})
		},
	})
}

func clampSeconds(s int) int {
	if s < 1 {
		return 1
	}
	if s > 3600 {
		return 3600
	}
	return s
}

func secondsUntil(endsAt int64) int {
	remaining := int((endsAt - time.Now().UnixMilli() + 999) / 1000)
	if remaining < 0 {
		return 0
	}
	return remaining
}
