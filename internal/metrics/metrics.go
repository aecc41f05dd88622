// Package metrics exposes Prometheus collectors for the game server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's collectors. A nil *Metrics is safe to use;
// every method is a no-op on nil.
type Metrics struct {
	GamesActive       prometheus.Gauge
	ConnectionsActive prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	TradesTotal       prometheus.Counter
	ErrorsTotal       prometheus.Counter
}

// New registers the collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GamesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mmgame_games_active",
			Help: "Number of live games.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mmgame_connections_active",
			Help: "Number of open websocket connections.",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mmgame_events_total",
			Help: "Inbound events by type.",
		}, []string{"event"}),
		TradesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mmgame_trades_total",
			Help: "Trades executed across all games.",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mmgame_errors_total",
			Help: "Error events sent to clients.",
		}),
	}
}

// SetGames records the live-game count.
func (m *Metrics) SetGames(n int) {
	if m == nil {
		return
	}
	m.GamesActive.Set(float64(n))
}

// ConnOpened increments the connection gauge.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
}

// ConnClosed decrements the connection gauge.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// Event counts one inbound event.
func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(name).Inc()
}

// Trade counts one executed trade.
func (m *Metrics) Trade() {
	if m == nil {
		return
	}
	m.TradesTotal.Inc()
}

// Error counts one error event.
func (m *Metrics) Error() {
	if m == nil {
		return
	}
	m.ErrorsTotal.Inc()
}
