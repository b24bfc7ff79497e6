// Package metrics exports engine activity to Prometheus and serves a small
// status API for live runs.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rustyeddy/breakout/engine"
	"github.com/rustyeddy/breakout/ledger"
)

// Collector implements engine.Observer.
type Collector struct {
	bars    prometheus.Counter
	events  *prometheus.CounterVec
	trades  *prometheus.CounterVec
	pnl     prometheus.Gauge
	balance prometheus.Gauge
	equity  prometheus.Gauge
	lastBar prometheus.Gauge

	mu     sync.RWMutex
	status Status
}

var _ engine.Observer = (*Collector)(nil)

// Status is the last known state of the run, served on /status.
type Status struct {
	Instrument   string                   `json:"instrument"`
	Bars         int                      `json:"bars"`
	LastBar      time.Time                `json:"last_bar"`
	Balance      float64                  `json:"balance"`
	Equity       float64                  `json:"equity"`
	Trades       int                      `json:"trades"`
	RealizedPnL  float64                  `json:"realized_pnl"`
	Events       map[engine.EventKind]int `json:"events"`
	LastEvent    *engine.Event            `json:"last_event,omitempty"`
	OpenPosition *ledger.Position         `json:"open_position,omitempty"`
}

func NewCollector(reg prometheus.Registerer, instrument string) *Collector {
	f := promauto.With(reg)
	labels := prometheus.Labels{"instrument": instrument}

	return &Collector{
		bars: f.NewCounter(prometheus.CounterOpts{
			Name:        "breakout_bars_total",
			Help:        "Bars accepted by the engine",
			ConstLabels: labels,
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "breakout_events_total",
			Help:        "Engine events by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "breakout_trades_total",
			Help:        "Closed trades by exit reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		pnl: f.NewGauge(prometheus.GaugeOpts{
			Name:        "breakout_realized_pnl",
			Help:        "Realized profit and loss since start",
			ConstLabels: labels,
		}),
		balance: f.NewGauge(prometheus.GaugeOpts{
			Name:        "breakout_balance",
			Help:        "Account balance",
			ConstLabels: labels,
		}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Name:        "breakout_equity",
			Help:        "Balance plus open position marked to the last close",
			ConstLabels: labels,
		}),
		lastBar: f.NewGauge(prometheus.GaugeOpts{
			Name:        "breakout_last_bar_timestamp_seconds",
			Help:        "Open time of the last processed bar",
			ConstLabels: labels,
		}),
		status: Status{Instrument: instrument, Events: map[engine.EventKind]int{}},
	}
}

func (c *Collector) Event(ev engine.Event) {
	c.events.WithLabelValues(string(ev.Kind)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Events[ev.Kind]++
	c.status.LastEvent = &ev
}

func (c *Collector) Trade(tr ledger.Trade) {
	c.trades.WithLabelValues(string(tr.ExitReason)).Inc()
	c.pnl.Add(tr.PnL)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Trades++
	c.status.RealizedPnL += tr.PnL
}

func (c *Collector) Equity(p ledger.EquityPoint) {
	c.bars.Inc()
	c.balance.Set(p.Balance)
	c.equity.Set(p.Equity)
	c.lastBar.Set(float64(p.Time.Unix()))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Bars++
	c.status.LastBar = p.Time
	c.status.Balance = p.Balance
	c.status.Equity = p.Equity
}

// Status returns a copy of the current status.
func (c *Collector) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	s.Events = make(map[engine.EventKind]int, len(c.status.Events))
	for k, v := range c.status.Events {
		s.Events[k] = v
	}
	if c.status.LastEvent != nil {
		ev := *c.status.LastEvent
		s.LastEvent = &ev
	}
	return s
}
