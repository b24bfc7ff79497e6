package ledger

import (
	"time"

	"github.com/rustyeddy/breakout/market"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusOpen    Status = "OPEN"
	StatusClosed  Status = "CLOSED"
)

type ExitReason string

const (
	ExitStop           ExitReason = "STOP"
	ExitTarget         ExitReason = "TARGET"
	ExitManual         ExitReason = "MANUAL"
	ExitSessionTimeout ExitReason = "SESSION_TIMEOUT"
)

// Position is a filled entry. TradeEnd is the end of the trading window of
// the session that produced it.
type Position struct {
	ID          string      `json:"id"`
	Instrument  string      `json:"instrument"`
	Side        market.Side `json:"side"`
	EntryPrice  float64     `json:"entry_price"`
	Size        float64     `json:"size"`
	StopLoss    float64     `json:"stop_loss"`
	InitialStop float64     `json:"initial_stop"`
	TakeProfit  float64     `json:"take_profit,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
	TradeEnd    time.Time   `json:"trade_end"`
	Status      Status      `json:"status"`
	SessionRef  string      `json:"session_ref"`
	IntentID    string      `json:"intent_id"`
	Ticket      string      `json:"ticket"`
}

// Trade is the immutable record of a closed position.
type Trade struct {
	PositionID string      `json:"position_id"`
	Instrument string      `json:"instrument"`
	Side       market.Side `json:"side"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	Size       float64     `json:"size"`
	PnL        float64     `json:"pnl"`
	Risk       float64     `json:"risk"`
	OpenedAt   time.Time   `json:"opened_at"`
	ClosedAt   time.Time   `json:"closed_at"`
	ExitReason ExitReason  `json:"exit_reason"`
	SessionRef string      `json:"session_ref"`
}

// State is everything a Store persists for one instrument. LastBar is the
// time of the last bar the engine finished processing.
type State struct {
	Instrument     string     `json:"instrument"`
	InitialBalance float64    `json:"initial_balance"`
	Balance        float64    `json:"balance"`
	LastBar        time.Time  `json:"last_bar,omitzero"`
	Positions      []Position `json:"positions"`
	Trades         []Trade    `json:"trades"`
}

func (s State) clone() State {
	out := s
	out.Positions = append([]Position(nil), s.Positions...)
	out.Trades = append([]Trade(nil), s.Trades...)
	return out
}

// Open returns the OPEN position, if any.
func (s State) Open() (Position, bool) {
	for _, p := range s.Positions {
		if p.Status == StatusOpen {
			return p, true
		}
	}
	return Position{}, false
}

// HasSession reports whether any position, open or closed, came from ref.
func (s State) HasSession(ref string) bool {
	for _, p := range s.Positions {
		if p.SessionRef == ref {
			return true
		}
	}
	return false
}

// Resumed returns the latest of LastBar and every position and trade time.
func (s State) Resumed() time.Time {
	t := s.LastBar
	for _, p := range s.Positions {
		if p.OpenedAt.After(t) {
			t = p.OpenedAt
		}
	}
	for _, tr := range s.Trades {
		if tr.ClosedAt.After(t) {
			t = tr.ClosedAt
		}
	}
	return t
}

// EquityPoint is the marked-to-market account value at a bar close.
type EquityPoint struct {
	Time    time.Time `json:"time"`
	Balance float64   `json:"balance"`
	Equity  float64   `json:"equity"`
}
