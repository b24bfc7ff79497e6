package strategies

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/session"
)

var (
	// ErrOverlappingSession is returned when a session closes while a cycle
	// for an earlier session is still in progress.
	ErrOverlappingSession = errors.New("session closed while previous cycle still active")
	// ErrAmbiguousBar marks a bar that crossed both triggers and was skipped.
	ErrAmbiguousBar = errors.New("both breakout levels crossed in one bar")
)

type State int

const (
	Idle State = iota
	Armed
	InPosition
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Armed:
		return "ARMED"
	case InPosition:
		return "IN_POSITION"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Intent is a request to open a position. ID is assigned by the engine and
// doubles as the idempotency key at the broker.
type Intent struct {
	ID         string
	Instrument string
	Side       market.Side
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Size       float64
	SessionRef string
	TradeEnd   time.Time
	CreatedAt  time.Time
}

// BarContext carries account information the strategy needs for sizing.
type BarContext struct {
	Equity         float64
	QuoteToAccount float64
}

// Decision is the outcome of an exit check.
type Decision struct {
	Exit     bool
	Price    float64
	Reason   ledger.ExitReason
	MoveStop bool
	NewStop  float64
}

// Strategy is driven bar by bar by the engine.
type Strategy interface {
	Name() string
	State() State

	OnSessionClosed(s session.Session) error
	OnBar(ctx BarContext, bar market.Bar) (*Intent, error)
	OnExitCheck(pos ledger.Position, bar market.Bar) Decision

	OnPositionClosed(tr ledger.Trade)
	OnEntryAbandoned(in Intent)
	// Resume restores state from an open position found at startup.
	Resume(open *ledger.Position)
}

type Factory func(cfg Config) (Strategy, error)

var registry = map[string]Factory{}

func Register(name string, f Factory) {
	registry[strings.ToLower(name)] = f
}

// New builds the named strategy.
func New(name string, cfg Config) (Strategy, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return f(cfg)
}

func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register("breakout", func(cfg Config) (Strategy, error) { return NewBreakout(cfg) })
	Register("session-breakout", func(cfg Config) (Strategy, error) { return NewBreakout(cfg) })
	Register("noop", func(Config) (Strategy, error) { return Noop{}, nil })
}
