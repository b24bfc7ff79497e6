package strategies

import (
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/session"
)

// Noop never trades. Useful as a baseline and for exercising feeds.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) State() State { return Idle }

func (Noop) OnSessionClosed(session.Session) error { return nil }

func (Noop) OnBar(BarContext, market.Bar) (*Intent, error) { return nil, nil }

func (Noop) OnExitCheck(ledger.Position, market.Bar) Decision { return Decision{} }

func (Noop) OnPositionClosed(ledger.Trade) {}

func (Noop) OnEntryAbandoned(Intent) {}

func (Noop) Resume(*ledger.Position) {}
