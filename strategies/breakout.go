package strategies

import (
	"fmt"
	"math"

	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/risk"
	"github.com/rustyeddy/breakout/session"
)

// Breakout trades the first break of the previous session's range during
// that session's trading window.
//
//	IDLE -> ARMED        session closed with data
//	ARMED -> IN_POSITION bar crosses a trigger
//	ARMED -> IDLE        trading window over, or sizing failed
//	IN_POSITION -> IDLE  position closed or entry abandoned
type Breakout struct {
	cfg  Config
	inst market.InstrumentMeta

	state State
	sess  session.Session
	ref   string

	longTrigger  float64
	shortTrigger float64

	// favourable extreme since entry, for trailing
	extreme float64
}

func NewBreakout(cfg Config) (*Breakout, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inst, err := market.Lookup(cfg.Instrument)
	if err != nil {
		return nil, err
	}
	return &Breakout{cfg: cfg, inst: inst}, nil
}

func (b *Breakout) Name() string { return "breakout" }

func (b *Breakout) State() State { return b.state }

// Session returns the session the current cycle belongs to.
func (b *Breakout) Session() session.Session { return b.sess }

// Triggers returns the armed long and short entry levels.
func (b *Breakout) Triggers() (long, short float64) { return b.longTrigger, b.shortTrigger }

func (b *Breakout) OnSessionClosed(s session.Session) error {
	if b.state == InPosition && s.Ref() != b.ref {
		return fmt.Errorf("%w: %s closed while in position from %s", ErrOverlappingSession, s.Ref(), b.ref)
	}
	if b.state == InPosition {
		return nil
	}

	b.state = Idle
	b.sess = s
	b.ref = s.Ref()
	if err := s.Err(); err != nil {
		return err
	}

	buf := b.inst.FromPips(b.cfg.BufferPips)
	b.longTrigger = b.inst.RoundPrice(s.High + buf)
	b.shortTrigger = b.inst.RoundPrice(s.Low - buf)
	b.state = Armed
	return nil
}

func (b *Breakout) OnBar(ctx BarContext, bar market.Bar) (*Intent, error) {
	if b.state != Armed {
		return nil, nil
	}
	if !bar.Time.Before(b.sess.TradeEnd) {
		b.state = Idle
		return nil, nil
	}
	if bar.Time.Before(b.sess.End) {
		return nil, nil
	}

	up := bar.High >= b.longTrigger
	down := bar.Low <= b.shortTrigger

	var side market.Side
	switch {
	case up && down:
		if b.cfg.TieBreak == TieSkip {
			return nil, fmt.Errorf("%w at %s", ErrAmbiguousBar, bar.Time)
		}
		dl := math.Abs(b.longTrigger - bar.Open)
		ds := math.Abs(bar.Open - b.shortTrigger)
		switch {
		case dl < ds:
			side = market.Long
		case ds < dl:
			side = market.Short
		default:
			return nil, fmt.Errorf("%w at %s: open equidistant", ErrAmbiguousBar, bar.Time)
		}
	case up:
		side = market.Long
	case down:
		side = market.Short
	default:
		return nil, nil
	}

	in, err := b.intent(ctx, side, bar)
	if err != nil {
		b.state = Idle
		return nil, err
	}
	b.state = InPosition
	b.extreme = in.EntryPrice
	return in, nil
}

func (b *Breakout) intent(ctx BarContext, side market.Side, bar market.Bar) (*Intent, error) {
	entry := b.longTrigger
	if side == market.Short {
		entry = b.shortTrigger
	}

	var stop float64
	switch b.cfg.StopMode {
	case StopSession:
		stop = b.sess.Low
		if side == market.Short {
			stop = b.sess.High
		}
	default:
		stop = entry - side.Sign()*b.inst.FromPips(b.cfg.StopPips)
	}
	stop = b.inst.RoundPrice(stop)

	var target float64
	switch {
	case b.cfg.TargetPips > 0:
		target = entry + side.Sign()*b.inst.FromPips(b.cfg.TargetPips)
	case b.cfg.TargetRR > 0:
		target = entry + side.Sign()*b.cfg.TargetRR*math.Abs(entry-stop)
	}
	if target != 0 {
		target = b.inst.RoundPrice(target)
	}

	if (side == market.Long && stop >= entry) || (side == market.Short && stop <= entry) {
		return nil, fmt.Errorf("%s %s: %w: stop %.3f entry %.3f", b.ref, side, risk.ErrInvalidStopDistance, stop, entry)
	}

	rate := ctx.QuoteToAccount
	if rate == 0 {
		rate = 1
	}
	sz, err := risk.Calculate(risk.Inputs{
		Equity:         ctx.Equity,
		Spec:           b.cfg.Risk,
		EntryPrice:     entry,
		StopPrice:      stop,
		Instrument:     b.inst,
		QuoteToAccount: rate,
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", b.ref, side, err)
	}

	return &Intent{
		Instrument: b.cfg.Instrument,
		Side:       side,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Size:       sz.Size,
		SessionRef: b.ref,
		TradeEnd:   b.sess.TradeEnd,
		CreatedAt:  bar.Time,
	}, nil
}

// OnExitCheck applies stop, then target, then the end of the trading
// window. When the bar opens beyond a level the fill is at the open.
func (b *Breakout) OnExitCheck(pos ledger.Position, bar market.Bar) Decision {
	if !bar.Time.After(pos.OpenedAt) {
		return Decision{}
	}

	if pos.Side == market.Long {
		if bar.Low <= pos.StopLoss {
			return Decision{Exit: true, Price: math.Min(pos.StopLoss, bar.Open), Reason: ledger.ExitStop}
		}
		if pos.TakeProfit > 0 && bar.High >= pos.TakeProfit {
			return Decision{Exit: true, Price: math.Max(pos.TakeProfit, bar.Open), Reason: ledger.ExitTarget}
		}
	} else {
		if bar.High >= pos.StopLoss {
			return Decision{Exit: true, Price: math.Max(pos.StopLoss, bar.Open), Reason: ledger.ExitStop}
		}
		if pos.TakeProfit > 0 && bar.Low <= pos.TakeProfit {
			return Decision{Exit: true, Price: math.Min(pos.TakeProfit, bar.Open), Reason: ledger.ExitTarget}
		}
	}

	if !pos.TradeEnd.IsZero() && !bar.Time.Before(pos.TradeEnd) {
		return Decision{Exit: true, Price: bar.Close, Reason: ledger.ExitSessionTimeout}
	}

	return b.trail(pos, bar)
}

// trail tightens the stop once price has moved TrailTriggerPips in favour.
// The stop never crosses entry: it stays at least one pip on the losing side.
func (b *Breakout) trail(pos ledger.Position, bar market.Bar) Decision {
	if b.cfg.TrailTriggerPips <= 0 {
		return Decision{}
	}

	if b.extreme == 0 {
		b.extreme = pos.EntryPrice
	}
	if pos.Side == market.Long {
		b.extreme = math.Max(b.extreme, bar.High)
	} else {
		b.extreme = math.Min(b.extreme, bar.Low)
	}

	moved := (b.extreme - pos.EntryPrice) * pos.Side.Sign()
	if moved < b.inst.FromPips(b.cfg.TrailTriggerPips) {
		return Decision{}
	}

	pip := b.inst.PipSize()
	cand := b.extreme - pos.Side.Sign()*b.inst.FromPips(b.cfg.TrailDistancePips)
	if pos.Side == market.Long {
		cand = math.Min(cand, pos.EntryPrice-pip)
		cand = b.inst.RoundPrice(cand)
		if cand > pos.StopLoss {
			return Decision{MoveStop: true, NewStop: cand}
		}
	} else {
		cand = math.Max(cand, pos.EntryPrice+pip)
		cand = b.inst.RoundPrice(cand)
		if cand < pos.StopLoss {
			return Decision{MoveStop: true, NewStop: cand}
		}
	}
	return Decision{}
}

func (b *Breakout) OnPositionClosed(ledger.Trade) {
	b.state = Idle
	b.extreme = 0
}

func (b *Breakout) OnEntryAbandoned(Intent) {
	b.state = Idle
	b.extreme = 0
}

func (b *Breakout) Resume(open *ledger.Position) {
	b.extreme = 0
	if open == nil {
		b.state = Idle
		return
	}
	b.state = InPosition
	b.sess = session.Session{
		Instrument: open.Instrument,
		TradeEnd:   open.TradeEnd,
	}
	b.ref = open.SessionRef
}
