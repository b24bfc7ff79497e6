package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/pkg/id"
	"github.com/rustyeddy/breakout/risk"
	"github.com/rustyeddy/breakout/session"
	"github.com/rustyeddy/breakout/strategies"
	"github.com/sirupsen/logrus"
)

const defaultBrokerTimeout = 10 * time.Second

// Observer receives engine activity, e.g. for metrics.
type Observer interface {
	Event(ev Event)
	Trade(tr ledger.Trade)
	Equity(p ledger.EquityPoint)
}

type Deps struct {
	Calendar *session.Calendar
	Strategy strategies.Strategy
	Ledger   *ledger.Ledger
	Executor broker.Executor
	IDs      *id.Generator
	Log      *logrus.Entry
	Observer Observer
}

type Options struct {
	Instrument string
	// QuoteToAccount converts quote currency PnL to account currency.
	QuoteToAccount float64
	BrokerTimeout  time.Duration
}

// Engine drives one instrument bar by bar. It is not safe for concurrent
// use; ProcessBar is called from a single loop.
type Engine struct {
	opts Options
	inst market.InstrumentMeta

	det    *session.Detector
	strat  strategies.Strategy
	ledger *ledger.Ledger
	exec   broker.Executor
	ids    *id.Generator
	log    *logrus.Entry
	obs    Observer

	last      market.Bar
	reconcile bool
	curve     []ledger.EquityPoint
	summary   Summary
}

func New(d Deps, opts Options) (*Engine, error) {
	switch {
	case d.Calendar == nil:
		return nil, errors.New("engine: calendar is required")
	case d.Strategy == nil:
		return nil, errors.New("engine: strategy is required")
	case d.Ledger == nil:
		return nil, errors.New("engine: ledger is required")
	case d.Executor == nil:
		return nil, errors.New("engine: executor is required")
	}
	inst, err := market.Lookup(opts.Instrument)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if opts.QuoteToAccount == 0 {
		opts.QuoteToAccount = 1
	}
	if opts.BrokerTimeout <= 0 {
		opts.BrokerTimeout = defaultBrokerTimeout
	}
	if d.IDs == nil {
		d.IDs = id.NewRandom()
	}
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	d.Ledger.SetQuoteToAccount(opts.QuoteToAccount)

	return &Engine{
		opts:   opts,
		inst:   inst,
		det:    session.NewDetector(d.Calendar, opts.Instrument),
		strat:  d.Strategy,
		ledger: d.Ledger,
		exec:   d.Executor,
		ids:    d.IDs,
		log:    d.Log.WithField("instrument", opts.Instrument),
		obs:    d.Observer,
	}, nil
}

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

func (e *Engine) Strategy() strategies.Strategy { return e.strat }

// Curve returns the equity curve recorded so far.
func (e *Engine) Curve() []ledger.EquityPoint {
	return append([]ledger.EquityPoint(nil), e.curve...)
}

// Events returns the run summary.
func (e *Engine) Events() Summary { return e.summary.clone() }

// LastBar returns the last accepted bar.
func (e *Engine) LastBar() market.Bar { return e.last }

func (e *Engine) record(at time.Time, kind EventKind, format string, args ...any) {
	ev := Event{Time: at, Kind: kind, Detail: fmt.Sprintf(format, args...)}
	e.summary.add(ev)
	if e.obs != nil {
		e.obs.Event(ev)
	}
}

// ProcessBar runs one bar through exit checks, session tracking, entry
// logic and equity marking. Bad bars are skipped and counted; the returned
// error is reserved for conditions the caller cannot continue from.
//
// Cancelling ctx does not interrupt a bar: broker and ledger calls only
// observe their own timeouts. Callers check ctx between bars.
func (e *Engine) ProcessBar(ctx context.Context, bar market.Bar) error {
	ctx = context.WithoutCancel(ctx)

	if bar.Instrument == "" {
		bar.Instrument = e.opts.Instrument
	}
	if bar.Instrument != e.opts.Instrument {
		e.record(bar.Time, EventBadBar, "instrument %s", bar.Instrument)
		return nil
	}
	if err := bar.Validate(); err != nil {
		e.log.WithError(err).Warn("skipping bar")
		e.record(bar.Time, EventBadBar, "%v", err)
		return nil
	}
	if err := market.CheckSequence(e.last, bar); err != nil {
		e.log.WithError(err).Warn("skipping bar")
		e.record(bar.Time, EventBadBar, "%v", err)
		return nil
	}
	e.last = bar
	e.summary.Bars++

	if e.reconcile {
		e.reconcile = false
		e.reconcileOpen(ctx, bar)
	}

	e.checkExit(ctx, bar)

	ev, s, err := e.det.Update(bar)
	if err != nil {
		return fmt.Errorf("session window: %w", err)
	}
	if ev == session.EventClosed {
		e.sessionClosed(s, bar)
	}
	if next, ok := e.det.Pending(); ok {
		e.sessionClosed(next, bar)
	}

	e.checkEntry(ctx, bar)

	pt := ledger.EquityPoint{
		Time:    bar.Time,
		Balance: e.ledger.Balance(),
	}
	pt.Equity = pt.Balance + e.ledger.UnrealizedPnL(bar.Close)
	e.curve = append(e.curve, pt)
	if e.obs != nil {
		e.obs.Equity(pt)
	}

	if err := e.ledger.Checkpoint(ctx, bar.Time); err != nil {
		e.log.WithError(err).Warn("checkpoint")
	}
	return nil
}

func (e *Engine) sessionClosed(s session.Session, bar market.Bar) {
	log := e.log.WithField("session", s.Ref())

	err := e.strat.OnSessionClosed(s)
	switch {
	case err == nil:
		if e.strat.State() == strategies.Armed {
			log.WithFields(logrus.Fields{"high": s.High, "low": s.Low, "bars": s.Bars}).Info("session closed, armed")
			e.record(bar.Time, EventArmed, "%s high=%.3f low=%.3f", s.Ref(), s.High, s.Low)
		}
	case errors.Is(err, session.ErrNoSessionData):
		log.Warn("no bars in session window, skipping day")
		e.record(bar.Time, EventNoSessionData, "%s", s.Ref())
	case errors.Is(err, strategies.ErrOverlappingSession):
		log.WithError(err).Error("refusing session")
		e.record(bar.Time, EventOverlap, "%v", err)
	default:
		log.WithError(err).Error("session close")
	}
}

func (e *Engine) checkEntry(ctx context.Context, bar market.Bar) {
	in, err := e.strat.OnBar(strategies.BarContext{
		Equity:         e.ledger.Balance(),
		QuoteToAccount: e.opts.QuoteToAccount,
	}, bar)
	switch {
	case err == nil:
	case errors.Is(err, risk.ErrInvalidStopDistance), errors.Is(err, risk.ErrSizeBelowMinimum), errors.Is(err, risk.ErrInvalidSpec):
		e.log.WithError(err).Warn("skipping opportunity")
		e.record(bar.Time, EventSizingSkip, "%v", err)
		return
	case errors.Is(err, strategies.ErrAmbiguousBar):
		e.log.WithError(err).Info("skipping bar")
		e.record(bar.Time, EventAmbiguousBar, "%v", err)
		return
	default:
		e.log.WithError(err).Error("strategy")
		return
	}
	if in == nil {
		return
	}

	in.ID = e.ids.At(bar.Time)
	log := e.log.WithFields(logrus.Fields{"session": in.SessionRef, "intent": in.ID})

	if e.ledger.HasSession(in.SessionRef) {
		log.Warn("session already traded, skipping")
		e.strat.OnEntryAbandoned(*in)
		e.record(bar.Time, EventSessionTraded, "%s", in.SessionRef)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, e.opts.BrokerTimeout)
	fill, err := e.exec.Submit(cctx, *in)
	cancel()
	if err != nil {
		log.WithError(err).Error("entry abandoned")
		e.strat.OnEntryAbandoned(*in)
		e.record(bar.Time, EventAbandoned, "%s: %v", in.ID, err)
		return
	}

	size := fill.Size
	if size <= 0 {
		size = in.Size
	}
	pos := ledger.Position{
		Instrument: in.Instrument,
		Side:       in.Side,
		EntryPrice: fill.Price,
		Size:       size,
		StopLoss:   in.StopLoss,
		TakeProfit: in.TakeProfit,
		OpenedAt:   bar.Time,
		TradeEnd:   in.TradeEnd,
		SessionRef: in.SessionRef,
		IntentID:   in.ID,
		Ticket:     fill.Ticket,
	}
	posID, err := e.ledger.Open(ctx, pos)
	if err != nil {
		log.WithError(err).Error("ledger refused position, flattening")
		kind := EventAbandoned
		if errors.Is(err, ledger.ErrDuplicateOpenPosition) || errors.Is(err, ledger.ErrDuplicatePosition) {
			kind = EventDuplicate
		}
		e.flatten(ctx, pos, bar)
		e.strat.OnEntryAbandoned(*in)
		e.record(bar.Time, kind, "%s: %v", in.ID, err)
		return
	}

	log.WithFields(logrus.Fields{
		"position_id": posID,
		"side":        in.Side,
		"entry":       fill.Price,
		"stop":        in.StopLoss,
		"target":      in.TakeProfit,
		"size":        size,
	}).Info("position opened")
	e.record(bar.Time, EventEntry, "%s %s %.2f @ %.3f", posID, in.Side, size, fill.Price)
}

// flatten closes a broker position the ledger could not record.
func (e *Engine) flatten(ctx context.Context, pos ledger.Position, bar market.Bar) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.BrokerTimeout)
	defer cancel()
	_, err := e.exec.Close(cctx, broker.CloseRequest{
		Ticket:     pos.Ticket,
		Instrument: pos.Instrument,
		Side:       pos.Side,
		Size:       pos.Size,
		Price:      bar.Close,
		Reason:     string(ledger.ExitManual),
		Time:       bar.Time,
	})
	if err != nil {
		e.log.WithError(err).WithField("ticket", pos.Ticket).Error("could not flatten unrecorded position")
	}
}

func (e *Engine) checkExit(ctx context.Context, bar market.Bar) {
	pos, ok := e.ledger.CurrentOpen(e.opts.Instrument)
	if !ok {
		return
	}

	d := e.strat.OnExitCheck(pos, bar)
	switch {
	case d.Exit:
		e.closePosition(ctx, pos, d.Price, bar.Time, d.Reason, true)
	case d.MoveStop:
		e.moveStop(ctx, pos, d.NewStop, bar)
	}
}

func (e *Engine) moveStop(ctx context.Context, pos ledger.Position, stop float64, bar market.Bar) {
	log := e.log.WithFields(logrus.Fields{"position_id": pos.ID, "from": pos.StopLoss, "to": stop})

	if m, ok := e.exec.(broker.StopModifier); ok {
		cctx, cancel := context.WithTimeout(ctx, e.opts.BrokerTimeout)
		err := m.ModifyStop(cctx, pos.Ticket, stop)
		cancel()
		if err != nil {
			log.WithError(err).Warn("broker stop update failed")
			return
		}
	}
	if err := e.ledger.UpdateStop(ctx, pos.ID, stop); err != nil {
		log.WithError(err).Error("stop update")
		return
	}
	log.Debug("stop moved")
	e.record(bar.Time, EventStopMoved, "%s %.3f -> %.3f", pos.ID, pos.StopLoss, stop)
}

// closePosition exits pos at the broker (when viaBroker) and books the
// trade. A failed broker close leaves the position open.
func (e *Engine) closePosition(ctx context.Context, pos ledger.Position, price float64, at time.Time, reason ledger.ExitReason, viaBroker bool) {
	log := e.log.WithFields(logrus.Fields{"position_id": pos.ID, "reason": reason})

	exit := price
	if viaBroker {
		cctx, cancel := context.WithTimeout(ctx, e.opts.BrokerTimeout)
		fill, err := e.exec.Close(cctx, broker.CloseRequest{
			Ticket:     pos.Ticket,
			Instrument: pos.Instrument,
			Side:       pos.Side,
			Size:       pos.Size,
			Price:      price,
			Reason:     string(reason),
			Time:       at,
		})
		cancel()
		switch {
		case err == nil:
			exit = fill.Price
		case errors.Is(err, broker.ErrUnknownTicket):
			log.WithError(err).Warn("broker no longer holds position, booking locally")
		default:
			log.WithError(err).Error("close failed, position stays open")
			e.record(at, EventCloseFailed, "%s: %v", pos.ID, err)
			return
		}
	}

	tr, err := e.ledger.Close(ctx, pos.ID, exit, at, reason)
	if err != nil {
		log.WithError(err).Error("ledger close")
		e.record(at, EventCloseFailed, "%s: %v", pos.ID, err)
		return
	}
	e.strat.OnPositionClosed(tr)

	log.WithFields(logrus.Fields{"exit": tr.ExitPrice, "pnl": tr.PnL, "balance": e.ledger.Balance()}).Info("position closed")
	e.record(at, EventExit, "%s %s %.2f", tr.PositionID, tr.ExitReason, tr.PnL)
	if e.obs != nil {
		e.obs.Trade(tr)
	}
}

// CloseOpen closes any open position at price, e.g. at the end of a backtest.
func (e *Engine) CloseOpen(ctx context.Context, price float64, at time.Time) {
	pos, ok := e.ledger.CurrentOpen(e.opts.Instrument)
	if !ok {
		return
	}
	e.closePosition(context.WithoutCancel(ctx), pos, price, at, ledger.ExitManual, true)
}
