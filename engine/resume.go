package engine

import (
	"context"
	"slices"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/sirupsen/logrus"
)

// Resume loads persisted state and primes the strategy. Bars at or before
// the last persisted bar are refused afterwards, so a restarted poller
// picks up where the previous process stopped. An open position is
// reconciled on the next bar.
func (e *Engine) Resume(ctx context.Context) (ledger.State, error) {
	st, err := e.ledger.Load(ctx)
	if err != nil {
		return ledger.State{}, err
	}
	if last := st.Resumed(); last.After(e.last.Time) {
		e.last = market.Bar{Instrument: e.opts.Instrument, Time: last}
	}

	pos, ok := st.Open()
	if !ok {
		e.strat.Resume(nil)
		e.log.WithFields(logrus.Fields{
			"balance":  st.Balance,
			"trades":   len(st.Trades),
			"last_bar": e.last.Time,
		}).Info("resumed, flat")
		return st, nil
	}

	e.strat.Resume(&pos)
	e.reconcile = true
	e.log.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"session":     pos.SessionRef,
		"ticket":      pos.Ticket,
		"last_bar":    e.last.Time,
	}).Info("resumed with open position")
	return st, nil
}

// reconcileOpen closes a resumed position whose trading window is over or
// that the broker no longer reports.
func (e *Engine) reconcileOpen(ctx context.Context, bar market.Bar) {
	pos, ok := e.ledger.CurrentOpen(e.opts.Instrument)
	if !ok {
		return
	}

	if !pos.TradeEnd.IsZero() && !bar.Time.Before(pos.TradeEnd) {
		e.log.WithField("position_id", pos.ID).Warn("trading window passed while down, closing")
		e.record(bar.Time, EventReconciled, "%s window ended %s", pos.ID, pos.TradeEnd)
		e.closePosition(ctx, pos, bar.Open, bar.Time, ledger.ExitManual, true)
		return
	}

	lister, ok := e.exec.(broker.TicketLister)
	if !ok {
		return
	}
	tickets, err := lister.OpenTickets(ctx, pos.Instrument)
	if err != nil {
		e.log.WithError(err).Warn("could not list broker positions, keeping position")
		return
	}
	if slices.Contains(tickets, pos.Ticket) {
		return
	}

	e.log.WithField("position_id", pos.ID).Warn("broker does not report ticket, closing")
	e.record(bar.Time, EventReconciled, "%s ticket %s missing at broker", pos.ID, pos.Ticket)
	e.closePosition(ctx, pos, bar.Open, bar.Time, ledger.ExitManual, false)
}
