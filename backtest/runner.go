package backtest

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/breakout/engine"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/pkg/id"
	"github.com/rustyeddy/breakout/report"
)

// RunnerOptions controls how the backtest runner behaves.
type RunnerOptions struct {
	// CloseAtEnd closes an open position at the last bar's close.
	CloseAtEnd bool
	// RunID names the run; a random ULID when empty.
	RunID string
	// Now stamps RunContext.StartTime. Defaults to time.Now.
	Now func() time.Time
}

// RunContext identifies one run. StartTime is wall clock and only names
// the run directory; nothing derived from it reaches the trade log.
type RunContext struct {
	RunID       string
	StartTime   time.Time
	EquityCurve []ledger.EquityPoint
}

type Result struct {
	RunContext

	// Start and End are the first and last bar times seen.
	Start time.Time
	End   time.Time

	Balance float64
	Equity  float64
	Trades  []ledger.Trade

	Events      engine.Summary
	Performance report.Summary
}

// Runner drives an engine forward using a bar feed.
type Runner struct {
	Engine  *engine.Engine
	Feed    BarFeed
	Options RunnerOptions
}

// Run replays the feed through the engine. Cancellation is checked
// between bars; a cancelled run returns what it has along with ctx.Err().
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.Engine == nil {
		return Result{}, errors.New("backtest: Engine is required")
	}
	if r.Feed == nil {
		return Result{}, errors.New("backtest: Feed is required")
	}
	defer r.Feed.Close()

	now := r.Options.Now
	if now == nil {
		now = time.Now
	}
	rc := RunContext{RunID: r.Options.RunID, StartTime: now()}
	if rc.RunID == "" {
		rc.RunID = id.New()
	}

	var start, end time.Time
	var last market.Bar
	var runErr error

	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		b, ok, err := r.Feed.Next()
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}
		if start.IsZero() {
			start = b.Time
		}
		if b.Time.After(end) {
			end = b.Time
		}

		if err := r.Engine.ProcessBar(ctx, b); err != nil {
			return Result{}, err
		}
		last = r.Engine.LastBar()
	}

	if r.Options.CloseAtEnd && runErr == nil && !last.Time.IsZero() {
		r.Engine.CloseOpen(ctx, last.Close, last.Time)
	}

	l := r.Engine.Ledger()
	rc.EquityCurve = r.Engine.Curve()
	res := Result{
		RunContext: rc,
		Start:      start,
		End:        end,
		Balance:    l.Balance(),
		Equity:     l.Balance(),
		Trades:     l.Trades(),
		Events:     r.Engine.Events(),
	}
	if _, open := l.CurrentOpen(l.Instrument()); open && len(rc.EquityCurve) > 0 {
		res.Equity = rc.EquityCurve[len(rc.EquityCurve)-1].Equity
	}
	res.Performance = report.Compute(res.Trades, rc.EquityCurve, l.InitialBalance())
	return res, runErr
}
