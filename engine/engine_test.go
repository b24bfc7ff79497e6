package engine

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/broker/sim"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/pkg/id"
	"github.com/rustyeddy/breakout/risk"
	"github.com/rustyeddy/breakout/session"
	"github.com/rustyeddy/breakout/strategies"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testConfig() strategies.Config {
	return strategies.Config{
		Instrument: "XAU_USD",
		StopMode:   strategies.StopSession,
		TargetRR:   2,
		TieBreak:   strategies.TieNearestOpen,
		Risk:       risk.Spec{Mode: risk.Dynamic, Value: 1},
	}
}

type recorder struct {
	events []Event
	trades []ledger.Trade
	points int
}

func (r *recorder) Event(ev Event) { r.events = append(r.events, ev) }
func (r *recorder) Trade(tr ledger.Trade) { r.trades = append(r.trades, tr) }
func (r *recorder) Equity(ledger.EquityPoint) { r.points++ }

type fixture struct {
	store ledger.Store
	exec  broker.Executor
	obs   Observer
}

func newEngine(t *testing.T, f fixture) *Engine {
	t.Helper()

	cal, err := session.NewCalendar("UTC", "UTC",
		market.MustTimeOfDay("00:00"), market.MustTimeOfDay("08:00"), market.MustTimeOfDay("20:00"))
	require.NoError(t, err)

	strat, err := strategies.NewBreakout(testConfig())
	require.NoError(t, err)

	if f.store == nil {
		f.store = ledger.NewMemoryStore()
	}
	if f.exec == nil {
		f.exec = sim.New(0)
	}
	ids := id.NewGenerator(1)

	e, err := New(Deps{
		Calendar: cal,
		Strategy: strat,
		Ledger:   ledger.New(f.store, "XAU_USD", 10000, ids),
		Executor: f.exec,
		IDs:      ids,
		Log:      quietLog(),
		Observer: f.obs,
	}, Options{Instrument: "XAU_USD"})
	require.NoError(t, err)
	return e
}

func ohlc(ts time.Time, o, h, l, c float64) market.Bar {
	return market.Bar{Instrument: "XAU_USD", Time: ts, Open: o, High: h, Low: l, Close: c}
}

// asianRange builds eight hourly bars from 00:00 with high 2050, low 2030.
func asianRange(d time.Time) []market.Bar {
	bars := make([]market.Bar, 0, 8)
	for h := 0; h < 8; h++ {
		b := ohlc(d.Add(time.Duration(h)*time.Hour), 2040, 2045, 2035, 2041)
		if h == 2 {
			b.High = 2050
		}
		if h == 5 {
			b.Low = 2030
		}
		bars = append(bars, b)
	}
	return bars
}

func run(t *testing.T, e *Engine, bars []market.Bar) {
	t.Helper()
	for _, b := range bars {
		require.NoError(t, e.ProcessBar(context.Background(), b))
	}
}

func TestLongBreakoutStoppedOut(t *testing.T) {
	t.Parallel()

	obs := &recorder{}
	e := newEngine(t, fixture{obs: obs})

	bars := asianRange(day)
	bars = append(bars,
		ohlc(day.Add(8*time.Hour), 2045, 2051, 2044, 2050.5),
		ohlc(day.Add(9*time.Hour), 2040, 2041, 2029, 2030),
	)
	run(t, e, bars)

	trades := e.Ledger().Trades()
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, market.Long, tr.Side)
	assert.Equal(t, 2050.0, tr.EntryPrice)
	assert.Equal(t, 2030.0, tr.ExitPrice)
	assert.Equal(t, ledger.ExitStop, tr.ExitReason)
	assert.Less(t, tr.PnL, 0.0)
	assert.Equal(t, -100.0, tr.PnL)
	assert.Equal(t, 9900.0, e.Ledger().Balance())

	_, open := e.Ledger().CurrentOpen("XAU_USD")
	assert.False(t, open)
	assert.Equal(t, strategies.Idle, e.Strategy().State())

	ev := e.Events()
	assert.Equal(t, 10, ev.Bars)
	assert.Equal(t, 1, ev.Count(EventArmed))
	assert.Equal(t, 1, ev.Count(EventEntry))
	assert.Equal(t, 1, ev.Count(EventExit))

	assert.Len(t, obs.trades, 1)
	assert.Equal(t, 10, obs.points)

	curve := e.Curve()
	require.Len(t, curve, 10)
	// Marked to market at the entry bar's close.
	assert.Equal(t, 10002.5, curve[8].Equity)
	assert.Equal(t, 9900.0, curve[9].Equity)
}

func TestTargetAndSessionTimeout(t *testing.T) {
	t.Parallel()

	e := newEngine(t, fixture{})

	bars := asianRange(day)
	bars = append(bars,
		ohlc(day.Add(8*time.Hour), 2045, 2051, 2044, 2050.5),
		ohlc(day.Add(9*time.Hour), 2060, 2091, 2059, 2085),
	)
	bars = append(bars, asianRange(day.Add(24*time.Hour))...)
	bars = append(bars,
		ohlc(day.Add(32*time.Hour), 2035, 2036, 2029, 2031),
		ohlc(day.Add(33*time.Hour), 2031, 2033, 2025, 2028),
		ohlc(day.Add(44*time.Hour), 2026, 2027, 2020, 2022),
	)
	run(t, e, bars)

	trades := e.Ledger().Trades()
	require.Len(t, trades, 2)

	assert.Equal(t, ledger.ExitTarget, trades[0].ExitReason)
	assert.Equal(t, 2090.0, trades[0].ExitPrice)
	assert.Equal(t, 200.0, trades[0].PnL)

	assert.Equal(t, market.Short, trades[1].Side)
	assert.Equal(t, ledger.ExitSessionTimeout, trades[1].ExitReason)
	assert.Equal(t, 2022.0, trades[1].ExitPrice)
	assert.Equal(t, 40.0, trades[1].PnL)
}

func TestNoSessionBars(t *testing.T) {
	t.Parallel()

	e := newEngine(t, fixture{})

	var bars []market.Bar
	for h := 8; h < 20; h++ {
		bars = append(bars, ohlc(day.Add(time.Duration(h)*time.Hour), 2040, 2100, 1980, 2041))
	}
	run(t, e, bars)

	assert.Empty(t, e.Ledger().Trades())
	assert.Equal(t, strategies.Idle, e.Strategy().State())
	assert.Equal(t, 1, e.Events().Count(EventNoSessionData))
	assert.Equal(t, 10000.0, e.Ledger().Balance())
}

func TestBadBarsAreSkipped(t *testing.T) {
	t.Parallel()

	e := newEngine(t, fixture{})

	run(t, e, []market.Bar{
		ohlc(day, 2040, 2045, 2035, 2041),
		ohlc(day, 2040, 2045, 2035, 2041),
		ohlc(day.Add(-time.Hour), 2040, 2045, 2035, 2041),
		ohlc(day.Add(time.Hour), 2040, 2030, 2035, 2041),
		{Instrument: "EUR_USD", Time: day.Add(2 * time.Hour), Open: 1, High: 1, Low: 1, Close: 1},
		ohlc(day.Add(3*time.Hour), 2040, 2045, 2035, 2041),
	})

	ev := e.Events()
	assert.Equal(t, 2, ev.Bars)
	assert.Equal(t, 4, ev.Count(EventBadBar))
	assert.Len(t, ev.Log, 4)
}

func TestEntryAbandonedOnBrokerFailure(t *testing.T) {
	t.Parallel()

	exec := sim.New(0)
	exec.FailNext = errors.New("terminal offline")
	e := newEngine(t, fixture{exec: exec})

	bars := asianRange(day)
	bars = append(bars,
		ohlc(day.Add(8*time.Hour), 2045, 2051, 2044, 2050.5),
		ohlc(day.Add(9*time.Hour), 2050, 2060, 2049, 2055),
	)
	run(t, e, bars)

	assert.Empty(t, e.Ledger().Positions())
	assert.Equal(t, 1, e.Events().Count(EventAbandoned))
	assert.Equal(t, strategies.Idle, e.Strategy().State())
}

func TestResumeIsIdempotent(t *testing.T) {
	t.Parallel()

	bars := asianRange(day)
	bars = append(bars,
		ohlc(day.Add(8*time.Hour), 2045, 2051, 2044, 2050.5),
		ohlc(day.Add(9*time.Hour), 2050, 2055, 2045, 2052),
		ohlc(day.Add(10*time.Hour), 2052, 2091, 2050, 2088),
	)

	straight := newEngine(t, fixture{})
	run(t, straight, bars)

	store := ledger.NewMemoryStore()
	exec := sim.New(0)

	first := newEngine(t, fixture{store: store, exec: exec})
	run(t, first, bars[:9])
	_, open := first.Ledger().CurrentOpen("XAU_USD")
	require.True(t, open)

	second := newEngine(t, fixture{store: store, exec: exec})
	st, err := second.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Ledger().Snapshot(), st)
	assert.Equal(t, strategies.InPosition, second.Strategy().State())

	// Resuming again changes nothing.
	st2, err := second.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, st, st2)

	run(t, second, bars[9:])

	assert.Equal(t, straight.Ledger().Trades(), second.Ledger().Trades())
	assert.Equal(t, straight.Ledger().Balance(), second.Ledger().Balance())
	assert.Zero(t, second.Events().Count(EventReconciled))
}

func TestResumeReconcilesExpiredWindow(t *testing.T) {
	t.Parallel()

	store := ledger.NewMemoryStore()
	exec := sim.New(0)

	first := newEngine(t, fixture{store: store, exec: exec})
	run(t, first, append(asianRange(day), ohlc(day.Add(8*time.Hour), 2045, 2051, 2044, 2050.5)))

	second := newEngine(t, fixture{store: store, exec: exec})
	_, err := second.Resume(context.Background())
	require.NoError(t, err)

	run(t, second, []market.Bar{ohlc(day.Add(21*time.Hour), 2060, 2062, 2058, 2061)})

	trades := second.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.ExitManual, trades[0].ExitReason)
	assert.Equal(t, 2060.0, trades[0].ExitPrice)
	assert.Equal(t, 1, second.Events().Count(EventReconciled))
	assert.Equal(t, strategies.Idle, second.Strategy().State())
}

func TestResumeReconcilesMissingTicket(t *testing.T) {
	t.Parallel()

	store := ledger.NewMemoryStore()

	first := newEngine(t, fixture{store: store, exec: sim.New(0)})
	run(t, first, append(asianRange(day), ohlc(day.Add(8*time.Hour), 2045, 2051, 2044, 2050.5)))

	// A fresh simulator has never heard of the ticket.
	second := newEngine(t, fixture{store: store, exec: sim.New(0)})
	_, err := second.Resume(context.Background())
	require.NoError(t, err)

	run(t, second, []market.Bar{ohlc(day.Add(9*time.Hour), 2049, 2052, 2047, 2051)})

	trades := second.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.ExitManual, trades[0].ExitReason)
	assert.Equal(t, 2049.0, trades[0].ExitPrice)
	assert.Equal(t, 1, second.Events().Count(EventReconciled))
}

func TestCloseOpen(t *testing.T) {
	t.Parallel()

	e := newEngine(t, fixture{})
	run(t, e, append(asianRange(day), ohlc(day.Add(8*time.Hour), 2045, 2051, 2044, 2050.5)))

	e.CloseOpen(context.Background(), 2055, day.Add(9*time.Hour))
	trades := e.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.ExitManual, trades[0].ExitReason)
	assert.Equal(t, 25.0, trades[0].PnL)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Options{Instrument: "XAU_USD"})
	assert.Error(t, err)
}

func TestObserversFanOut(t *testing.T) {
	t.Parallel()

	a, b := &recorder{}, &recorder{}
	e := newEngine(t, fixture{obs: Observers{a, b}})
	run(t, e, asianRange(day))

	assert.Equal(t, 8, a.points)
	assert.Equal(t, 8, b.points)
}

type countingExec struct {
	*sim.Executor
	submits int
	closes  int
}

func (c *countingExec) Submit(ctx context.Context, in strategies.Intent) (broker.Fill, error) {
	c.submits++
	return c.Executor.Submit(ctx, in)
}

func (c *countingExec) Close(ctx context.Context, req broker.CloseRequest) (broker.Fill, error) {
	c.closes++
	return c.Executor.Close(ctx, req)
}

// stoppedOutDay is one session, a long entry at 08:00 and a stop at 09:00.
func stoppedOutDay() []market.Bar {
	return append(asianRange(day),
		ohlc(day.Add(8*time.Hour), 2045, 2051, 2044, 2050.5),
		ohlc(day.Add(9*time.Hour), 2040, 2041, 2029, 2030),
	)
}

func TestRestartReplayIsRefused(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bars := stoppedOutDay()
	store := ledger.NewMemoryStore()

	first := newEngine(t, fixture{store: store})
	run(t, first, bars)
	require.Len(t, first.Ledger().Trades(), 1)

	exec := &countingExec{Executor: sim.New(0)}
	second := newEngine(t, fixture{store: store, exec: exec})
	_, err := second.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, second.LastBar().Time.Equal(day.Add(9*time.Hour)))

	run(t, second, bars)

	assert.Zero(t, exec.submits)
	assert.Zero(t, exec.closes)
	assert.Len(t, second.Ledger().Trades(), 1)
	assert.Equal(t, 9900.0, second.Ledger().Balance())
	ev := second.Events()
	assert.Zero(t, ev.Bars)
	assert.Equal(t, len(bars), ev.Count(EventBadBar))
}

func TestTradedSessionIsNotResubmitted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bars := stoppedOutDay()
	store := ledger.NewMemoryStore()

	first := newEngine(t, fixture{store: store})
	run(t, first, bars)

	// Load the ledger without resuming, so the bars are accepted again.
	exec := &countingExec{Executor: sim.New(0)}
	second := newEngine(t, fixture{store: store, exec: exec})
	_, err := second.Ledger().Load(ctx)
	require.NoError(t, err)

	run(t, second, bars)

	assert.Zero(t, exec.submits)
	assert.Zero(t, exec.closes)
	assert.Len(t, second.Ledger().Trades(), 1)
	assert.Len(t, second.Ledger().Positions(), 1)
	ev := second.Events()
	assert.Equal(t, 1, ev.Count(EventArmed))
	assert.Equal(t, 1, ev.Count(EventSessionTraded))
	assert.Zero(t, ev.Count(EventDuplicate))
	assert.Equal(t, strategies.Idle, second.Strategy().State())
}

// cancelOnFill cancels the run as soon as the broker has filled an entry.
type cancelOnFill struct {
	*sim.Executor
	cancel context.CancelFunc
}

func (c *cancelOnFill) Submit(ctx context.Context, in strategies.Intent) (broker.Fill, error) {
	fill, err := c.Executor.Submit(ctx, in)
	c.cancel()
	return fill, err
}

func TestCancelDuringEntryKeepsPosition(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)
	exec := &cancelOnFill{Executor: sim.New(0), cancel: cancel}
	e := newEngine(t, fixture{store: store, exec: exec})

	bars := append(asianRange(day), ohlc(day.Add(8*time.Hour), 2045, 2051, 2044, 2050.5))
	for _, b := range bars {
		require.NoError(t, e.ProcessBar(ctx, b))
	}
	require.Error(t, ctx.Err())

	pos, ok := e.Ledger().CurrentOpen("XAU_USD")
	require.True(t, ok)
	tickets, err := exec.OpenTickets(context.Background(), "XAU_USD")
	require.NoError(t, err)
	assert.Equal(t, []string{pos.Ticket}, tickets)

	ev := e.Events()
	assert.Equal(t, 1, ev.Count(EventEntry))
	assert.Zero(t, ev.Count(EventAbandoned))

	st, found, err := store.Load(context.Background(), "XAU_USD")
	require.NoError(t, err)
	require.True(t, found)
	_, ok = st.Open()
	assert.True(t, ok)
	assert.True(t, st.LastBar.Equal(day.Add(8*time.Hour)))
}

func TestGapPastNextWindowClosesBothSessions(t *testing.T) {
	t.Parallel()

	e := newEngine(t, fixture{})

	// Part of the 15th's range, then nothing until after the 16th's window.
	run(t, e, []market.Bar{
		ohlc(day, 2040, 2045, 2035, 2041),
		ohlc(day.Add(time.Hour), 2041, 2050, 2030, 2042),
		ohlc(day.Add(33*time.Hour), 2042, 2044, 2040, 2043),
	})

	ev := e.Events()
	assert.Equal(t, 1, ev.Count(EventArmed))
	assert.Equal(t, 1, ev.Count(EventNoSessionData))
	assert.Equal(t, strategies.Idle, e.Strategy().State())
	assert.Empty(t, e.Ledger().Positions())
}
