package engine

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/stretchr/testify/require"
)

func randomBars(r *rand.Rand, n int) []market.Bar {
	bars := make([]market.Bar, 0, n)
	px := 2000.0
	ts := day
	for i := 0; i < n; i++ {
		o := px
		c := o + r.NormFloat64()*3
		h := math.Max(o, c) + r.Float64()*4
		l := math.Min(o, c) - r.Float64()*4
		bars = append(bars, market.Bar{
			Instrument: "XAU_USD",
			Time:       ts,
			Open:       math.Round(o*100) / 100,
			High:       math.Round(h*100)/100 + 0.01,
			Low:        math.Round(l*100)/100 - 0.01,
			Close:      math.Round(c*100) / 100,
		})
		px = c
		// Mostly 15 minute steps, sometimes a gap of several hours.
		step := 15 * time.Minute
		if r.Intn(50) == 0 {
			step = time.Duration(1+r.Intn(12)) * time.Hour
		}
		ts = ts.Add(step)
	}
	return bars
}

func TestAtMostOneOpenPosition(t *testing.T) {
	t.Parallel()

	for seed := int64(1); seed <= 20; seed++ {
		r := rand.New(rand.NewSource(seed))
		e := newEngine(t, fixture{})

		for _, b := range randomBars(r, 2000) {
			require.NoError(t, e.ProcessBar(context.Background(), b))

			open := 0
			for _, p := range e.Ledger().Positions() {
				if p.Status == ledger.StatusOpen {
					open++
				}
			}
			require.LessOrEqual(t, open, 1, "seed %d at %s", seed, b.Time)
		}

		// Every trade belongs to a closed position.
		closed := map[string]bool{}
		for _, p := range e.Ledger().Positions() {
			if p.Status == ledger.StatusClosed {
				closed[p.ID] = true
			}
		}
		for _, tr := range e.Ledger().Trades() {
			require.True(t, closed[tr.PositionID], "seed %d trade %s", seed, tr.PositionID)
		}
	}
}
