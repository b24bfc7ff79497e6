package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/breakout/market"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu    sync.Mutex
	bars  []market.Bar
	err   error
	calls int
	since []time.Time
}

func (f *fakeSource) Bars(_ context.Context, instrument, timeframe string, since time.Time) ([]market.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.since = append(f.since, since)
	if f.err != nil {
		err := f.err
		f.err = nil
		return nil, err
	}
	var out []market.Bar
	for _, b := range f.bars {
		if !b.Time.Before(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeEngine struct {
	mu   sync.Mutex
	seen []market.Bar
	err  error
}

func (f *fakeEngine) ProcessBar(_ context.Context, b market.Bar) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.seen = append(f.seen, b)
	return nil
}

func (f *fakeEngine) LastBar() market.Bar {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seen) == 0 {
		return market.Bar{}
	}
	return f.seen[len(f.seen)-1]
}

func quiet() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func bars(n int) []market.Bar {
	out := make([]market.Bar, n)
	for i := range out {
		out[i] = market.Bar{Instrument: "XAU_USD", Time: t0.Add(time.Duration(i) * 15 * time.Minute), Open: 1, High: 1, Low: 1, Close: 1}
	}
	return out
}

func TestPollSkipsFormingAndSeenBars(t *testing.T) {
	t.Parallel()

	src := &fakeSource{bars: bars(4)}
	eng := &fakeEngine{}
	now := t0.Add(50 * time.Minute)
	p, err := NewPoller(src, eng, Options{
		Instrument: "XAU_USD",
		Timeframe:  market.M15,
		Now:        func() time.Time { return now },
	}, quiet())
	require.NoError(t, err)

	// 08:45 is still forming at 08:50.
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, src.since[0].Equal(now.Add(-24*time.Hour)))

	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, src.since[1].After(t0.Add(30*time.Minute)))

	now = t0.Add(time.Hour)
	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, eng.seen, 4)
	assert.True(t, eng.seen[3].Time.Equal(t0.Add(45*time.Minute)))
}

func TestPollerResumesAfterLastBar(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{seen: bars(2)}
	src := &fakeSource{bars: bars(3)}
	p, err := NewPoller(src, eng, Options{
		Instrument: "XAU_USD",
		Timeframe:  market.M15,
		Now:        func() time.Time { return t0.Add(2 * time.Hour) },
	}, quiet())
	require.NoError(t, err)

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, eng.seen, 3)
}

func TestRunRetriesSourceErrors(t *testing.T) {
	t.Parallel()

	src := &fakeSource{bars: bars(2), err: errors.New("bridge down")}
	eng := &fakeEngine{}
	p, err := NewPoller(src, eng, Options{
		Instrument: "XAU_USD",
		Timeframe:  market.M15,
		Interval:   time.Millisecond,
		Now:        func() time.Time { return t0.Add(time.Hour) },
	}, quiet())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(eng.LastBar().Instrument) > 0 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRunStopsOnEngineError(t *testing.T) {
	t.Parallel()

	boom := errors.New("window")
	p, err := NewPoller(&fakeSource{bars: bars(2)}, &fakeEngine{err: boom}, Options{
		Instrument: "XAU_USD",
		Timeframe:  market.M15,
		Interval:   time.Millisecond,
		Now:        func() time.Time { return t0.Add(time.Hour) },
	}, quiet())
	require.NoError(t, err)

	assert.ErrorIs(t, p.Run(context.Background()), boom)
}

func TestNewPollerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewPoller(nil, &fakeEngine{}, Options{Timeframe: market.M15}, nil)
	assert.Error(t, err)
	_, err = NewPoller(&fakeSource{}, &fakeEngine{}, Options{Timeframe: "M7"}, nil)
	assert.ErrorIs(t, err, market.ErrInvalidTimeframe)
}
