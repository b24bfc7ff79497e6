// Package live feeds bars from a broker terminal into the engine on a
// fixed polling interval.
package live

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/breakout/market"
	"github.com/sirupsen/logrus"
)

// BarSource returns bars that opened at or after since, oldest first.
type BarSource interface {
	Bars(ctx context.Context, instrument, timeframe string, since time.Time) ([]market.Bar, error)
}

// BarProcessor is the part of the engine the poller drives.
type BarProcessor interface {
	ProcessBar(ctx context.Context, bar market.Bar) error
	LastBar() market.Bar
}

type Options struct {
	Instrument string
	Timeframe  market.Timeframe
	Interval   time.Duration
	// Lookback is how far back the first poll reaches when the engine has
	// not seen a bar yet.
	Lookback time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Poller struct {
	src  BarSource
	eng  BarProcessor
	opts Options
	log  *logrus.Entry

	last time.Time
}

func NewPoller(src BarSource, eng BarProcessor, opts Options, log *logrus.Entry) (*Poller, error) {
	if src == nil || eng == nil {
		return nil, errors.New("live: source and engine are required")
	}
	if opts.Timeframe.Duration() == 0 {
		return nil, market.ErrInvalidTimeframe
	}
	if opts.Interval <= 0 {
		opts.Interval = opts.Timeframe.Duration() / 4
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poller{
		src:  src,
		eng:  eng,
		opts: opts,
		log:  log.WithField("instrument", opts.Instrument),
		last: eng.LastBar().Time,
	}, nil
}

// Run polls until ctx is cancelled. A failed poll is logged and retried on
// the next tick; only engine errors stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.log.WithFields(logrus.Fields{"timeframe": p.opts.Timeframe, "interval": p.opts.Interval}).Info("live loop started")
	for {
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			var fatal *engineError
			if errors.As(err, &fatal) {
				return fatal.err
			}
			p.log.WithError(err).Warn("poll failed")
		}

		select {
		case <-ctx.Done():
			p.log.Info("live loop stopped")
			return nil
		case <-ticker.C:
		}
	}
	p.log.Info("live loop stopped")
	return nil
}

type engineError struct{ err error }

func (e *engineError) Error() string { return e.err.Error() }
func (e *engineError) Unwrap() error { return e.err }

// Poll fetches new closed bars and feeds them to the engine. It returns the
// number of bars processed.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	since := p.last
	if since.IsZero() {
		since = p.opts.Now().Add(-p.opts.Lookback)
	} else {
		since = since.Add(time.Nanosecond)
	}

	bars, err := p.src.Bars(ctx, p.opts.Instrument, p.opts.Timeframe.String(), since)
	if err != nil {
		return 0, err
	}

	now := p.opts.Now()
	tf := p.opts.Timeframe.Duration()
	n := 0
	for _, b := range bars {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if !b.Time.After(p.last) {
			continue
		}
		// still forming
		if b.Time.Add(tf).After(now) {
			break
		}
		if err := p.eng.ProcessBar(ctx, b); err != nil {
			return n, &engineError{err: err}
		}
		p.last = b.Time
		n++
	}
	if n > 0 {
		p.log.WithFields(logrus.Fields{"bars": n, "last": p.last}).Debug("processed bars")
	}
	return n, nil
}
