package session

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/breakout/market"
)

// ErrNoSessionData marks a session that closed without a single bar.
var ErrNoSessionData = errors.New("no bars in session window")

type State int

const (
	AwaitingStart State = iota
	Accumulating
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingStart:
		return "AWAITING_START"
	case Accumulating:
		return "ACCUMULATING"
	case Closed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Event int

const (
	EventNone Event = iota
	EventStarted
	EventClosed
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventClosed:
		return "closed"
	}
	return "none"
}

// Session is the accumulated range of one broker day.
type Session struct {
	Instrument string
	Date       time.Time
	Start      time.Time
	End        time.Time
	TradeEnd   time.Time
	High       float64
	Low        float64
	Bars       int
	HasData    bool
	Closed     bool
}

// Ref identifies the session, e.g. "XAU_USD:2024-01-15".
func (s Session) Ref() string {
	return s.Instrument + ":" + s.Date.Format(time.DateOnly)
}

// Err returns ErrNoSessionData for a closed session without bars.
func (s Session) Err() error {
	if s.Closed && !s.HasData {
		return fmt.Errorf("%w: %s", ErrNoSessionData, s.Ref())
	}
	return nil
}

// InTradingWindow reports whether ts is in [End, TradeEnd).
func (s Session) InTradingWindow(ts time.Time) bool {
	return !ts.Before(s.End) && ts.Before(s.TradeEnd)
}

// Range is High-Low, zero without data.
func (s Session) Range() float64 {
	if !s.HasData {
		return 0
	}
	return s.High - s.Low
}

// Detector tracks the session state of one instrument bar by bar.
type Detector struct {
	cal        *Calendar
	instrument string

	state   State
	cur     Session
	pending *Session
}

func NewDetector(cal *Calendar, instrument string) *Detector {
	return &Detector{cal: cal, instrument: instrument}
}

func (d *Detector) State() State { return d.state }

// Current returns a copy of the session being tracked.
func (d *Detector) Current() Session { return d.cur }

// Update feeds one bar. The returned Session is a copy; a closed session is
// never modified afterwards. A bar that both ends an unfinished day and
// lands past the new day's window closes two sessions: the first is
// returned and the second is left for Pending.
func (d *Detector) Update(bar market.Bar) (Event, Session, error) {
	d.pending = nil
	date := d.cal.DateOf(bar.Time)

	if d.cur.Date.IsZero() || !date.Equal(d.cur.Date) {
		var closed *Session
		if !d.cur.Date.IsZero() && d.state != Closed {
			d.close()
			s := d.cur
			closed = &s
		}
		if err := d.reset(date); err != nil {
			return EventNone, d.cur, err
		}
		ev, s := d.step(bar)
		if closed != nil {
			if ev == EventClosed {
				d.pending = &s
			}
			return EventClosed, *closed, nil
		}
		return ev, s, nil
	}

	ev, s := d.step(bar)
	return ev, s, nil
}

// Pending returns the second session closed by the last Update, if any.
func (d *Detector) Pending() (Session, bool) {
	if d.pending == nil {
		return Session{}, false
	}
	return *d.pending, true
}

func (d *Detector) reset(date time.Time) error {
	w, err := d.cal.Window(date)
	if err != nil {
		return err
	}
	d.state = AwaitingStart
	d.cur = Session{
		Instrument: d.instrument,
		Date:       w.Date,
		Start:      w.Start,
		End:        w.End,
		TradeEnd:   w.TradeEnd,
		High:       math.Inf(-1),
		Low:        math.Inf(1),
	}
	return nil
}

func (d *Detector) step(bar market.Bar) (Event, Session) {
	t := bar.Time

	switch d.state {
	case AwaitingStart:
		if t.Before(d.cur.Start) {
			return EventNone, d.cur
		}
		if !t.Before(d.cur.End) {
			return d.close(), d.cur
		}
		d.state = Accumulating
		d.extend(bar)
		return EventStarted, d.cur

	case Accumulating:
		if !t.Before(d.cur.End) {
			return d.close(), d.cur
		}
		d.extend(bar)
		return EventNone, d.cur
	}
	return EventNone, d.cur
}

func (d *Detector) extend(bar market.Bar) {
	d.cur.High = math.Max(d.cur.High, bar.High)
	d.cur.Low = math.Min(d.cur.Low, bar.Low)
	d.cur.Bars++
	d.cur.HasData = true
}

func (d *Detector) close() Event {
	d.state = Closed
	d.cur.Closed = true
	if !d.cur.HasData {
		d.cur.High, d.cur.Low = 0, 0
	}
	return EventClosed
}
