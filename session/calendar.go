package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/market"
)

var ErrInvalidWindow = errors.New("invalid session window")

// Calendar maps a broker calendar date to the absolute session instants.
// Session times are configured in the user zone and converted to the broker
// zone for each date, so DST changes on either side are honoured.
type Calendar struct {
	broker *time.Location
	user   *time.Location

	start    market.TimeOfDay
	end      market.TimeOfDay
	tradeEnd market.TimeOfDay
}

// Window is one day's resolved session, all instants in the broker zone.
type Window struct {
	Date     time.Time
	Start    time.Time
	End      time.Time
	TradeEnd time.Time
}

func NewCalendar(brokerZone, userZone string, start, end, tradeEnd market.TimeOfDay) (*Calendar, error) {
	bl, err := market.LoadZone(brokerZone)
	if err != nil {
		return nil, fmt.Errorf("broker zone: %w", err)
	}
	ul, err := market.LoadZone(userZone)
	if err != nil {
		return nil, fmt.Errorf("user zone: %w", err)
	}
	c := &Calendar{broker: bl, user: ul, start: start, end: end, tradeEnd: tradeEnd}

	// Catch windows that only break on one side of a DST change.
	for _, m := range []time.Month{time.January, time.July} {
		if _, err := c.Window(time.Date(2024, m, 15, 0, 0, 0, 0, bl)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Broker returns the broker location bars are interpreted in.
func (c *Calendar) Broker() *time.Location { return c.broker }

// DateOf returns the broker calendar date of ts.
func (c *Calendar) DateOf(ts time.Time) time.Time {
	return market.DateOf(ts.In(c.broker))
}

// Window resolves the session for the broker date of day.
func (c *Calendar) Window(day time.Time) (Window, error) {
	date := c.DateOf(day)

	s := market.ConvertIn(c.start, c.user, c.broker, date)
	e := market.ConvertIn(c.end, c.user, c.broker, date)
	te := market.ConvertIn(c.tradeEnd, c.user, c.broker, date)

	if e <= s {
		return Window{}, fmt.Errorf("%w: session %s-%s crosses broker midnight on %s",
			ErrInvalidWindow, s, e, date.Format(time.DateOnly))
	}
	if te <= e {
		return Window{}, fmt.Errorf("%w: trade end %s not after session end %s on %s",
			ErrInvalidWindow, te, e, date.Format(time.DateOnly))
	}

	return Window{
		Date:     date,
		Start:    s.On(date, c.broker),
		End:      e.On(date, c.broker),
		TradeEnd: te.On(date, c.broker),
	}, nil
}
