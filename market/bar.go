package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOutOfOrder   = errors.New("bar out of order")
	ErrDuplicateBar = errors.New("duplicate bar")
	ErrInvalidBar   = errors.New("invalid bar")
)

// Bar is one OHLC interval. Time is the bar open in broker time.
type Bar struct {
	Instrument string
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

// Validate checks the OHLC relationships of a single bar.
func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidBar)
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high %.5f below low %.5f at %s", ErrInvalidBar, b.High, b.Low, b.Time.Format(time.RFC3339))
	}
	if b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return fmt.Errorf("%w: open/close outside range at %s", ErrInvalidBar, b.Time.Format(time.RFC3339))
	}
	return nil
}

// CheckSequence reports whether next may follow prev in a bar stream.
// A zero prev accepts anything.
func CheckSequence(prev, next Bar) error {
	if prev.Time.IsZero() {
		return nil
	}
	switch {
	case next.Time.Equal(prev.Time):
		return fmt.Errorf("%w: %s", ErrDuplicateBar, next.Time.Format(time.RFC3339))
	case next.Time.Before(prev.Time):
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder,
			next.Time.Format(time.RFC3339), prev.Time.Format(time.RFC3339))
	}
	return nil
}

// Mid returns the midpoint of the bar range.
func (b Bar) Mid() float64 {
	return (b.High + b.Low) / 2
}
