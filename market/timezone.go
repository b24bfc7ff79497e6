package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidTimezone = errors.New("invalid timezone")

// LoadZone resolves an IANA zone name. Empty names are rejected rather than
// silently becoming UTC.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty zone name", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

// Convert interprets tod on ref's calendar date in zone from and returns the
// wall-clock time of that instant in zone to. Daylight saving is applied for
// that date, so the offset between the zones may differ across the year.
func Convert(tod TimeOfDay, from, to string, ref time.Time) (TimeOfDay, error) {
	fl, err := LoadZone(from)
	if err != nil {
		return 0, err
	}
	tl, err := LoadZone(to)
	if err != nil {
		return 0, err
	}
	return ConvertIn(tod, fl, tl, ref), nil
}

// ConvertIn is Convert for already resolved locations.
func ConvertIn(tod TimeOfDay, from, to *time.Location, ref time.Time) TimeOfDay {
	return Of(tod.On(ref, from).In(to))
}
