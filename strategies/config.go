package strategies

import (
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/breakout/risk"
)

type StopMode string

const (
	// StopSession puts the stop at the opposite end of the session range.
	StopSession StopMode = "session"
	// StopPips puts the stop a fixed distance from entry.
	StopPips StopMode = "pips"
)

type TieBreak string

const (
	TieNearestOpen TieBreak = "nearest_open"
	TieSkip        TieBreak = "skip"
)

// Config parameterises the breakout strategy. Distances are in pips.
type Config struct {
	Instrument string `json:"instrument"`

	BufferPips float64  `json:"buffer_pips"`
	StopMode   StopMode `json:"stop_mode"`
	StopPips   float64  `json:"stop_pips"`

	TargetPips float64 `json:"target_pips"`
	TargetRR   float64 `json:"target_rr"`

	TrailTriggerPips  float64 `json:"trail_trigger_pips"`
	TrailDistancePips float64 `json:"trail_distance_pips"`

	TieBreak TieBreak  `json:"tie_break"`
	Risk     risk.Spec `json:"risk"`
}

func (c *Config) JSON() ([]byte, error) {
	return json.Marshal(c)
}

// DefaultConfig mirrors the classic Asian range setup on gold: 100 pip
// stop, 200 pip target, trail after 20 pips by 5 pips, 1% risk.
func DefaultConfig() Config {
	return Config{
		Instrument:        "XAU_USD",
		StopMode:          StopPips,
		StopPips:          100,
		TargetPips:        200,
		TrailTriggerPips:  20,
		TrailDistancePips: 5,
		TieBreak:          TieNearestOpen,
		Risk:              risk.Spec{Mode: risk.Dynamic, Value: 1},
	}
}

func (c Config) Validate() error {
	if c.Instrument == "" {
		return fmt.Errorf("strategy: instrument is required")
	}
	if c.BufferPips < 0 {
		return fmt.Errorf("strategy: buffer_pips must be >= 0")
	}
	switch c.StopMode {
	case StopSession:
	case StopPips:
		if c.StopPips <= 0 {
			return fmt.Errorf("strategy: stop pips must be > 0")
		}
	default:
		return fmt.Errorf("strategy: unknown stop mode %q", c.StopMode)
	}
	if c.TargetPips < 0 || c.TargetRR < 0 {
		return fmt.Errorf("strategy: target must be >= 0")
	}
	if c.TrailTriggerPips < 0 || c.TrailDistancePips < 0 {
		return fmt.Errorf("strategy: trailing distances must be >= 0")
	}
	if c.TrailTriggerPips > 0 && c.TrailDistancePips == 0 {
		return fmt.Errorf("strategy: trailing distance required with a trailing trigger")
	}
	switch c.TieBreak {
	case TieNearestOpen, TieSkip:
	default:
		return fmt.Errorf("strategy: unknown tie break %q", c.TieBreak)
	}
	return c.Risk.Validate()
}
