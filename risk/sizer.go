package risk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/breakout/market"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidStopDistance = errors.New("invalid stop distance")
	ErrSizeBelowMinimum    = errors.New("size below instrument minimum")
	ErrInvalidSpec         = errors.New("invalid risk spec")
)

type Mode string

const (
	// Dynamic risks Value percent of equity per trade.
	Dynamic Mode = "DYNAMIC"
	// Static trades a fixed Value lots.
	Static Mode = "STATIC"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case Dynamic:
		return Dynamic, nil
	case Static:
		return Static, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidSpec, s)
}

type Spec struct {
	Mode  Mode    `json:"mode" yaml:"mode"`
	Value float64 `json:"value" yaml:"value"`
}

func (s Spec) Validate() error {
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	if s.Value <= 0 {
		return fmt.Errorf("%w: value must be > 0, got %v", ErrInvalidSpec, s.Value)
	}
	if strings.EqualFold(string(s.Mode), string(Dynamic)) && s.Value > 100 {
		return fmt.Errorf("%w: risk percent %v exceeds 100", ErrInvalidSpec, s.Value)
	}
	return nil
}

func (s Spec) String() string {
	if strings.EqualFold(string(s.Mode), string(Static)) {
		return fmt.Sprintf("STATIC %.2f lots", s.Value)
	}
	return fmt.Sprintf("DYNAMIC %.2f%%", s.Value)
}

// ComputeSize returns the position size in lots. pipValue is the account
// currency value of one pip on one lot. Dynamic sizes are rounded down to
// the instrument size increment so the realised risk never exceeds the budget.
func ComputeSize(equity float64, spec Spec, stopPips, pipValue float64, inst market.InstrumentMeta) (float64, error) {
	if stopPips <= 0 {
		return 0, fmt.Errorf("%w: %v pips", ErrInvalidStopDistance, stopPips)
	}
	mode, err := ParseMode(string(spec.Mode))
	if err != nil {
		return 0, err
	}

	var size float64
	switch mode {
	case Static:
		size = spec.Value
	case Dynamic:
		if pipValue <= 0 {
			return 0, fmt.Errorf("%w: pip value %v", ErrInvalidSpec, pipValue)
		}
		budget := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(spec.Value)).Div(decimal.NewFromInt(100))
		perLot := decimal.NewFromFloat(stopPips).Mul(decimal.NewFromFloat(pipValue))
		size = floorTo(budget.Div(perLot), inst.SizeIncrement).InexactFloat64()
	}

	if size <= 0 || size < inst.MinimumTradeSize {
		return 0, fmt.Errorf("%w: %.4f < %.4f %s", ErrSizeBelowMinimum, size, inst.MinimumTradeSize, inst.Name)
	}
	return size, nil
}

func floorTo(v decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return v.Div(s).Floor().Mul(s)
}
