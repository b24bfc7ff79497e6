package risk

import (
	"math"

	"github.com/rustyeddy/breakout/market"
)

// XAU_USD → quote = USD → QuoteToAccount = 1.0
// USD_JPY → quote = JPY → QuoteToAccount = 1 / USDJPY_mid

type Inputs struct {
	Equity         float64
	Spec           Spec
	EntryPrice     float64
	StopPrice      float64
	Instrument     market.InstrumentMeta
	QuoteToAccount float64
}

type Result struct {
	Size       float64
	StopPips   float64
	RiskAmount float64
}

func pipSize(loc int) float64 {
	return math.Pow(10, float64(loc))
}

// PipSize returns the pip size for a given pip location.
func PipSize(loc int) float64 {
	return pipSize(loc)
}

// Calculate sizes a trade from its entry and stop prices.
func Calculate(in Inputs) (Result, error) {
	stopPips := in.Instrument.ToPips(in.EntryPrice - in.StopPrice)
	pipValue := in.Instrument.PipValue() * in.QuoteToAccount

	size, err := ComputeSize(in.Equity, in.Spec, stopPips, pipValue, in.Instrument)
	if err != nil {
		return Result{StopPips: stopPips}, err
	}
	return Result{
		Size:       size,
		StopPips:   stopPips,
		RiskAmount: PlannedRisk(size, in.EntryPrice, in.StopPrice, in.Instrument, in.QuoteToAccount),
	}, nil
}
