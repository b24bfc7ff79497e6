package risk

import (
	"math"

	"github.com/rustyeddy/breakout/market"
)

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PlannedRisk is the account currency loss if the stop is hit.
func PlannedRisk(size, entry, stop float64, inst market.InstrumentMeta, quoteToAccountRate float64) float64 {
	// P/L in quote currency = lots * contract * move
	plQuote := size * inst.ContractSize * abs(entry-stop)
	return math.Round(plQuote*quoteToAccountRate*100) / 100
}

func RR(entry, stop, takeProfit float64) float64 {
	risk := abs(entry - stop)
	reward := abs(takeProfit - entry)
	if risk == 0 || takeProfit == 0 {
		return 0
	}
	return reward / risk
}

func RiskPct(plannedRisk, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / equity
}

// RMultiple expresses pnl in units of the initial risk.
func RMultiple(pnl, risk float64) float64 {
	if risk <= 0 {
		return 0
	}
	return pnl / risk
}
