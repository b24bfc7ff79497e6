// Package report computes performance statistics for a list of closed
// trades and an equity curve.
package report

import (
	"math"
	"time"

	"github.com/rustyeddy/breakout/ledger"
)

const (
	// ProfitFactorInfinite stands in for profit factor when there are
	// winners and no gross loss.
	ProfitFactorInfinite = 999.0
	// SortinoInfinite stands in for Sortino when returns are positive on
	// average and never negative.
	SortinoInfinite = 999.0
)

type Summary struct {
	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"`

	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate_pct"`

	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"`
	NetProfit   float64 `json:"net_profit"`
	ReturnPct   float64 `json:"return_pct"`

	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	Expectancy   float64 `json:"expectancy"`

	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`

	Sortino      float64 `json:"sortino"`
	SQN          float64 `json:"sqn"`
	TradesPerDay float64 `json:"trades_per_day"`

	ByReason map[ledger.ExitReason]int `json:"by_reason,omitempty"`
}

// Compute derives a Summary. Trades are taken in the order given, which is
// closing order for a ledger. Zero trades give zero metrics.
func Compute(trades []ledger.Trade, curve []ledger.EquityPoint, initial float64) Summary {
	s := Summary{InitialBalance: initial, FinalBalance: initial}
	s.MaxDrawdown, s.MaxDrawdownPct = drawdown(curve, initial)
	if len(trades) == 0 {
		return s
	}

	s.Trades = len(trades)
	s.ByReason = make(map[ledger.ExitReason]int)

	returns := make([]float64, 0, len(trades))
	rs := make([]float64, 0, len(trades))
	bal := initial
	for _, tr := range trades {
		s.ByReason[tr.ExitReason]++
		if tr.PnL > 0 {
			s.Wins++
			s.GrossProfit += tr.PnL
		} else {
			s.Losses++
			s.GrossLoss += -tr.PnL
		}

		if bal != 0 {
			returns = append(returns, tr.PnL/bal)
		}
		bal += tr.PnL

		if tr.Risk > 0 {
			rs = append(rs, tr.PnL/tr.Risk)
		} else {
			rs = append(rs, tr.PnL)
		}
	}

	n := float64(s.Trades)
	s.FinalBalance = bal
	s.NetProfit = s.GrossProfit - s.GrossLoss
	s.WinRate = float64(s.Wins) / n * 100
	if initial != 0 {
		s.ReturnPct = s.NetProfit / initial * 100
	}
	if s.Wins > 0 {
		s.AvgWin = s.GrossProfit / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = -s.GrossLoss / float64(s.Losses)
	}
	s.Expectancy = s.NetProfit / n

	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	case s.GrossProfit > 0:
		s.ProfitFactor = ProfitFactorInfinite
	}

	s.Sortino = sortino(returns)
	s.SQN = sqn(rs)
	s.TradesPerDay = n / days(trades, curve)
	return s
}

// drawdown returns the largest peak to trough fall of the curve, in
// account currency and as a percentage of the peak.
func drawdown(curve []ledger.EquityPoint, initial float64) (abs, pct float64) {
	peak := initial
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := peak - p.Equity
		if dd > abs {
			abs = dd
		}
		if peak > 0 && dd/peak*100 > pct {
			pct = dd / peak * 100
		}
	}
	return abs, pct
}

// sortino uses a target return of 0 and the downside deviation over all
// returns.
func sortino(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var sum, down float64
	for _, r := range returns {
		sum += r
		if r < 0 {
			down += r * r
		}
	}
	n := float64(len(returns))
	mean := sum / n
	dd := math.Sqrt(down / n)
	if dd == 0 {
		if mean > 0 {
			return SortinoInfinite
		}
		return 0
	}
	return mean / dd
}

func sqn(rs []float64) float64 {
	n := float64(len(rs))
	if n < 2 {
		return 0
	}
	var sum float64
	for _, r := range rs {
		sum += r
	}
	mean := sum / n
	var ss float64
	for _, r := range rs {
		ss += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(ss / (n - 1))
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(n)
}

// days is the span covered by the run, at least one.
func days(trades []ledger.Trade, curve []ledger.EquityPoint) float64 {
	var from, to time.Time
	if len(curve) > 1 {
		from, to = curve[0].Time, curve[len(curve)-1].Time
	} else {
		from, to = trades[0].OpenedAt, trades[len(trades)-1].ClosedAt
	}
	d := to.Sub(from).Hours() / 24
	if d < 1 {
		return 1
	}
	return d
}
