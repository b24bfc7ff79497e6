package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/rustyeddy/breakout/ledger"
)

func formatRatio(v float64) string {
	if v >= ProfitFactorInfinite {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}

// Print renders the text report.
func Print(w io.Writer, s Summary) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Performance Report")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Initial Deposit:  %.2f\n", s.InitialBalance)
	fmt.Fprintf(w, "Final Balance:    %.2f\n", s.FinalBalance)
	fmt.Fprintf(w, "Net Profit:       %.2f (%.2f%%)\n", s.NetProfit, s.ReturnPct)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Total Trades:     %d\n", s.Trades)
	fmt.Fprintf(w, "Win Rate:         %.2f%% (%d W / %d L)\n", s.WinRate, s.Wins, s.Losses)
	fmt.Fprintf(w, "Profit Factor:    %s\n", formatRatio(s.ProfitFactor))
	fmt.Fprintf(w, "Avg Win:          %.2f\n", s.AvgWin)
	fmt.Fprintf(w, "Avg Loss:         %.2f\n", s.AvgLoss)
	fmt.Fprintf(w, "Expectancy:       %.2f\n", s.Expectancy)
	fmt.Fprintf(w, "Trades per Day:   %.2f\n", s.TradesPerDay)

	if len(s.ByReason) > 0 {
		reasons := make([]string, 0, len(s.ByReason))
		for r := range s.ByReason {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %-16s%d\n", r+":", s.ByReason[ledger.ExitReason(r)])
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Risk")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Max Drawdown:     %.2f (%.2f%%)\n", s.MaxDrawdown, s.MaxDrawdownPct)
	fmt.Fprintf(w, "Sortino:          %s\n", formatRatio(s.Sortino))
	fmt.Fprintf(w, "SQN:              %.2f\n", s.SQN)
	fmt.Fprintln(w, "==================================================")
}
