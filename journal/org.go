package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/report"
)

var orgFuncs = template.FuncMap{
	"ratio": func(v float64) string {
		if v >= report.ProfitFactorInfinite {
			return "inf"
		}
		return fmt.Sprintf("%.2f", v)
	},
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "(none)"
		}
		return t.Format("2006-01-02")
	},
	"stamp": func(t time.Time) string {
		return t.Format("2006-01-02 Mon 15:04")
	},
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return err.Error()
		}
		return string(b)
	},
	"trade": FormatTradeOrg,
}

var orgTemplate = template.Must(template.New("backtest").Funcs(orgFuncs).Parse(backtestOrgTemplate))

// WriteOrg renders the run as an Org-mode entry.
func WriteOrg(w io.Writer, a Artifacts) error {
	return orgTemplate.Execute(w, a)
}

const backtestOrgTemplate = `* BACKTEST: {{.Strategy}} {{.Instrument}} {{if .Timeframe}}{{.Timeframe}}{{else}}(timeframe?){{end}}
:PROPERTIES:
:RUN_ID:      {{.RunID}}
:STRATEGY:    {{.Strategy}}
:TIMEFRAME:   {{.Timeframe}}
:INSTRUMENT:  {{.Instrument}}
:DATASET:     {{if .Dataset}}{{.Dataset}}{{else}}(dataset?){{end}}
:START_DATE:  {{date .Start}}
:END_DATE:    {{date .End}}
:START_BAL:   {{printf "%.2f" .Summary.InitialBalance}}
:END_BAL:     {{printf "%.2f" .Summary.FinalBalance}}
:NET_PL:      {{printf "%.2f" .Summary.NetProfit}}
:RETURN_PCT:  {{printf "%.2f" .Summary.ReturnPct}}
:MAX_DD_PCT:  {{printf "%.2f" .Summary.MaxDrawdownPct}}
:TRADES:      {{.Summary.Trades}}
:WINS:        {{.Summary.Wins}}
:LOSSES:      {{.Summary.Losses}}
:WIN_RATE:    {{printf "%.2f" .Summary.WinRate}}
:PROFIT_FAC:  {{ratio .Summary.ProfitFactor}}
:CREATED:     [{{stamp .Created}}]
:END:

** Strategy Parameters
#+begin_src json
{{json .Config}}
#+end_src

** Performance Summary
- Net P/L:          *{{printf "%.2f" .Summary.NetProfit}}*
- Return:           *{{printf "%.2f" .Summary.ReturnPct}}%*
- Max Drawdown:     *{{printf "%.2f" .Summary.MaxDrawdown}} ({{printf "%.2f" .Summary.MaxDrawdownPct}}%)*
- Win Rate:         *{{printf "%.2f" .Summary.WinRate}}%*
- Profit Factor:    *{{ratio .Summary.ProfitFactor}}*
- Sortino:          *{{ratio .Summary.Sortino}}*
- SQN:              *{{printf "%.2f" .Summary.SQN}}*
- Trades per day:   *{{printf "%.2f" .Summary.TradesPerDay}}*

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Summary.Wins}} |
| Losses  | {{.Summary.Losses}} |
| Total   | {{.Summary.Trades}} |

** Events
{{.Events}}
{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
{{- if .Trades }}

** Trades
{{- range .Trades }}

{{trade .}}
{{- end }}
{{- end }}
`

// FormatTradeOrg renders a trade as an Org-mode block with the facts in a
// PROPERTIES drawer and empty review headings.
func FormatTradeOrg(t ledger.Trade) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*** Trade: %s %s (%s)\n", t.Instrument, t.Side, shortID(t.PositionID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":POSITION_ID: %s\n", t.PositionID)
	fmt.Fprintf(&b, ":SESSION: %s\n", t.SessionRef)
	fmt.Fprintf(&b, ":SIZE: %.2f\n", t.Size)
	fmt.Fprintf(&b, ":ENTRY_PRICE: %.3f\n", t.EntryPrice)
	fmt.Fprintf(&b, ":EXIT_PRICE: %.3f\n", t.ExitPrice)
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", t.OpenedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", t.ClosedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":PNL: %.2f\n", t.PnL)
	fmt.Fprintf(&b, ":REASON: %s\n", t.ExitReason)
	b.WriteString(":END:\n")
	b.WriteString("**** Review\n- ")
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
