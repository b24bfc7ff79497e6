package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rustyeddy/breakout/engine"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/risk"
)

var (
	tradeHeader  = []string{"position_id", "session", "instrument", "side", "size", "entry_price", "exit_price", "opened_at", "closed_at", "pnl", "risk", "r_multiple", "reason"}
	equityHeader = []string{"time", "balance", "equity"}
)

// CSVJournal appends trades and equity points as they happen. It can be
// attached to an engine as an observer; write errors surface on Close.
type CSVJournal struct {
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
	err    error
}

var _ engine.Observer = (*CSVJournal)(nil)

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		tf.Close()
		return nil, err
	}

	j := &CSVJournal{trades: csv.NewWriter(tf), equity: csv.NewWriter(ef), tf: tf, ef: ef}
	j.write(j.trades, tradeHeader)
	j.write(j.equity, equityHeader)
	if j.err != nil {
		j.Close()
		return nil, j.err
	}
	return j, nil
}

func (j *CSVJournal) write(w *csv.Writer, row []string) {
	if j.err != nil {
		return
	}
	if err := w.Write(row); err != nil {
		j.err = err
		return
	}
	w.Flush()
	j.err = w.Error()
}

func (j *CSVJournal) Trade(tr ledger.Trade) { j.write(j.trades, tradeRow(tr)) }

func (j *CSVJournal) Equity(p ledger.EquityPoint) { j.write(j.equity, equityRow(p)) }

// Event is ignored; events go to the run log.
func (j *CSVJournal) Event(engine.Event) {}

func (j *CSVJournal) Close() error {
	err := j.err
	j.trades.Flush()
	j.equity.Flush()
	return errors.Join(err, j.trades.Error(), j.equity.Error(), j.tf.Close(), j.ef.Close())
}

// WriteTrades writes a complete trade log with header.
func WriteTrades(w io.Writer, trades []ledger.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, tr := range trades {
		if err := cw.Write(tradeRow(tr)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquity writes an equity curve with header.
func WriteEquity(w io.Writer, curve []ledger.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(equityHeader); err != nil {
		return err
	}
	for _, p := range curve {
		if err := cw.Write(equityRow(p)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTrades parses a trade log written by WriteTrades or CSVJournal.
func ReadTrades(r io.Reader) ([]ledger.Trade, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(tradeHeader)

	var out []ledger.Trade
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && row[0] == tradeHeader[0] {
			continue
		}
		tr, err := parseTradeRow(row)
		if err != nil {
			return nil, fmt.Errorf("trades line %d: %w", line, err)
		}
		out = append(out, tr)
	}
}

func tradeRow(t ledger.Trade) []string {
	r := 0.0
	if t.Risk > 0 {
		r = risk.RMultiple(t.PnL, t.Risk)
	}
	return []string{
		t.PositionID,
		t.SessionRef,
		t.Instrument,
		t.Side.String(),
		f(t.Size),
		f(t.EntryPrice),
		f(t.ExitPrice),
		t.OpenedAt.Format(time.RFC3339),
		t.ClosedAt.Format(time.RFC3339),
		f(t.PnL),
		f(t.Risk),
		f(r),
		string(t.ExitReason),
	}
}

func parseTradeRow(row []string) (ledger.Trade, error) {
	side, err := market.ParseSide(row[3])
	if err != nil {
		return ledger.Trade{}, err
	}
	nums := make([]float64, 0, 5)
	for _, i := range []int{4, 5, 6, 9, 10} {
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return ledger.Trade{}, fmt.Errorf("column %s: %w", tradeHeader[i], err)
		}
		nums = append(nums, v)
	}
	opened, err := time.Parse(time.RFC3339, row[7])
	if err != nil {
		return ledger.Trade{}, err
	}
	closed, err := time.Parse(time.RFC3339, row[8])
	if err != nil {
		return ledger.Trade{}, err
	}
	return ledger.Trade{
		PositionID: row[0],
		SessionRef: row[1],
		Instrument: row[2],
		Side:       side,
		Size:       nums[0],
		EntryPrice: nums[1],
		ExitPrice:  nums[2],
		OpenedAt:   opened,
		ClosedAt:   closed,
		PnL:        nums[3],
		Risk:       nums[4],
		ExitReason: ledger.ExitReason(row[12]),
	}, nil
}

func equityRow(p ledger.EquityPoint) []string {
	return []string{p.Time.Format(time.RFC3339), f(p.Balance), f(p.Equity)}
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
