package backtest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/breakout/market"
)

// BarFeed yields bars one at a time. Implementations are deterministic and
// return (ok=false, err=nil) at the end of data.
type BarFeed interface {
	Next() (b market.Bar, ok bool, err error)
	Close() error
}

// CSVOptions controls how a CSV export is read.
type CSVOptions struct {
	Instrument string
	// Location is the zone the timestamps are written in, normally the
	// broker server zone. Defaults to UTC. Timestamps carrying an offset
	// keep it.
	Location *time.Location

	// From and To restrict bars to [From, To) when set.
	From time.Time
	To   time.Time
	// Months keeps only the trailing window ending at the last bar.
	Months int
}

// CSVBarFeed reads OHLC rows:
//
//	time,open,high,low,close[,volume]
//
// Either the MetaTrader tab separated export without a header, or comma
// separated with a header row naming the columns. The whole file is read
// on open so the trailing Months window can be applied.
type CSVBarFeed struct {
	bars []market.Bar
	pos  int
}

var timeLayouts = []string{
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
}

func NewCSVBarFeed(path string, opts CSVOptions) (*CSVBarFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := ReadCSVBars(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &CSVBarFeed{bars: bars}, nil
}

// ReadCSVBars parses a whole CSV stream and applies the range options.
func ReadCSVBars(r io.Reader, opts CSVOptions) ([]market.Bar, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	br := bufio.NewReader(r)
	head, _ := br.Peek(4096)
	first, _, _ := bytes.Cut(head, []byte("\n"))

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if bytes.Contains(first, []byte("\t")) {
		cr.Comma = '\t'
	}

	cols := columns{time: 0, open: 1, high: 2, low: 3, close: 4, volume: 5}
	var bars []market.Bar
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if line == 1 && isHeader(row) {
			if cols, err = headerColumns(row); err != nil {
				return nil, err
			}
			continue
		}

		b, err := cols.parse(row, opts.Location)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b.Instrument = opts.Instrument
		if !inRange(b.Time, opts.From, opts.To) {
			continue
		}
		bars = append(bars, b)
	}

	return trailingMonths(bars, opts.Months), nil
}

// WriteCSVBars writes bars as comma separated rows with a header and
// RFC3339 times, the layout ReadCSVBars reads back without a Location.
func WriteCSVBars(w io.Writer, bars []market.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	p := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, b := range bars {
		if err := cw.Write([]string{b.Time.Format(time.RFC3339), p(b.Open), p(b.High), p(b.Low), p(b.Close), p(b.Volume)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (f *CSVBarFeed) Next() (market.Bar, bool, error) {
	if f.pos >= len(f.bars) {
		return market.Bar{}, false, nil
	}
	b := f.bars[f.pos]
	f.pos++
	return b, true, nil
}

func (f *CSVBarFeed) Close() error { return nil }

// Len returns the number of bars the feed will yield in total.
func (f *CSVBarFeed) Len() int { return len(f.bars) }

type columns struct {
	time, open, high, low, close, volume int
}

func isHeader(row []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(row[len(row)-1]), 64)
	return err != nil
}

func headerColumns(row []string) (columns, error) {
	c := columns{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}
	for i, name := range row {
		switch strings.ToLower(strings.Trim(strings.TrimSpace(name), "<>")) {
		case "time", "date", "time_str", "datetime":
			if c.time < 0 {
				c.time = i
			}
		case "open":
			c.open = i
		case "high":
			c.high = i
		case "low":
			c.low = i
		case "close":
			c.close = i
		case "volume", "vol", "tickvol":
			c.volume = i
		}
	}
	for name, idx := range map[string]int{"time": c.time, "open": c.open, "high": c.high, "low": c.low, "close": c.close} {
		if idx < 0 {
			return c, fmt.Errorf("csv header missing column %q", name)
		}
	}
	return c, nil
}

func (c columns) parse(row []string, loc *time.Location) (market.Bar, error) {
	need := max(c.time, c.open, c.high, c.low, c.close)
	if len(row) <= need {
		return market.Bar{}, fmt.Errorf("short row %v", row)
	}

	ts, err := parseTime(strings.TrimSpace(row[c.time]), loc)
	if err != nil {
		return market.Bar{}, err
	}
	b := market.Bar{Time: ts}
	for _, f := range []struct {
		idx int
		dst *float64
	}{
		{c.open, &b.Open}, {c.high, &b.High}, {c.low, &b.Low}, {c.close, &b.Close},
	} {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[f.idx]), 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("bad price %q: %w", row[f.idx], err)
		}
		*f.dst = v
	}
	if c.volume >= 0 && c.volume < len(row) {
		b.Volume, _ = strconv.ParseFloat(strings.TrimSpace(row[c.volume]), 64)
	}
	return b, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// trailingMonths keeps bars within months of the last bar. A window longer
// than the data keeps everything.
func trailingMonths(bars []market.Bar, months int) []market.Bar {
	if months <= 0 || len(bars) == 0 {
		return bars
	}
	cutoff := bars[len(bars)-1].Time.AddDate(0, -months, 0)
	for i, b := range bars {
		if !b.Time.Before(cutoff) {
			return bars[i:]
		}
	}
	return bars
}
