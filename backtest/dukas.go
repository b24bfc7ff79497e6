package backtest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rustyeddy/breakout/market"
	"github.com/ulikunitz/xz/lzma"
)

// Dukascopy tick records are 20 bytes, big endian: ms offset into the hour,
// ask and bid as scaled integers, ask and bid volume as float32.
const dukasRecordSize = 20

// DukasOptions locates hourly tick files laid out as
// <Dir>/<Symbol>/<YYYY>/<MM>/<DD>/<HH>h_ticks.bi5 (UTC, 1-based month).
type DukasOptions struct {
	Dir        string
	Symbol     string
	Instrument string
	// PriceScale divides the raw integer prices. Gold is quoted in
	// thousandths.
	PriceScale float64
	Timeframe  market.Timeframe
	// Location is the zone bar times are reported in, normally the broker
	// server zone.
	Location *time.Location
	From     time.Time
	To       time.Time
}

type Tick struct {
	Time time.Time
	Ask  float64
	Bid  float64
}

func (t Tick) Mid() float64 { return (t.Ask + t.Bid) / 2 }

// DukasFeed aggregates Dukascopy ticks into mid price bars. Missing hours
// are skipped.
type DukasFeed struct {
	opts  DukasOptions
	step  time.Duration
	hour  time.Time
	end   time.Time
	ready []market.Bar
	cur   *market.Bar
}

func NewDukasFeed(opts DukasOptions) (*DukasFeed, error) {
	if opts.Dir == "" || opts.Symbol == "" {
		return nil, errors.New("dukas: dir and symbol are required")
	}
	if opts.From.IsZero() || !opts.To.After(opts.From) {
		return nil, errors.New("dukas: from must be before to")
	}
	step := opts.Timeframe.Duration()
	if step == 0 {
		return nil, fmt.Errorf("dukas: %w: %q", market.ErrInvalidTimeframe, opts.Timeframe)
	}
	if opts.PriceScale == 0 {
		opts.PriceScale = 1000
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &DukasFeed{
		opts: opts,
		step: step,
		hour: opts.From.UTC().Truncate(time.Hour),
		end:  opts.To.UTC(),
	}, nil
}

func (f *DukasFeed) Next() (market.Bar, bool, error) {
	for len(f.ready) == 0 {
		if !f.hour.Before(f.end) {
			if f.cur == nil {
				return market.Bar{}, false, nil
			}
			f.flush()
			break
		}
		if err := f.loadHour(f.hour); err != nil {
			return market.Bar{}, false, err
		}
		f.hour = f.hour.Add(time.Hour)
	}
	b := f.ready[0]
	f.ready = f.ready[1:]
	return b, true, nil
}

func (f *DukasFeed) Close() error { return nil }

// HourPath returns the bi5 file for the hour starting at t.
func (o DukasOptions) HourPath(t time.Time) string {
	t = t.UTC()
	return filepath.Join(o.Dir, o.Symbol,
		fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", t.Month()), fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02dh_ticks.bi5", t.Hour()))
}

func (f *DukasFeed) loadHour(hour time.Time) error {
	in, err := os.Open(f.opts.HourPath(hour))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer in.Close()

	ticks, err := DecodeBI5(in, hour, f.opts.PriceScale)
	if err != nil {
		return fmt.Errorf("dukas %s: %w", hour.Format("2006-01-02T15"), err)
	}
	for _, t := range ticks {
		if !inRange(t.Time, f.opts.From, f.opts.To) {
			continue
		}
		f.add(t)
	}
	return nil
}

func (f *DukasFeed) add(t Tick) {
	start := t.Time.Truncate(f.step)
	px := t.Mid()

	if f.cur != nil && !f.cur.Time.Equal(start.In(f.opts.Location)) {
		f.flush()
	}
	if f.cur == nil {
		f.cur = &market.Bar{
			Instrument: f.opts.Instrument,
			Time:       start.In(f.opts.Location),
			Open:       px, High: px, Low: px, Close: px,
		}
	}
	f.cur.High = math.Max(f.cur.High, px)
	f.cur.Low = math.Min(f.cur.Low, px)
	f.cur.Close = px
	f.cur.Volume++
}

func (f *DukasFeed) flush() {
	if f.cur == nil {
		return
	}
	b := *f.cur
	b.Open = round(b.Open)
	b.High = round(b.High)
	b.Low = round(b.Low)
	b.Close = round(b.Close)
	f.ready = append(f.ready, b)
	f.cur = nil
}

func round(v float64) float64 { return math.Round(v*1e5) / 1e5 }

// DecodeBI5 decompresses one hourly file and returns its ticks.
func DecodeBI5(r io.Reader, hour time.Time, scale float64) ([]Tick, error) {
	lr, err := lzma.NewReader(r)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if len(raw)%dukasRecordSize != 0 {
		return nil, fmt.Errorf("bi5 length %d is not a multiple of %d", len(raw), dukasRecordSize)
	}

	ticks := make([]Tick, 0, len(raw)/dukasRecordSize)
	for off := 0; off < len(raw); off += dukasRecordSize {
		rec := raw[off : off+dukasRecordSize]
		ms := binary.BigEndian.Uint32(rec[0:4])
		ask := binary.BigEndian.Uint32(rec[4:8])
		bid := binary.BigEndian.Uint32(rec[8:12])
		ticks = append(ticks, Tick{
			Time: hour.UTC().Add(time.Duration(ms) * time.Millisecond),
			Ask:  float64(ask) / scale,
			Bid:  float64(bid) / scale,
		})
	}
	return ticks, nil
}

// EncodeBI5 writes ticks in bi5 form. Used to build fixtures.
func EncodeBI5(w io.Writer, hour time.Time, scale float64, ticks []Tick) error {
	lw, err := lzma.NewWriter(w)
	if err != nil {
		return err
	}
	rec := make([]byte, dukasRecordSize)
	for _, t := range ticks {
		binary.BigEndian.PutUint32(rec[0:4], uint32(t.Time.Sub(hour.UTC())/time.Millisecond))
		binary.BigEndian.PutUint32(rec[4:8], uint32(math.Round(t.Ask*scale)))
		binary.BigEndian.PutUint32(rec[8:12], uint32(math.Round(t.Bid*scale)))
		binary.BigEndian.PutUint32(rec[12:16], math.Float32bits(1))
		binary.BigEndian.PutUint32(rec[16:20], math.Float32bits(1))
		if _, err := lw.Write(rec); err != nil {
			return err
		}
	}
	return lw.Close()
}
