// Package journal writes the artifacts of a run: trade and equity logs,
// the performance summary and human readable reports.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rustyeddy/breakout/engine"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/report"
)

const (
	TradesFile      = "trades.csv"
	EquityFile      = "equity.csv"
	PerformanceFile = "performance.json"
	ReportFile      = "report.txt"
	OrgFile         = "report.org"
	LogFile         = "run.log"
)

// Artifacts is everything a finished run leaves behind.
type Artifacts struct {
	RunID      string
	Created    time.Time
	Strategy   string
	Instrument string
	Timeframe  string
	Dataset    string

	Start time.Time
	End   time.Time

	// Config is the effective configuration, stored as JSON.
	Config any

	Trades  []ledger.Trade
	Curve   []ledger.EquityPoint
	Summary report.Summary
	Events  engine.Summary

	Notes []string
}

// Performance is the performance.json document.
type Performance struct {
	RunID       string         `json:"run_id"`
	Strategy    string         `json:"strategy"`
	Instrument  string         `json:"instrument"`
	Timeframe   string         `json:"timeframe,omitempty"`
	Dataset     string         `json:"dataset,omitempty"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Config      any            `json:"config,omitempty"`
	Performance report.Summary `json:"performance"`
	Events      engine.Summary `json:"events"`
}

// RunDir is <results>/<YYYY-MM-DD_HH-MM-SS>-<strategy>/.
type RunDir struct {
	path string
}

func NewRunDir(results, strategy string, start time.Time) (*RunDir, error) {
	name := start.Format("2006-01-02_15-04-05") + "-" + sanitize(strategy)
	p := filepath.Join(results, name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return nil, fmt.Errorf("run dir: %w", err)
	}
	return &RunDir{path: p}, nil
}

// OpenRunDir refers to an existing run directory.
func OpenRunDir(path string) (*RunDir, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	return &RunDir{path: path}, nil
}

func (d *RunDir) Path() string { return d.path }

func (d *RunDir) File(name string) string { return filepath.Join(d.path, name) }

// OpenLog opens run.log for appending.
func (d *RunDir) OpenLog() (*os.File, error) {
	return os.OpenFile(d.File(LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Write stores every artifact file. Files are written to a temporary name
// and renamed into place.
func (d *RunDir) Write(a Artifacts) error {
	var buf bytes.Buffer

	if err := WriteTrades(&buf, a.Trades); err != nil {
		return err
	}
	if err := d.put(TradesFile, &buf); err != nil {
		return err
	}

	if err := WriteEquity(&buf, a.Curve); err != nil {
		return err
	}
	if err := d.put(EquityFile, &buf); err != nil {
		return err
	}

	if err := WritePerformance(&buf, a); err != nil {
		return err
	}
	if err := d.put(PerformanceFile, &buf); err != nil {
		return err
	}

	report.Print(&buf, a.Summary)
	fmt.Fprintf(&buf, "\nEvents: %s\n", a.Events)
	if err := d.put(ReportFile, &buf); err != nil {
		return err
	}

	if err := WriteOrg(&buf, a); err != nil {
		return err
	}
	return d.put(OrgFile, &buf)
}

func WritePerformance(buf *bytes.Buffer, a Artifacts) error {
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	return enc.Encode(Performance{
		RunID:       a.RunID,
		Strategy:    a.Strategy,
		Instrument:  a.Instrument,
		Timeframe:   a.Timeframe,
		Dataset:     a.Dataset,
		Start:       a.Start,
		End:         a.End,
		Config:      a.Config,
		Performance: a.Summary,
		Events:      a.Events,
	})
}

// ReadPerformance loads performance.json from the run directory.
func (d *RunDir) ReadPerformance() (Performance, error) {
	var p Performance
	b, err := os.ReadFile(d.File(PerformanceFile))
	if err != nil {
		return p, err
	}
	return p, json.Unmarshal(b, &p)
}

// ReadTrades loads trades.csv from the run directory.
func (d *RunDir) ReadTrades() ([]ledger.Trade, error) {
	f, err := os.Open(d.File(TradesFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTrades(f)
}

func (d *RunDir) put(name string, buf *bytes.Buffer) error {
	defer buf.Reset()
	tmp := d.File(name + ".part")
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, d.File(name)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "run"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, s)
}
