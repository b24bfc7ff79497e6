package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/breakout/engine"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArtifacts() Artifacts {
	trades := sampleTrades()
	curve := []ledger.EquityPoint{
		{Time: opened, Balance: 10000, Equity: 10000},
		{Time: trades[0].ClosedAt, Balance: 9900, Equity: 9900},
		{Time: trades[1].ClosedAt, Balance: 10100, Equity: 10100},
	}
	return Artifacts{
		RunID:      "01HMRUN",
		Created:    time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
		Strategy:   "breakout",
		Instrument: "XAU_USD",
		Timeframe:  "M15",
		Dataset:    "xauusd_m15.csv",
		Start:      opened,
		End:        trades[1].ClosedAt,
		Config:     map[string]any{"buffer_pips": 0},
		Trades:     trades,
		Curve:      curve,
		Summary:    report.Compute(trades, curve, 10000),
		Events:     engine.Summary{Bars: 30, Counts: map[engine.EventKind]int{engine.EventEntry: 2}},
		Notes:      []string{"first run"},
	}
}

func TestNewRunDirName(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d, err := NewRunDir(root, "session breakout/v2", time.Date(2024, 2, 1, 12, 3, 4, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "2024-02-01_12-03-04-session-breakout-v2"), d.Path())

	st, err := os.Stat(d.Path())
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	_, err = OpenRunDir(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestRunDirWrite(t *testing.T) {
	t.Parallel()

	d, err := NewRunDir(t.TempDir(), "breakout", time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	a := sampleArtifacts()
	require.NoError(t, d.Write(a))

	for _, name := range []string{TradesFile, EquityFile, PerformanceFile, ReportFile, OrgFile} {
		_, err := os.Stat(d.File(name))
		assert.NoError(t, err, name)
		_, err = os.Stat(d.File(name + ".part"))
		assert.True(t, os.IsNotExist(err), name)
	}

	trades, err := d.ReadTrades()
	require.NoError(t, err)
	assert.Equal(t, a.Trades, trades)

	perf, err := d.ReadPerformance()
	require.NoError(t, err)
	assert.Equal(t, "01HMRUN", perf.RunID)
	assert.Equal(t, 2, perf.Performance.Trades)
	assert.Equal(t, 2, perf.Events.Count(engine.EventEntry))
	assert.InDelta(t, 100.0, perf.Performance.NetProfit, 1e-9)

	txt, err := os.ReadFile(d.File(ReportFile))
	require.NoError(t, err)
	assert.Contains(t, string(txt), "Total Trades:     2")
	assert.Contains(t, string(txt), "Events: bars=30 entry=2")

	logf, err := d.OpenLog()
	require.NoError(t, err)
	_, err = logf.WriteString("hello\n")
	require.NoError(t, err)
	require.NoError(t, logf.Close())
	_, err = os.Stat(d.File(LogFile))
	assert.NoError(t, err)
}

func TestWriteOrg(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteOrg(&buf, sampleArtifacts()))
	out := buf.String()

	assert.Contains(t, out, "* BACKTEST: breakout XAU_USD M15")
	assert.Contains(t, out, ":RUN_ID:      01HMRUN")
	assert.Contains(t, out, ":CREATED:     [2024-02-01 Thu 12:00]")
	assert.Contains(t, out, `{"buffer_pips":0}`)
	assert.Contains(t, out, "- first run")
	assert.Contains(t, out, ":SESSION: XAU_USD:2024-01-16")
	assert.Contains(t, out, ":REASON: TARGET")
}

func TestWriteOrgInfiniteProfitFactor(t *testing.T) {
	t.Parallel()

	a := sampleArtifacts()
	a.Trades = a.Trades[1:]
	a.Summary = report.Compute(a.Trades, nil, 10000)
	a.Notes = nil

	var buf bytes.Buffer
	require.NoError(t, WriteOrg(&buf, a))
	assert.Contains(t, buf.String(), ":PROFIT_FAC:  inf")
	assert.NotContains(t, buf.String(), "** Observations")
}
