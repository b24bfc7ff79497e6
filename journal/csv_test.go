package journal

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var opened = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

func sampleTrades() []ledger.Trade {
	return []ledger.Trade{
		{
			PositionID: "01HMAAAAAAAAAAAAAAAAAAAAAA",
			Instrument: "XAU_USD",
			Side:       market.Long,
			EntryPrice: 2050,
			ExitPrice:  2030,
			Size:       0.05,
			PnL:        -100,
			Risk:       100,
			OpenedAt:   opened,
			ClosedAt:   opened.Add(time.Hour),
			ExitReason: ledger.ExitStop,
			SessionRef: "XAU_USD:2024-01-15",
		},
		{
			PositionID: "01HMBBBBBBBBBBBBBBBBBBBBBB",
			Instrument: "XAU_USD",
			Side:       market.Short,
			EntryPrice: 2030,
			ExitPrice:  1990,
			Size:       0.05,
			PnL:        200,
			Risk:       100,
			OpenedAt:   opened.AddDate(0, 0, 1),
			ClosedAt:   opened.AddDate(0, 0, 1).Add(3 * time.Hour),
			ExitReason: ledger.ExitTarget,
			SessionRef: "XAU_USD:2024-01-16",
		},
	}
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(tradesPath, equityPath)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	for path, want := range map[string][]string{tradesPath: tradeHeader, equityPath: equityHeader} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		header, err := csv.NewReader(bytes.NewReader(data)).Read()
		require.NoError(t, err)
		assert.Equal(t, want, header)
	}
}

func TestCSVJournalRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(tradesPath, equityPath)
	require.NoError(t, err)

	trades := sampleTrades()
	for _, tr := range trades {
		j.Trade(tr)
	}
	j.Equity(ledger.EquityPoint{Time: opened, Balance: 10000, Equity: 10002.5})
	require.NoError(t, j.Close())

	f, err := os.Open(tradesPath)
	require.NoError(t, err)
	defer f.Close()
	got, err := ReadTrades(f)
	require.NoError(t, err)
	assert.Equal(t, trades, got)

	eq, err := os.ReadFile(equityPath)
	require.NoError(t, err)
	assert.Contains(t, string(eq), "2024-01-15T08:00:00Z,10000.000000,10002.500000")
}

func TestWriteTradesRMultiple(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteTrades(&buf, sampleTrades()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[1], ",-1.000000,STOP"), lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ",2.000000,TARGET"), lines[2])
}

func TestReadTradesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"short row", "a,b,c\n"},
		{"bad side", strings.Join(tradeHeader, ",") + "\nid,s,XAU_USD,UP,1,1,1,2024-01-15T08:00:00Z,2024-01-15T09:00:00Z,1,1,1,STOP\n"},
		{"bad number", strings.Join(tradeHeader, ",") + "\nid,s,XAU_USD,LONG,x,1,1,2024-01-15T08:00:00Z,2024-01-15T09:00:00Z,1,1,1,STOP\n"},
		{"bad time", strings.Join(tradeHeader, ",") + "\nid,s,XAU_USD,LONG,1,1,1,yesterday,2024-01-15T09:00:00Z,1,1,1,STOP\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadTrades(strings.NewReader(tt.in))
			assert.Error(t, err)
		})
	}
}
