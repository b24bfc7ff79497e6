package oanda

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rustyeddy/breakout/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candle(ts string, complete bool, o, h, l, c string) apiCandle {
	t, _ := time.Parse(time.RFC3339, ts)
	return apiCandle{Complete: complete, Volume: 100, Time: t, Mid: &candleData{O: o, H: h, L: l, C: c}}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Token: "test-token", Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Env: "practice"}, nil)
	require.ErrorContains(t, err, "token is required")

	_, err = New(Config{Env: "paper", Token: "x"}, nil)
	require.ErrorContains(t, err, "unknown OANDA env")

	u, err := BaseURL("live")
	require.NoError(t, err)
	assert.Equal(t, LiveURL, u)
	u, err = BaseURL("demo")
	require.NoError(t, err)
	assert.Equal(t, PracticeURL, u)
}

func TestGranularity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tf   market.Timeframe
		want string
		err  bool
	}{
		{market.M15, "M15", false},
		{market.H1, "H1", false},
		{market.D1, "D", false},
		{"W1", "", true},
	}
	for _, tt := range tests {
		got, err := Granularity(tt.tf)
		if tt.err {
			require.ErrorIs(t, err, ErrUnsupportedGranularity)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestCandles(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/v3/instruments/XAU_USD/candles", r.URL.Path)
		assert.Equal(t, "M", r.URL.Query().Get("price"))
		assert.Equal(t, "M15", r.URL.Query().Get("granularity"))
		assert.Equal(t, "100", r.URL.Query().Get("count"))

		_ = json.NewEncoder(w).Encode(candlesResponse{
			Instrument: "XAU_USD",
			Candles: []apiCandle{
				candle("2024-01-02T10:00:00Z", true, "2040.10", "2045.50", "2038.00", "2044.20"),
				candle("2024-01-02T10:15:00Z", true, "2044.20", "2046.00", "2041.30", "2042.00"),
				candle("2024-01-02T10:30:00Z", false, "2042.00", "2043.00", "2041.00", "2042.50"),
			},
		})
	})

	bars, err := c.Candles(context.Background(), CandlesRequest{Instrument: "XAU_USD", Timeframe: market.M15, Count: 100})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "XAU_USD", bars[0].Instrument)
	assert.Equal(t, 2040.10, bars[0].Open)
	assert.Equal(t, 2045.50, bars[0].High)
	assert.Equal(t, 2038.00, bars[0].Low)
	assert.Equal(t, 2044.20, bars[0].Close)
	assert.Equal(t, 100.0, bars[0].Volume)
	assert.NoError(t, bars[1].Validate())
}

func TestCandlesErrors(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorMessage":"Invalid value specified for 'granularity'"}`))
	})
	_, err := c.Candles(context.Background(), CandlesRequest{Instrument: "XAU_USD", Timeframe: market.M15, Count: 10})
	require.ErrorContains(t, err, "HTTP 400")
	require.ErrorContains(t, err, "granularity")

	_, err = c.Candles(context.Background(), CandlesRequest{Timeframe: market.M15})
	require.ErrorContains(t, err, "instrument is required")

	_, err = c.Candles(context.Background(), CandlesRequest{Instrument: "XAU_USD", Timeframe: market.M15, Count: MaxCount + 1})
	require.ErrorContains(t, err, "cannot exceed")

	bad := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(candlesResponse{Candles: []apiCandle{
			candle("2024-01-02T10:00:00Z", true, "abc", "1", "1", "1"),
		}})
	})
	_, err = bad.Candles(context.Background(), CandlesRequest{Instrument: "XAU_USD", Timeframe: market.M15, Count: 1})
	require.ErrorContains(t, err, "parse price")
}

func TestBarsSkipsSince(t *testing.T) {
	t.Parallel()

	since := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("from"))
		_ = json.NewEncoder(w).Encode(candlesResponse{Candles: []apiCandle{
			candle("2024-01-02T10:00:00Z", true, "2040", "2041", "2039", "2040"),
			candle("2024-01-02T10:15:00Z", true, "2040", "2042", "2039", "2041"),
		}})
	})

	bars, err := c.Bars(context.Background(), "XAU_USD", "M15", since)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].Time.Equal(since.Add(15*time.Minute)))

	_, err = c.Bars(context.Background(), "XAU_USD", "M7", since)
	require.ErrorIs(t, err, market.ErrInvalidTimeframe)
}

func TestRangePages(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		if !assert.NoError(t, err) {
			return
		}
		// Serve at most three hourly candles per page.
		var out candlesResponse
		for i := 0; i < 3; i++ {
			ts := from.Add(time.Duration(i) * time.Hour)
			if !ts.Before(start.Add(8 * time.Hour)) {
				break
			}
			out.Candles = append(out.Candles, candle(ts.Format(time.RFC3339), true, "2040", "2041", "2039", "2040"))
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	bars, err := c.Range(context.Background(), "XAU_USD", market.H1, start, start.Add(6*time.Hour))
	require.NoError(t, err)
	require.Len(t, bars, 6)
	for i, b := range bars {
		assert.True(t, b.Time.Equal(start.Add(time.Duration(i)*time.Hour)))
	}
	assert.Equal(t, int32(2), calls.Load())
}
