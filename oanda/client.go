// Package oanda reads candles from the OANDA v20 REST API. It serves as a
// live bar source and as a download source for backtest data.
package oanda

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rustyeddy/breakout/market"
	"github.com/sirupsen/logrus"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"

	// MaxCount is the largest candle count one request may ask for.
	MaxCount = 5000
)

var ErrUnsupportedGranularity = errors.New("unsupported granularity")

// PriceComponent represents the price component for candles
type PriceComponent string

const (
	MidPrice PriceComponent = "M"
	BidPrice PriceComponent = "B"
	AskPrice PriceComponent = "A"
)

type Config struct {
	// Env is "practice" or "live"; ignored when BaseURL is set.
	Env     string
	BaseURL string
	Token   string
	Timeout time.Duration
	Retries int
	Price   PriceComponent
}

// BaseURL maps an environment name to its REST endpoint.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "practice", "demo":
		return PracticeURL, nil
	case "live":
		return LiveURL, nil
	default:
		return "", fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
	}
}

// Granularity maps a timeframe onto OANDA's candle granularity.
func Granularity(tf market.Timeframe) (string, error) {
	switch tf {
	case market.M1, market.M5, market.M15, market.M30, market.H1, market.H4:
		return string(tf), nil
	case market.D1:
		return "D", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedGranularity, tf)
}

type Client struct {
	http  *resty.Client
	price PriceComponent
	log   *logrus.Entry
}

func New(cfg Config, log *logrus.Entry) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		var err error
		if base, err = BaseURL(cfg.Env); err != nil {
			return nil, err
		}
	}
	if cfg.Token == "" {
		return nil, errors.New("oanda: token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Price == "" {
		cfg.Price = MidPrice
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	h := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.Token).
		SetHeader("Accept-Datetime-Format", "RFC3339").
		SetRetryCount(max(cfg.Retries, 0)).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})
	return &Client{http: h, price: cfg.Price, log: log.WithField("component", "oanda")}, nil
}

// CandlesRequest represents parameters for fetching historical candles
type CandlesRequest struct {
	Instrument string
	Timeframe  market.Timeframe
	// Count is used alone or with From; OANDA rejects Count with both ends.
	Count int
	From  time.Time
	To    time.Time
}

type candleData struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool        `json:"complete"`
	Volume   int         `json:"volume"`
	Time     time.Time   `json:"time"`
	Mid      *candleData `json:"mid,omitempty"`
	Bid      *candleData `json:"bid,omitempty"`
	Ask      *candleData `json:"ask,omitempty"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

type apiError struct {
	ErrorMessage string `json:"errorMessage"`
}

// Candles fetches completed candles as bars, oldest first. Incomplete
// candles are dropped.
func (c *Client) Candles(ctx context.Context, req CandlesRequest) ([]market.Bar, error) {
	if req.Instrument == "" {
		return nil, fmt.Errorf("instrument is required")
	}
	gran, err := Granularity(req.Timeframe)
	if err != nil {
		return nil, err
	}
	if req.Count > MaxCount {
		return nil, fmt.Errorf("count cannot exceed %d", MaxCount)
	}

	params := map[string]string{
		"price":       string(c.price),
		"granularity": gran,
	}
	if req.Count > 0 {
		params["count"] = strconv.Itoa(req.Count)
	}
	if !req.From.IsZero() {
		params["from"] = req.From.UTC().Format(time.RFC3339)
	}
	if !req.To.IsZero() && req.Count == 0 {
		params["to"] = req.To.UTC().Format(time.RFC3339)
	}

	var out candlesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("instrument", req.Instrument).
		SetQueryParams(params).
		SetResult(&out).
		SetError(&apiError{}).
		ForceContentType("application/json").
		Get("/v3/instruments/{instrument}/candles")
	if err != nil {
		return nil, fmt.Errorf("oanda candles: %w", err)
	}
	if resp.IsError() {
		msg := string(resp.Body())
		if e, ok := resp.Error().(*apiError); ok && e.ErrorMessage != "" {
			msg = e.ErrorMessage
		}
		return nil, fmt.Errorf("oanda candles: HTTP %d: %s", resp.StatusCode(), msg)
	}

	bars := make([]market.Bar, 0, len(out.Candles))
	for _, ac := range out.Candles {
		if !ac.Complete {
			continue
		}
		d := ac.Mid
		switch c.price {
		case BidPrice:
			d = ac.Bid
		case AskPrice:
			d = ac.Ask
		}
		if d == nil {
			return nil, fmt.Errorf("oanda candles: no %s prices at %s", c.price, ac.Time.Format(time.RFC3339))
		}
		b, err := d.bar(req.Instrument, ac.Time, float64(ac.Volume))
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func (d candleData) bar(instrument string, t time.Time, vol float64) (market.Bar, error) {
	var v [4]float64
	for i, s := range []string{d.O, d.H, d.L, d.C} {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("parse price %q at %s: %w", s, t.Format(time.RFC3339), err)
		}
		v[i] = f
	}
	return market.Bar{
		Instrument: instrument,
		Time:       t,
		Open:       v[0],
		High:       v[1],
		Low:        v[2],
		Close:      v[3],
		Volume:     vol,
	}, nil
}

// Bars returns completed bars that opened after since.
func (c *Client) Bars(ctx context.Context, instrument, timeframe string, since time.Time) ([]market.Bar, error) {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	req := CandlesRequest{Instrument: instrument, Timeframe: tf, Count: MaxCount}
	if !since.IsZero() {
		req.From = since
	}
	bars, err := c.Candles(ctx, req)
	if err != nil {
		return nil, err
	}
	out := bars[:0]
	for _, b := range bars {
		if b.Time.After(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Range pages through [from, to) in MaxCount sized requests.
func (c *Client) Range(ctx context.Context, instrument string, tf market.Timeframe, from, to time.Time) ([]market.Bar, error) {
	step := tf.Duration()
	if step == 0 {
		return nil, market.ErrInvalidTimeframe
	}
	var all []market.Bar
	cursor := from
	for cursor.Before(to) {
		bars, err := c.Candles(ctx, CandlesRequest{Instrument: instrument, Timeframe: tf, Count: MaxCount, From: cursor})
		if err != nil {
			return nil, err
		}
		next := cursor.Add(step * MaxCount)
		for _, b := range bars {
			if b.Time.Before(cursor) || !b.Time.Before(to) {
				continue
			}
			if n := len(all); n > 0 && !b.Time.After(all[n-1].Time) {
				continue
			}
			all = append(all, b)
		}
		if n := len(bars); n > 0 && bars[n-1].Time.Add(step).After(cursor) {
			next = bars[n-1].Time.Add(step)
		}
		c.log.WithFields(logrus.Fields{"from": cursor.Format(time.RFC3339), "bars": len(bars)}).Debug("candles page")
		cursor = next
	}
	return all, nil
}
