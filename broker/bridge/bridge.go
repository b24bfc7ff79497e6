package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/strategies"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultRetryWait    = 500 * time.Millisecond
	defaultRetryMaxWait = 5 * time.Second
)

type Config struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	Retries      int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

// Client talks to a small HTTP bridge running next to the trading terminal.
type Client struct {
	http *resty.Client
	log  *logrus.Entry
}

var (
	_ broker.Executor     = (*Client)(nil)
	_ broker.StopModifier = (*Client)(nil)
	_ broker.TicketLister = (*Client)(nil)
)

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func New(cfg Config, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = defaultRetryMaxWait
	}

	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(isRetryableResp)
	if cfg.Token != "" {
		h.SetAuthToken(cfg.Token)
	}

	return &Client{http: h, log: log.WithField("component", "bridge")}
}

type orderRequest struct {
	IntentID   string      `json:"intent_id"`
	Instrument string      `json:"instrument"`
	Side       market.Side `json:"side"`
	Size       float64     `json:"size"`
	Price      float64     `json:"price"`
	StopLoss   float64     `json:"stop_loss"`
	TakeProfit float64     `json:"take_profit,omitempty"`
	Comment    string      `json:"comment,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

// Submit places a market order. The intent ID is sent as Idempotency-Key so
// a retried request returns the original fill.
func (c *Client) Submit(ctx context.Context, in strategies.Intent) (broker.Fill, error) {
	var fill broker.Fill
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", in.ID).
		SetBody(orderRequest{
			IntentID:   in.ID,
			Instrument: in.Instrument,
			Side:       in.Side,
			Size:       in.Size,
			Price:      in.EntryPrice,
			StopLoss:   in.StopLoss,
			TakeProfit: in.TakeProfit,
			Comment:    in.SessionRef,
		}).
		SetResult(&fill).
		SetError(&apiError{}).
		Post("/orders")
	if err := c.check("submit "+in.ID, resp, err); err != nil {
		return broker.Fill{}, err
	}
	if fill.IntentID == "" {
		fill.IntentID = in.ID
	}
	c.log.WithFields(logrus.Fields{"intent": in.ID, "ticket": fill.Ticket, "price": fill.Price}).Info("order filled")
	return fill, nil
}

func (c *Client) Close(ctx context.Context, req broker.CloseRequest) (broker.Fill, error) {
	var fill broker.Fill
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("ticket", req.Ticket).
		SetBody(req).
		SetResult(&fill).
		SetError(&apiError{}).
		Post("/positions/{ticket}/close")
	if err := c.check("close "+req.Ticket, resp, err); err != nil {
		return broker.Fill{}, err
	}
	c.log.WithFields(logrus.Fields{"ticket": req.Ticket, "price": fill.Price, "reason": req.Reason}).Info("position closed")
	return fill, nil
}

func (c *Client) ModifyStop(ctx context.Context, ticket string, stop float64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("ticket", ticket).
		SetBody(map[string]float64{"stop_loss": stop}).
		SetError(&apiError{}).
		Put("/positions/{ticket}/stop")
	return c.check("modify stop "+ticket, resp, err)
}

type positionsResponse struct {
	Positions []struct {
		Ticket     string `json:"ticket"`
		Instrument string `json:"instrument"`
	} `json:"positions"`
}

func (c *Client) OpenTickets(ctx context.Context, instrument string) ([]string, error) {
	var out positionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("instrument", instrument).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/positions")
	if err := c.check("list positions", resp, err); err != nil {
		return nil, err
	}
	tickets := make([]string, 0, len(out.Positions))
	for _, p := range out.Positions {
		tickets = append(tickets, p.Ticket)
	}
	return tickets, nil
}

type barsResponse struct {
	Bars []struct {
		Time   time.Time `json:"time"`
		Open   float64   `json:"open"`
		High   float64   `json:"high"`
		Low    float64   `json:"low"`
		Close  float64   `json:"close"`
		Volume float64   `json:"volume"`
	} `json:"bars"`
}

// Bars returns completed bars that opened after since, oldest first.
func (c *Client) Bars(ctx context.Context, instrument, timeframe string, since time.Time) ([]market.Bar, error) {
	var out barsResponse
	req := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"instrument": instrument, "timeframe": timeframe}).
		SetResult(&out).
		SetError(&apiError{})
	if !since.IsZero() {
		req.SetQueryParam("since", since.UTC().Format(time.RFC3339))
	}
	resp, err := req.Get("/bars")
	if err := c.check("bars", resp, err); err != nil {
		return nil, err
	}

	bars := make([]market.Bar, 0, len(out.Bars))
	for _, b := range out.Bars {
		bars = append(bars, market.Bar{
			Instrument: instrument,
			Time:       b.Time,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
		})
	}
	return bars, nil
}

// check maps transport and HTTP failures onto the broker error taxonomy.
func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("bridge %s: %w", op, err)
		}
		return fmt.Errorf("bridge %s: %w: %w", op, broker.ErrRetryable, err)
	}
	if !resp.IsError() {
		return nil
	}

	msg := string(resp.Body())
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		msg = e.Error
	}

	code := resp.StatusCode()
	c.log.WithFields(logrus.Fields{"op": op, "status": code}).Warn(msg)

	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("bridge %s: %w: %s", op, broker.ErrUnknownTicket, msg)
	case code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return fmt.Errorf("bridge %s: %w: HTTP %d: %s", op, broker.ErrRetryable, code, msg)
	default:
		return fmt.Errorf("bridge %s: %w: HTTP %d: %s", op, broker.ErrRejected, code, msg)
	}
}
