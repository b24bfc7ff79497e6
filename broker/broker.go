package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/strategies"
)

var (
	// ErrRetryable marks transient failures (timeouts, 5xx, 429).
	ErrRetryable = errors.New("broker: retryable failure")
	// ErrRejected marks orders the broker refused outright.
	ErrRejected = errors.New("broker: order rejected")
	// ErrUnknownTicket is returned for tickets the broker does not know.
	ErrUnknownTicket = errors.New("broker: unknown ticket")
)

// Fill is the broker's confirmation of an entry or exit.
type Fill struct {
	IntentID   string    `json:"intent_id"`
	Ticket     string    `json:"ticket"`
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Time       time.Time `json:"time"`
}

type CloseRequest struct {
	Ticket     string      `json:"ticket"`
	Instrument string      `json:"instrument"`
	Side       market.Side `json:"side"`
	Size       float64     `json:"size"`
	// Price is the level the strategy decided to exit at. Simulated
	// executors fill there; live ones report the actual price.
	Price  float64   `json:"price"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// Executor turns intents into fills. Submitting the same intent ID twice
// must return the original fill.
type Executor interface {
	Submit(ctx context.Context, in strategies.Intent) (Fill, error)
	Close(ctx context.Context, req CloseRequest) (Fill, error)
}

// StopModifier is implemented by executors that hold a server side stop.
type StopModifier interface {
	ModifyStop(ctx context.Context, ticket string, stop float64) error
}

// TicketLister reports the broker's open tickets, used to reconcile on resume.
type TicketLister interface {
	OpenTickets(ctx context.Context, instrument string) ([]string, error)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable) || errors.Is(err, context.DeadlineExceeded)
}
