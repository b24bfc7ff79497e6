package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/strategies"
)

type trade struct {
	entry  broker.Fill
	exit   *broker.Fill
	stop   float64
	intent strategies.Intent
}

// Executor fills intents at their trigger price, moved against the trader
// by a fixed slippage in pips. It never fails unless told to.
type Executor struct {
	mu           sync.Mutex
	slippagePips float64
	trades       map[string]*trade // by ticket
	byIntent     map[string]string // intent ID -> ticket

	// FailNext makes the next Submit fail with the given error (tests).
	FailNext error
}

func New(slippagePips float64) *Executor {
	return &Executor{
		slippagePips: slippagePips,
		trades:       make(map[string]*trade),
		byIntent:     make(map[string]string),
	}
}

func (e *Executor) slip(instrument string, price float64, side market.Side) float64 {
	inst, err := market.Lookup(instrument)
	if err != nil || e.slippagePips == 0 {
		return price
	}
	return inst.RoundPrice(price + side.Sign()*inst.FromPips(e.slippagePips))
}

func (e *Executor) Submit(ctx context.Context, in strategies.Intent) (broker.Fill, error) {
	if err := ctx.Err(); err != nil {
		return broker.Fill{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if in.ID == "" {
		return broker.Fill{}, fmt.Errorf("%w: intent without id", broker.ErrRejected)
	}
	if ticket, ok := e.byIntent[in.ID]; ok {
		return e.trades[ticket].entry, nil
	}
	if err := e.FailNext; err != nil {
		e.FailNext = nil
		return broker.Fill{}, err
	}

	f := broker.Fill{
		IntentID:   in.ID,
		Ticket:     "SIM-" + in.ID,
		Instrument: in.Instrument,
		Price:      e.slip(in.Instrument, in.EntryPrice, in.Side),
		Size:       in.Size,
		Time:       in.CreatedAt,
	}
	e.trades[f.Ticket] = &trade{entry: f, stop: in.StopLoss, intent: in}
	e.byIntent[in.ID] = f.Ticket
	return f, nil
}

func (e *Executor) Close(ctx context.Context, req broker.CloseRequest) (broker.Fill, error) {
	if err := ctx.Err(); err != nil {
		return broker.Fill{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[req.Ticket]
	if !ok {
		return broker.Fill{}, fmt.Errorf("%w: %s", broker.ErrUnknownTicket, req.Ticket)
	}
	if t.exit != nil {
		return *t.exit, nil
	}

	// Exits slip against the position: a long sells lower.
	f := broker.Fill{
		IntentID:   t.entry.IntentID,
		Ticket:     req.Ticket,
		Instrument: t.entry.Instrument,
		Price:      e.slip(t.entry.Instrument, req.Price, -req.Side),
		Size:       t.entry.Size,
		Time:       req.Time,
	}
	t.exit = &f
	return f, nil
}

func (e *Executor) ModifyStop(ctx context.Context, ticket string, stop float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[ticket]
	if !ok || t.exit != nil {
		return fmt.Errorf("%w: %s", broker.ErrUnknownTicket, ticket)
	}
	t.stop = stop
	return nil
}

// Stop returns the stop the simulator holds for ticket.
func (e *Executor) Stop(ticket string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trades[ticket]
	if !ok {
		return 0, false
	}
	return t.stop, true
}

func (e *Executor) OpenTickets(ctx context.Context, instrument string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []string
	for ticket, t := range e.trades {
		if t.exit == nil && t.entry.Instrument == instrument {
			out = append(out, ticket)
		}
	}
	sort.Strings(out)
	return out, nil
}
