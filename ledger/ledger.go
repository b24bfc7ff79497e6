package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/pkg/id"
	"github.com/rustyeddy/breakout/risk"
	"github.com/shopspring/decimal"
)

var (
	ErrDuplicateOpenPosition = errors.New("an open position already exists for instrument")
	ErrDuplicatePosition     = errors.New("session, intent or ticket already produced a position")
	ErrInvalidPosition       = errors.New("invalid position")
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionNotOpen       = errors.New("position not open")
)

// Ledger owns positions, trades and the balance of one instrument. Every
// change is persisted through the Store before it becomes visible.
type Ledger struct {
	mu    sync.RWMutex
	store Store
	ids   *id.Generator
	state State
	// quote currency to account currency
	rate float64
}

func New(store Store, instrument string, initialBalance float64, ids *id.Generator) *Ledger {
	if store == nil {
		store = NewMemoryStore()
	}
	if ids == nil {
		ids = id.NewRandom()
	}
	return &Ledger{
		store: store,
		ids:   ids,
		rate:  1,
		state: State{
			Instrument:     instrument,
			InitialBalance: initialBalance,
			Balance:        initialBalance,
		},
	}
}

// SetQuoteToAccount sets the rate applied to PnL and risk before they reach
// the balance. Zero or negative rates are ignored.
func (l *Ledger) SetQuoteToAccount(rate float64) {
	if rate <= 0 {
		return
	}
	l.mu.Lock()
	l.rate = rate
	l.mu.Unlock()
}

// Load replaces the in-memory state with the stored one. A store without
// state for the instrument leaves the fresh ledger as is.
func (l *Ledger) Load(ctx context.Context) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok, err := l.store.Load(ctx, l.state.Instrument)
	if err != nil {
		return State{}, fmt.Errorf("ledger load %s: %w", l.state.Instrument, err)
	}
	if ok {
		l.state = st.clone()
	}
	return l.state.clone(), nil
}

// Persist writes the current state.
func (l *Ledger) Persist(ctx context.Context) error {
	l.mu.RLock()
	st := l.state.clone()
	l.mu.RUnlock()
	return l.store.Save(ctx, st)
}

// commit persists next and then makes it current.
func (l *Ledger) commit(ctx context.Context, next State) error {
	if err := l.store.Save(ctx, next); err != nil {
		return fmt.Errorf("ledger persist: %w", err)
	}
	l.state = next
	return nil
}

// Open records a filled position and returns its ID.
func (l *Ledger) Open(ctx context.Context, p Position) (string, error) {
	if err := validate(p); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if p.Instrument != l.state.Instrument {
		return "", fmt.Errorf("%w: instrument %s in %s ledger", ErrInvalidPosition, p.Instrument, l.state.Instrument)
	}
	if cur, ok := l.state.Open(); ok {
		return "", fmt.Errorf("%w: %s (%s)", ErrDuplicateOpenPosition, p.Instrument, cur.ID)
	}
	for _, q := range l.state.Positions {
		switch {
		case p.SessionRef != "" && q.SessionRef == p.SessionRef:
			return "", fmt.Errorf("%w: session %s", ErrDuplicatePosition, p.SessionRef)
		case p.IntentID != "" && q.IntentID == p.IntentID:
			return "", fmt.Errorf("%w: intent %s", ErrDuplicatePosition, p.IntentID)
		case p.Ticket != "" && q.Ticket == p.Ticket:
			return "", fmt.Errorf("%w: ticket %s", ErrDuplicatePosition, p.Ticket)
		}
	}

	if p.ID == "" {
		p.ID = l.ids.At(p.OpenedAt)
	}
	if p.InitialStop == 0 {
		p.InitialStop = p.StopLoss
	}
	p.Status = StatusOpen

	next := l.state.clone()
	next.Positions = append(next.Positions, p)
	if err := l.commit(ctx, next); err != nil {
		return "", err
	}
	return p.ID, nil
}

// Close books the exit of an open position and returns the resulting trade.
func (l *Ledger) Close(ctx context.Context, posID string, exitPrice float64, at time.Time, reason ExitReason) (Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, err := l.openIndex(posID)
	if err != nil {
		return Trade{}, err
	}

	next := l.state.clone()
	p := next.Positions[idx]

	inst, err := market.Lookup(p.Instrument)
	if err != nil {
		return Trade{}, err
	}

	tr := Trade{
		PositionID: p.ID,
		Instrument: p.Instrument,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       p.Size,
		PnL:        round2(inst.PnL(p.Side, p.EntryPrice, exitPrice, p.Size) * l.rate),
		Risk:       risk.PlannedRisk(p.Size, p.EntryPrice, p.InitialStop, inst, l.rate),
		OpenedAt:   p.OpenedAt,
		ClosedAt:   at,
		ExitReason: reason,
		SessionRef: p.SessionRef,
	}

	p.Status = StatusClosed
	next.Positions[idx] = p
	next.Trades = append(next.Trades, tr)
	next.Balance = round2(next.Balance + tr.PnL)

	if err := l.commit(ctx, next); err != nil {
		return Trade{}, err
	}
	return tr, nil
}

// Checkpoint records at as the last processed bar. Times at or before the
// stored one are ignored.
func (l *Ledger) Checkpoint(ctx context.Context, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !at.After(l.state.LastBar) {
		return nil
	}
	next := l.state.clone()
	next.LastBar = at
	return l.commit(ctx, next)
}

// HasSession reports whether ref already produced a position.
func (l *Ledger) HasSession(ref string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.HasSession(ref)
}

// UpdateStop moves the stop of an open position. The stop must stay on the
// losing side of entry.
func (l *Ledger) UpdateStop(ctx context.Context, posID string, stop float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, err := l.openIndex(posID)
	if err != nil {
		return err
	}
	next := l.state.clone()
	p := next.Positions[idx]
	if p.StopLoss == stop {
		return nil
	}
	p.StopLoss = stop
	if err := validate(p); err != nil {
		return err
	}
	next.Positions[idx] = p
	return l.commit(ctx, next)
}

func (l *Ledger) openIndex(posID string) (int, error) {
	for i, p := range l.state.Positions {
		if p.ID != posID {
			continue
		}
		if p.Status != StatusOpen {
			return 0, fmt.Errorf("%w: %s is %s", ErrPositionNotOpen, posID, p.Status)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrPositionNotFound, posID)
}

// CurrentOpen returns the open position for instrument.
func (l *Ledger) CurrentOpen(instrument string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if instrument != l.state.Instrument {
		return Position{}, false
	}
	return l.state.Open()
}

func (l *Ledger) Trades() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Trade(nil), l.state.Trades...)
}

func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Position(nil), l.state.Positions...)
}

func (l *Ledger) Balance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Balance
}

func (l *Ledger) InitialBalance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.InitialBalance
}

func (l *Ledger) Instrument() string { return l.state.Instrument }

// Snapshot returns a copy of the full state.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.clone()
}

// UnrealizedPnL marks the open position, if any, at price in account
// currency.
func (l *Ledger) UnrealizedPnL(price float64) float64 {
	l.mu.RLock()
	p, ok := l.state.Open()
	rate := l.rate
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	inst, err := market.Lookup(p.Instrument)
	if err != nil {
		return 0
	}
	return inst.PnL(p.Side, p.EntryPrice, price, p.Size) * rate
}

func validate(p Position) error {
	if p.Instrument == "" {
		return fmt.Errorf("%w: missing instrument", ErrInvalidPosition)
	}
	if p.Size <= 0 {
		return fmt.Errorf("%w: size %v", ErrInvalidPosition, p.Size)
	}
	switch p.Side {
	case market.Long:
		if p.StopLoss >= p.EntryPrice {
			return fmt.Errorf("%w: long stop %.3f not below entry %.3f", ErrInvalidPosition, p.StopLoss, p.EntryPrice)
		}
	case market.Short:
		if p.StopLoss <= p.EntryPrice {
			return fmt.Errorf("%w: short stop %.3f not above entry %.3f", ErrInvalidPosition, p.StopLoss, p.EntryPrice)
		}
	default:
		return fmt.Errorf("%w: side %v", ErrInvalidPosition, p.Side)
	}
	return nil
}

func round2(x float64) float64 {
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}
