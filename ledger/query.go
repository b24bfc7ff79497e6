package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/market"
)

const tradeColumns = `position_id, instrument, side, entry_price, exit_price, size, pnl, risk,
	opened_at, closed_at, reason, session_ref`

// GetTrade returns a single trade by position ID.
func (s *SQLiteStore) GetTrade(ctx context.Context, positionID string) (Trade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE position_id = ?`, positionID)

	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trade{}, fmt.Errorf("trade %q not found", positionID)
		}
		return Trade{}, err
	}
	return t, nil
}

// ListTradesClosedBetween returns trades whose close time is within [start, end).
func (s *SQLiteStore) ListTradesClosedBetween(ctx context.Context, start, end time.Time) ([]Trade, error) {
	return s.listTrades(ctx, `WHERE closed_at >= ? AND closed_at < ? ORDER BY closed_at ASC, seq ASC`,
		start.UTC(), end.UTC())
}

// ListTrades returns all trades of an instrument in booking order.
func (s *SQLiteStore) ListTrades(ctx context.Context, instrument string) ([]Trade, error) {
	return s.listTrades(ctx, `WHERE instrument = ? ORDER BY seq ASC`, instrument)
}

func (s *SQLiteStore) listTrades(ctx context.Context, where string, args ...any) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trades `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(r scanner) (Trade, error) {
	var (
		t            Trade
		side, reason string
	)
	if err := r.Scan(
		&t.PositionID,
		&t.Instrument,
		&side,
		&t.EntryPrice,
		&t.ExitPrice,
		&t.Size,
		&t.PnL,
		&t.Risk,
		&t.OpenedAt,
		&t.ClosedAt,
		&reason,
		&t.SessionRef,
	); err != nil {
		return Trade{}, err
	}
	var err error
	if t.Side, err = market.ParseSide(side); err != nil {
		return Trade{}, err
	}
	t.ExitReason = ExitReason(reason)
	return t, nil
}
