package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/market"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists ledger state in SQLite, one transaction per Save.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreDB wraps an already migrated database handle.
func NewSQLiteStoreDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, st State) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_state (instrument, initial_balance, balance, last_bar)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instrument) DO UPDATE SET
			initial_balance = excluded.initial_balance,
			balance = excluded.balance,
			last_bar = excluded.last_bar`,
		st.Instrument, st.InitialBalance, st.Balance, nullTime(st.LastBar),
	); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	for i, p := range st.Positions {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO positions
			(position_id, instrument, side, entry_price, size, stop_loss, initial_stop, take_profit,
			 opened_at, trade_end, status, session_ref, intent_id, ticket, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(position_id) DO UPDATE SET
				stop_loss = excluded.stop_loss,
				status = excluded.status,
				ticket = excluded.ticket`,
			p.ID, p.Instrument, p.Side.String(), p.EntryPrice, p.Size, p.StopLoss, p.InitialStop, p.TakeProfit,
			p.OpenedAt.UTC(), p.TradeEnd.UTC(), string(p.Status), p.SessionRef, p.IntentID, p.Ticket, i,
		); err != nil {
			return fmt.Errorf("save position %s: %w", p.ID, err)
		}
	}

	for i, t := range st.Trades {
		if _, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO trades
			(position_id, instrument, side, entry_price, exit_price, size, pnl, risk,
			 opened_at, closed_at, reason, session_ref, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.PositionID, t.Instrument, t.Side.String(), t.EntryPrice, t.ExitPrice, t.Size, t.PnL, t.Risk,
			t.OpenedAt.UTC(), t.ClosedAt.UTC(), string(t.ExitReason), t.SessionRef, i,
		); err != nil {
			return fmt.Errorf("save trade %s: %w", t.PositionID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context, instrument string) (State, bool, error) {
	st := State{Instrument: instrument}

	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT initial_balance, balance, last_bar FROM ledger_state WHERE instrument = ?`, instrument,
	).Scan(&st.InitialBalance, &st.Balance, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	if last.Valid {
		st.LastBar = last.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, instrument, side, entry_price, size, stop_loss, initial_stop, take_profit,
		       opened_at, trade_end, status, session_ref, intent_id, ticket
		FROM positions
		WHERE instrument = ?
		ORDER BY seq ASC`, instrument)
	if err != nil {
		return State{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p            Position
			side, status string
		)
		if err := rows.Scan(
			&p.ID, &p.Instrument, &side, &p.EntryPrice, &p.Size, &p.StopLoss, &p.InitialStop, &p.TakeProfit,
			&p.OpenedAt, &p.TradeEnd, &status, &p.SessionRef, &p.IntentID, &p.Ticket,
		); err != nil {
			return State{}, false, err
		}
		if p.Side, err = market.ParseSide(side); err != nil {
			return State{}, false, err
		}
		p.Status = Status(status)
		st.Positions = append(st.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return State{}, false, err
	}

	st.Trades, err = s.listTrades(ctx, `WHERE instrument = ? ORDER BY seq ASC`, instrument)
	if err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
