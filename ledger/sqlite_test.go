package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rustyeddy/breakout/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLiteStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	s, _ := newTestSQLite(t)

	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["ledger_state"])
	assert.True(t, found["positions"])
	assert.True(t, found["trades"])
}

func TestSQLiteStoreResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, path := newTestSQLite(t)

	l := newLedger(s)
	posID, err := l.Open(ctx, longPos("a"))
	require.NoError(t, err)
	require.NoError(t, l.UpdateStop(ctx, posID, 2040))
	_, err = l.Close(ctx, posID, 2040, t0.Add(time.Hour), ExitStop)
	require.NoError(t, err)
	openID, err := l.Open(ctx, longPos("b"))
	require.NoError(t, err)
	require.NoError(t, l.Checkpoint(ctx, t0.Add(3*time.Hour)))

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	restored := newLedger(s2)
	st, err := restored.Load(ctx)
	require.NoError(t, err)

	want := l.Snapshot()
	assert.Equal(t, want.Balance, st.Balance)
	assert.Equal(t, want.InitialBalance, st.InitialBalance)
	assert.True(t, st.LastBar.Equal(t0.Add(3*time.Hour)))
	require.Len(t, st.Positions, len(want.Positions))
	for i := range want.Positions {
		w, g := want.Positions[i], st.Positions[i]
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, w.Side, g.Side)
		assert.Equal(t, w.Status, g.Status)
		assert.Equal(t, w.StopLoss, g.StopLoss)
		assert.Equal(t, w.InitialStop, g.InitialStop)
		assert.Equal(t, w.SessionRef, g.SessionRef)
		assert.True(t, w.OpenedAt.Equal(g.OpenedAt))
		assert.True(t, w.TradeEnd.Equal(g.TradeEnd))
	}
	require.Len(t, st.Trades, 1)
	assert.Equal(t, -50.0, st.Trades[0].PnL)
	assert.Equal(t, ExitStop, st.Trades[0].ExitReason)

	p, ok := restored.CurrentOpen("XAU_USD")
	require.True(t, ok)
	assert.Equal(t, openID, p.ID)

	_, ok, err = s2.Load(ctx, "EUR_USD")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestSQLite(t)

	st := State{
		Instrument: "XAU_USD",
		Balance:    10100,
		Trades: []Trade{
			{PositionID: "P1", Instrument: "XAU_USD", Side: market.Long, EntryPrice: 2050, ExitPrice: 2070,
				Size: 0.05, PnL: 100, Risk: 100, OpenedAt: t0, ClosedAt: t0.Add(time.Hour), ExitReason: ExitTarget},
			{PositionID: "P2", Instrument: "XAU_USD", Side: market.Short, EntryPrice: 2030, ExitPrice: 2030,
				Size: 0.05, PnL: 0, Risk: 100, OpenedAt: t0.Add(24 * time.Hour), ClosedAt: t0.Add(30 * time.Hour), ExitReason: ExitSessionTimeout},
		},
	}
	require.NoError(t, s.Save(ctx, st))

	tr, err := s.GetTrade(ctx, "P2")
	require.NoError(t, err)
	assert.Equal(t, market.Short, tr.Side)
	assert.Equal(t, ExitSessionTimeout, tr.ExitReason)
	assert.True(t, tr.ClosedAt.Equal(t0.Add(30*time.Hour)))

	_, err = s.GetTrade(ctx, "nope")
	assert.Error(t, err)

	got, err := s.ListTradesClosedBetween(ctx, t0, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "P1", got[0].PositionID)

	all, err := s.ListTrades(ctx, "XAU_USD")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Saving the same state again does not duplicate trades.
	require.NoError(t, s.Save(ctx, st))
	all, err = s.ListTrades(ctx, "XAU_USD")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteSaveRollsBackOnError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_state").
		WithArgs("XAU_USD", 10000.0, 9900.0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO positions").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	s := NewSQLiteStoreDB(db)
	st := State{
		Instrument:     "XAU_USD",
		InitialBalance: 10000,
		Balance:        9900,
		Positions:      []Position{longPos("a")},
	}
	err = s.Save(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteSaveBeginFails(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	err = NewSQLiteStoreDB(db).Save(context.Background(), State{Instrument: "XAU_USD"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteLedgerKeepsMemoryOnCommitFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO positions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	l := newLedger(NewSQLiteStoreDB(db))
	_, err = l.Open(context.Background(), longPos("a"))
	require.Error(t, err)

	_, ok := l.CurrentOpen("XAU_USD")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
