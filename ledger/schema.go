package ledger

const Schema = `
CREATE TABLE IF NOT EXISTS ledger_state (
	instrument TEXT PRIMARY KEY,
	initial_balance REAL NOT NULL,
	balance REAL NOT NULL,
	last_bar DATETIME
);

CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price REAL NOT NULL,
	size REAL NOT NULL,
	stop_loss REAL NOT NULL,
	initial_stop REAL NOT NULL,
	take_profit REAL NOT NULL,
	opened_at DATETIME NOT NULL,
	trade_end DATETIME NOT NULL,
	status TEXT NOT NULL,
	session_ref TEXT NOT NULL,
	intent_id TEXT NOT NULL,
	ticket TEXT NOT NULL,
	seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	position_id TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	size REAL NOT NULL,
	pnl REAL NOT NULL,
	risk REAL NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME NOT NULL,
	reason TEXT NOT NULL,
	session_ref TEXT NOT NULL,
	seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_instrument ON positions(instrument, seq);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);
`
