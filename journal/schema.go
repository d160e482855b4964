package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	fill_price REAL NOT NULL,
	gross_amount REAL NOT NULL,
	cash_after REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id, timestamp);

CREATE TABLE IF NOT EXISTS snapshots (
	run_id TEXT NOT NULL,
	date DATETIME NOT NULL,
	cash REAL NOT NULL,
	positions_value REAL NOT NULL,
	total_value REAL NOT NULL,
	daily_return REAL NOT NULL,
	PRIMARY KEY (run_id, date)
);
`
