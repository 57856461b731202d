package journal

const schema = `
CREATE TABLE IF NOT EXISTS validations (
	time DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	decision TEXT NOT NULL,
	confidence REAL NOT NULL,
	size_pct REAL NOT NULL,
	leverage REAL NOT NULL,
	status TEXT NOT NULL,
	checks TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	leverage REAL NOT NULL,
	position_value REAL NOT NULL,
	stop_loss_pct REAL NOT NULL,
	opened_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS closes (
	position_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	trigger TEXT NOT NULL,
	realized_pnl REAL NOT NULL,
	closed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS breaker_events (
	time DATETIME NOT NULL,
	event TEXT NOT NULL,
	reason TEXT NOT NULL,
	daily_loss_pct REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validations_time ON validations(time);
CREATE INDEX IF NOT EXISTS idx_closes_closed_at ON closes(closed_at);
CREATE INDEX IF NOT EXISTS idx_breaker_events_time ON breaker_events(time);
`
