package store

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS relationships (
	venue TEXT NOT NULL,
	tag INTEGER NOT NULL,
	kind TEXT NOT NULL,
	state TEXT NOT NULL,
	target_ticket INTEGER NOT NULL,
	missing_runs INTEGER NOT NULL DEFAULT 0,
	volume REAL NOT NULL,
	price REAL NOT NULL,
	stop_loss REAL NOT NULL,
	take_profit REAL NOT NULL,
	expiry DATETIME NOT NULL,
	last_run_id TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (venue, tag)
);

CREATE INDEX IF NOT EXISTS idx_relationships_venue ON relationships(venue);
`
