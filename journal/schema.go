package journal

const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_positions (
	snapshot_id INTEGER NOT NULL REFERENCES snapshots(id),
	deal_id TEXT NOT NULL,
	epic TEXT NOT NULL,
	direction TEXT NOT NULL,
	size REAL NOT NULL,
	open_level REAL NOT NULL,
	opened_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_time ON snapshots(time);
CREATE INDEX IF NOT EXISTS idx_snapshot_positions_snapshot ON snapshot_positions(snapshot_id);
`
