package local

// Schema for the local message store. Receipt sets are stored as JSON
// arrays; they only ever grow.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	correlation_id TEXT,
	room_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	sender_name TEXT,
	sender_avatar TEXT,
	body TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'text',
	created_at_ms INTEGER NOT NULL,
	delivered_to TEXT NOT NULL DEFAULT '[]',
	read_by TEXT NOT NULL DEFAULT '[]',
	reply_to TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room_id, created_at_ms);

CREATE TABLE IF NOT EXISTS blocks (
	blocker_id TEXT NOT NULL,
	blocked_id TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	PRIMARY KEY (blocker_id, blocked_id)
);
`
