// proof-of-human/database/schema.go
package database

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME
);
CREATE TABLE IF NOT EXISTS users (
	user_id INTEGER PRIMARY KEY,
	username TEXT DEFAULT '',
	name TEXT DEFAULT '',
	status INTEGER DEFAULT 0, -- 0 unverified, 1 verified
	first_seen_at TEXT,
	language TEXT DEFAULT ''
);
CREATE TABLE IF NOT EXISTS chats (
	chat_id INTEGER PRIMARY KEY,
	title TEXT DEFAULT '',
	captcha_enabled INTEGER DEFAULT 1,
	timeout_seconds INTEGER DEFAULT 30
);
CREATE TABLE IF NOT EXISTS challenges (
	user_id INTEGER NOT NULL,
	chat_id INTEGER NOT NULL,
	expires_at TEXT NOT NULL,
	payload TEXT NOT NULL,
	message_id INTEGER DEFAULT 0,
	correct_symbol TEXT DEFAULT '',
	user_message_id INTEGER DEFAULT 0,
	PRIMARY KEY (user_id, chat_id)
);

-- --- INDEXES ---
CREATE INDEX IF NOT EXISTS idx_challenges_expires ON challenges(expires_at);
CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);
`
