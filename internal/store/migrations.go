package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accounts (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	email          TEXT NOT NULL,
	host           TEXT NOT NULL,
	port           INTEGER NOT NULL DEFAULT 993,
	auth           TEXT NOT NULL DEFAULT 'xoauth2' CHECK(auth IN ('xoauth2', 'plain')),
	credential_key TEXT NOT NULL DEFAULT '',
	enabled        INTEGER NOT NULL DEFAULT 1 CHECK(enabled IN (0, 1)),
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	uid         INTEGER NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	sender      TEXT NOT NULL DEFAULT '',
	sender_name TEXT NOT NULL DEFAULT '',
	recipient   TEXT NOT NULL DEFAULT '',
	date        DATETIME NOT NULL,
	received_at DATETIME NOT NULL,
	preview     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT 'Inbox' CHECK(category IN (
		'Inbox', 'Sent', 'Interested', 'Meeting Booked',
		'Not Interested', 'Spam', 'Out of Office'
	)),
	folder      TEXT NOT NULL DEFAULT 'Inbox',
	read        INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(account_id, uid)
);

CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_user_date ON messages(user_id, date);
CREATE INDEX IF NOT EXISTS idx_messages_category ON messages(category);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_messages_account_received
	ON messages(account_id, received_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
