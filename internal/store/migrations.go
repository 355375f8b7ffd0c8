package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	stmts   []string
}

// migrations is the ordered list of schema migrations. Statements are kept to the
// subset shared by SQLite and PostgreSQL and are executed one at a time.
var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS email_account (
	email      TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS email_message (
	id            TEXT PRIMARY KEY,
	account_email TEXT NOT NULL REFERENCES email_account(email) ON DELETE CASCADE,
	uid           TEXT NOT NULL,
	subject       TEXT NOT NULL DEFAULT '',
	from_address  TEXT NOT NULL DEFAULT '',
	sent_at       TIMESTAMP NULL,
	received_at   TIMESTAMP NOT NULL,
	body          TEXT NOT NULL DEFAULT '',
	UNIQUE (account_email, uid)
)`,
			`CREATE TABLE IF NOT EXISTS attachment (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES email_message(id) ON DELETE CASCADE,
	filename   TEXT NOT NULL,
	location   TEXT NOT NULL,
	size       BIGINT NOT NULL DEFAULT 0,
	position   INTEGER NOT NULL DEFAULT 0
)`,
			`CREATE INDEX IF NOT EXISTS idx_email_message_account_uid ON email_message(account_email, uid)`,
			`CREATE INDEX IF NOT EXISTS idx_email_message_received_at ON email_message(received_at)`,
			`CREATE INDEX IF NOT EXISTS idx_attachment_message_id ON attachment(message_id)`,
		},
	},
}
