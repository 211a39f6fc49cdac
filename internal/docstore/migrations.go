package docstore

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	mailbox_id      TEXT NOT NULL,
	sequence        INTEGER NOT NULL,
	owner_id        TEXT NOT NULL,
	account         TEXT NOT NULL DEFAULT '',
	folder          TEXT NOT NULL DEFAULT 'Inbox',
	from_addr       TEXT NOT NULL DEFAULT '',
	to_addrs        TEXT NOT NULL DEFAULT '[]',
	subject         TEXT NOT NULL DEFAULT '',
	date            INTEGER NOT NULL,
	body            TEXT NOT NULL DEFAULT '',
	snippet         TEXT NOT NULL DEFAULT '',
	labels          TEXT NOT NULL DEFAULT '[]',
	suggested_reply TEXT NOT NULL DEFAULT '',
	flags           TEXT NOT NULL DEFAULT '[]',
	fetched_at      INTEGER NOT NULL,
	processed       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id, fetched_at);
CREATE INDEX IF NOT EXISTS idx_documents_mailbox_seq ON documents(mailbox_id, sequence);
CREATE INDEX IF NOT EXISTS idx_documents_processed ON documents(processed);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE documents ADD COLUMN message_id TEXT NOT NULL DEFAULT '';

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
