package storage

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Schema versions are tracked with the user_version pragma. Every migration
// step brings the database from version n to n+1 and runs inside the
// caller's transaction.
var migrations = []string{
	`
CREATE TABLE books (
	id          TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	authors     TEXT NOT NULL DEFAULT '',
	language    TEXT NOT NULL DEFAULT '',
	identifier  TEXT NOT NULL DEFAULT '',
	spine_count INTEGER NOT NULL DEFAULT 0,
	thumbnail   BLOB,
	added_at    INTEGER NOT NULL,
	opened_at   INTEGER NOT NULL
);

CREATE TABLE progress (
	book_id        TEXT PRIMARY KEY REFERENCES books(id) ON DELETE CASCADE,
	section_index  INTEGER NOT NULL,
	paragraph_hash TEXT NOT NULL DEFAULT '',
	offset_px      INTEGER NOT NULL DEFAULT 0,
	percent        REAL NOT NULL DEFAULT 0,
	updated_at     INTEGER NOT NULL
);

CREATE TABLE translations (
	key             TEXT PRIMARY KEY,
	book_id         TEXT NOT NULL,
	hash            TEXT NOT NULL,
	original_text   TEXT NOT NULL DEFAULT '',
	translated_text TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	updated_at      INTEGER NOT NULL
);
CREATE INDEX translations_book ON translations(book_id);

CREATE TABLE notes (
	key        TEXT PRIMARY KEY,
	book_id    TEXT NOT NULL,
	hash       TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	height     INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX notes_book ON notes(book_id);

CREATE TABLE bookmark_groups (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	ord   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE bookmarks (
	key        TEXT PRIMARY KEY,
	book_id    TEXT NOT NULL,
	hash       TEXT NOT NULL,
	group_id   TEXT NOT NULL REFERENCES bookmark_groups(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX bookmarks_book ON bookmarks(book_id);
CREATE INDEX bookmarks_group ON bookmarks(group_id);

CREATE TABLE chat_threads (
	key        TEXT PRIMARY KEY,
	book_id    TEXT NOT NULL,
	hash       TEXT NOT NULL,
	messages   INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
CREATE INDEX chat_threads_book ON chat_threads(book_id);

CREATE TABLE settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`,
}

func schemaVersion(conn *sqlite.Conn) (int, error) {
	var version int
	err := sqlitex.Execute(conn, `PRAGMA user_version`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		}})
	return version, err
}

// migrate brings the database schema to the current version.
func migrate(conn *sqlite.Conn) (err error) {
	defer sqlitex.Save(conn)(&err)

	version, err := schemaVersion(conn)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, len(migrations))
	}
	for ; version < len(migrations); version++ {
		if err := sqlitex.ExecuteScript(conn, migrations[version], nil); err != nil {
			return fmt.Errorf("apply schema migration %d: %w", version+1, err)
		}
		if err := sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version = %d", version+1), nil); err != nil {
			return fmt.Errorf("store schema version %d: %w", version+1, err)
		}
	}
	return nil
}
