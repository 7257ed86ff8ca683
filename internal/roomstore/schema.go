// Package roomstore provides the SQLite-backed state a room shares across
// participants: the ownership entry and the last tree the owner published.
// Several processes may open the same database file; WAL and a busy
// timeout keep concurrent readers and the single writing owner out of each
// other's way.
package roomstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ownership (
	room_id      TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	owner_name   TEXT NOT NULL DEFAULT '',
	claimed_at   DATETIME NOT NULL,
	heartbeat_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS shared_trees (
	room_id    TEXT PRIMARY KEY,
	tree       TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL
);
`

// DB wraps a sql.DB with room-state operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the room database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("roomstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("roomstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("roomstore: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
