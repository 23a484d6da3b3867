package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the daemon's durable journal (journal.db): the send outbox and the
// deletes that still have to reach the remote service. Conversation state
// itself lives in memory and is rebuilt from snapshots.
type DB struct {
	*sql.DB
	path string
}

// journalPragmas are applied on every connection go-sqlite3 opens.
var journalPragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// Open connects to the journal at path, creating the file if needed.
// Callers run Migrate before using it.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", "file:"+path+"?"+journalPragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// Path is the file the journal was opened from.
func (db *DB) Path() string { return db.path }
