package db

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaoyuanzhu-com/my-chat-db/log"
)

var logger = log.GetLogger("DB")

// DB wraps the SQLite connection together with the blob-store capacity.
// It is created once by Open and passed by reference to every component
// that needs durable storage; there is no package-level singleton.
type DB struct {
	sql *sql.DB

	// capacityBytes is the hard budget for the local_store table. Writes
	// that would push the total stored size past it fail with
	// ErrCapacityExceeded.
	capacityBytes int64
}

// Open opens (or creates) the database at path, runs migrations, and
// returns a handle. capacityBytes bounds the local blob store.
func Open(path string, capacityBytes int64) (*DB, error) {
	if err := ensureDatabaseDirectory(path); err != nil {
		return nil, err
	}

	// WAL mode, foreign keys, and optimized settings
	dsn := path + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=-64000"

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Int64("capacityBytes", capacityBytes).Msg("database initialized")

	return &DB{sql: conn, capacityBytes: capacityBytes}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.sql.Close()
}

// CapacityBytes returns the configured blob-store capacity
func (d *DB) CapacityBytes() int64 {
	return d.capacityBytes
}

// ensureDatabaseDirectory creates the directory for the database file if it doesn't exist
func ensureDatabaseDirectory(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		logger.Info().Str("dir", dir).Msg("created database directory")
	}
	return nil
}

// Transaction executes a function within a database transaction
func (d *DB) Transaction(fn func(*sql.Tx) error) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
