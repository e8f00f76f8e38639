// Package store persists wallet daemon state in SQLite
package store

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"

	"walletd/pkg/retry"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_snapshot (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	item_count INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS proofs (
	secret    TEXT PRIMARY KEY,
	mint_url  TEXT NOT NULL,
	keyset_id TEXT NOT NULL,
	amount    INTEGER NOT NULL,
	c         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proofs_mint ON proofs (mint_url);

CREATE TABLE IF NOT EXISTS pending_quotes (
	quote_id    TEXT PRIMARY KEY,
	mint_url    TEXT NOT NULL,
	amount_sats INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// SQLiteStore implements the settings, conversation, proof and pending-quote
// stores on a single database file.
type SQLiteStore struct {
	db     *sql.DB
	policy retry.RetryPolicy
}

// NewSQLiteStore opens dbPath, enables WAL and applies the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=2000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, policy: retry.DefaultPolicy}, nil
}

// Ping reports whether the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a serializable transaction, retrying while the database is busy
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retry.Do(ctx, s.policy, isBusy, func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func checksum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func verifyChecksum(data, stored []byte) error {
	computed := checksum(data)
	if len(stored) != len(computed) {
		return fmt.Errorf("checksum length mismatch: expected %d, got %d", len(computed), len(stored))
	}
	if subtle.ConstantTimeCompare(stored, computed) != 1 {
		return fmt.Errorf("checksum verification failed: data corruption detected")
	}
	return nil
}
