package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetSetting decodes the structure stored under key into dst.
// It reports false when the key has never been written.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string, dst interface{}) (bool, error) {
	var data string
	var stored []byte
	err := s.db.QueryRowContext(ctx, `SELECT data, checksum FROM settings WHERE key = ?`, key).Scan(&data, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read setting %q: %w", key, err)
	}

	if err := verifyChecksum([]byte(data), stored); err != nil {
		return false, fmt.Errorf("setting %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, fmt.Errorf("failed to decode setting %q: %w", key, err)
	}
	return true, nil
}

// PutSetting replaces the whole structure stored under key
func (s *SQLiteStore) PutSetting(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %q: %w", key, err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO settings (key, data, checksum, updated_at) VALUES (?, ?, ?, ?)`,
			key, string(data), checksum(data), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to write setting %q: %w", key, err)
		}
		return nil
	})
}
