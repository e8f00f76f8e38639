package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"walletd/internal/core"
)

// SaveConversations replaces the stored snapshot with conversations in one row write
func (s *SQLiteStore) SaveConversations(ctx context.Context, conversations []core.Conversation) error {
	if conversations == nil {
		conversations = []core.Conversation{}
	}
	data, err := json.Marshal(conversations)
	if err != nil {
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO conversation_snapshot (id, data, checksum, item_count, updated_at) VALUES (1, ?, ?, ?, ?)`,
			string(data), checksum(data), len(conversations), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to write conversation snapshot: %w", err)
		}
		return nil
	})
}

// LoadConversations returns the last stored snapshot, or nil when none exists
func (s *SQLiteStore) LoadConversations(ctx context.Context) ([]core.Conversation, error) {
	var data string
	var stored []byte
	err := s.db.QueryRowContext(ctx, `SELECT data, checksum FROM conversation_snapshot WHERE id = 1`).Scan(&data, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation snapshot: %w", err)
	}

	if err := verifyChecksum([]byte(data), stored); err != nil {
		return nil, err
	}

	var conversations []core.Conversation
	if err := json.Unmarshal([]byte(data), &conversations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversations: %w", err)
	}
	return conversations, nil
}
