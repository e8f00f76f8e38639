package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"walletd/internal/core"
)

func (s *SQLiteStore) AddPendingQuote(ctx context.Context, q core.PendingQuote) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO pending_quotes (quote_id, mint_url, amount_sats, created_at) VALUES (?, ?, ?, ?)`,
			q.QuoteID, q.MintURL, q.AmountSats, q.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to record pending quote: %w", err)
		}
		return nil
	})
}

// ListPendingQuotes returns quotes oldest first
func (s *SQLiteStore) ListPendingQuotes(ctx context.Context) ([]core.PendingQuote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT quote_id, mint_url, amount_sats, created_at FROM pending_quotes ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending quotes: %w", err)
	}
	defer rows.Close()

	var out []core.PendingQuote
	for rows.Next() {
		var q core.PendingQuote
		var created int64
		if err := rows.Scan(&q.QuoteID, &q.MintURL, &q.AmountSats, &created); err != nil {
			return nil, fmt.Errorf("failed to scan pending quote: %w", err)
		}
		q.CreatedAt = time.Unix(0, created)
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RemovePendingQuote(ctx context.Context, quoteID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_quotes WHERE quote_id = ?`, quoteID); err != nil {
			return fmt.Errorf("failed to remove pending quote: %w", err)
		}
		return nil
	})
}
