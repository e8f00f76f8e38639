package store

import (
	"context"
	"database/sql"
	"fmt"

	"walletd/internal/core"
)

// LoadProofs returns every stored proof grouped by mint URL
func (s *SQLiteStore) LoadProofs(ctx context.Context) (map[string][]core.Proof, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT mint_url, keyset_id, amount, secret, c FROM proofs ORDER BY mint_url, amount`)
	if err != nil {
		return nil, fmt.Errorf("failed to query proofs: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]core.Proof)
	for rows.Next() {
		var mintURL string
		var p core.Proof
		if err := rows.Scan(&mintURL, &p.KeysetID, &p.Amount, &p.Secret, &p.C); err != nil {
			return nil, fmt.Errorf("failed to scan proof: %w", err)
		}
		out[mintURL] = append(out[mintURL], p)
	}
	return out, rows.Err()
}

// InsertProofs stores proofs for a mint. Proofs already present are ignored.
func (s *SQLiteStore) InsertProofs(ctx context.Context, mintURL string, proofs []core.Proof) error {
	if len(proofs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO proofs (secret, mint_url, keyset_id, amount, c) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare proof insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range proofs {
			if _, err := stmt.ExecContext(ctx, p.Secret, mintURL, p.KeysetID, p.Amount, p.C); err != nil {
				return fmt.Errorf("failed to insert proof: %w", err)
			}
		}
		return nil
	})
}

// DeleteProofs removes proofs by secret
func (s *SQLiteStore) DeleteProofs(ctx context.Context, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM proofs WHERE secret = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare proof delete: %w", err)
		}
		defer stmt.Close()

		for _, secret := range secrets {
			if _, err := stmt.ExecContext(ctx, secret); err != nil {
				return fmt.Errorf("failed to delete proof: %w", err)
			}
		}
		return nil
	})
}
