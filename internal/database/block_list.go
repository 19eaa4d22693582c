package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// loadBlockList returns the user IDs the given user has blocked.
func loadBlockList(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	q := `SELECT blocked_id FROM block_list WHERE user_id=$1`
	rows, err := DB.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocked []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		blocked = append(blocked, id)
	}
	return blocked, rows.Err()
}

// AddBlockedUser records that userID blocks blockedID. Re-blocking is a
// no-op.
func AddBlockedUser(ctx context.Context, userID, blockedID uuid.UUID) error {
	q := `
		INSERT INTO block_list (user_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, blocked_id) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, userID, blockedID)
		return err
	})
}

// RemoveBlockedUser deletes a block list entry.
func RemoveBlockedUser(ctx context.Context, userID, blockedID uuid.UUID) error {
	q := `DELETE FROM block_list WHERE user_id=$1 AND blocked_id=$2`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, userID, blockedID)
		return err
	})
}
