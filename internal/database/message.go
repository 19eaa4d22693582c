package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oldtown/citadel/internal/models"
)

// InsertMessage persists a lobby chat message and fills in its id and time.
func InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	q := `
		INSERT INTO lobby_messages (id, user_id, message, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING created_at
	`
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, msg.ID, msg.UserID, msg.Message).Scan(&msg.Time)
	})
	if err != nil {
		return fmt.Errorf("failed to insert lobby message: %w", err)
	}
	return nil
}

// RecentMessages returns the latest lobby messages ordered oldest first,
// ready to replay to a freshly connected client.
func RecentMessages(ctx context.Context, limit int) ([]models.Message, error) {
	q := `
	SELECT m.id, m.user_id, u.username, u.avatar, u.role, m.message, m.created_at
	FROM lobby_messages m
	JOIN users u ON u.id = m.user_id
	ORDER BY m.created_at DESC
	LIMIT $1
	`
	rows, err := DB.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Username, &m.Avatar, &m.Role, &m.Message, &m.Time); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
