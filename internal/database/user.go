package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oldtown/citadel/internal/auth"
	"github.com/oldtown/citadel/internal/models"
)

// CreateUser inserts a new account, hashing the cleartext password first.
func CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}
	if user.Role == "" {
		user.Role = "user"
	}

	hash, err := auth.CreateHash(user.Password, auth.Params)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = hash

	q := `INSERT INTO users (id, username, password, role, avatar, registered)
	      VALUES ($1, $2, $3, $4, $5, NOW())`

	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, user.ID, user.Username, user.Password, user.Role, user.Avatar)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByUsername fetches a user plus their block list. The password hash
// comes back too so login can verify it; callers pushing the user to
// clients must use the Summary projection.
func GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, username, password, role, avatar, registered
	FROM users
	WHERE username=$1
	`
	err := DB.QueryRow(ctx, q, username).Scan(
		&u.ID, &u.Username, &u.Password, &u.Role, &u.Avatar, &u.Registered,
	)
	if err != nil {
		return nil, err
	}

	u.BlockList, err = loadBlockList(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load block list for %s: %w", username, err)
	}
	return &u, nil
}
