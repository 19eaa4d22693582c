package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/oldtown/citadel/internal/models"
)

// GetDeckByID fetches a deck and its card quantities from the deck store.
// Decks are treated as immutable once fetched for a session.
func GetDeckByID(ctx context.Context, id uuid.UUID) (*models.Deck, error) {
	var d models.Deck
	q := `
	SELECT id, owner_id, name, faction, COALESCE(restricted_list_id, '')
	FROM decks
	WHERE id=$1
	`
	err := DB.QueryRow(ctx, q, id).Scan(&d.ID, &d.OwnerID, &d.Name, &d.Faction, &d.RestrictedListID)
	if err != nil {
		return nil, err
	}

	rows, err := DB.Query(ctx, `SELECT card_code, quantity FROM deck_cards WHERE deck_id=$1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load cards for deck %s: %w", id, err)
	}
	defer rows.Close()

	d.Cards = make(map[string]int)
	for rows.Next() {
		var code string
		var qty int
		if err := rows.Scan(&code, &qty); err != nil {
			return nil, err
		}
		d.Cards[code] = qty
	}
	return &d, rows.Err()
}
