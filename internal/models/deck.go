package models

import "github.com/google/uuid"

// Deck is a user's deck as fetched from the deck store. Once attached to a
// session it is treated as immutable.
type Deck struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"ownerId"`
	Name    string    `json:"name"`
	Faction string    `json:"faction"`

	// Cards maps card code to the number of copies in the deck.
	Cards map[string]int `json:"cards"`

	RestrictedListID string `json:"restrictedListId,omitempty"`
}

// Size returns the total card count across all codes.
func (d *Deck) Size() int {
	n := 0
	for _, qty := range d.Cards {
		n += qty
	}
	return n
}
