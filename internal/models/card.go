package models

// Card is a single catalog entry. The catalog is read-only reference data
// fetched from the card store.
type Card struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Faction string `json:"faction"`

	// Loyal cards may only be included by decks of their own faction
	// (or an allied one). Non-loyal cards travel freely.
	Loyal bool `json:"loyal"`

	// MaxPerDeck is how many copies a single deck may run. Most cards
	// allow 3; some carry an explicit exception.
	MaxPerDeck int `json:"maxPerDeck"`
}

// Catalog indexes cards by code.
type Catalog map[string]*Card

// RestrictedList names a banned card set plus restricted groups with
// numeric inclusion limits. Read-only reference data.
type RestrictedList struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Banned []string `json:"banned"`

	// Restricted maps a group name to its member codes and the total
	// number of copies a deck may run across the whole group.
	Restricted []RestrictedGroup `json:"restricted"`
}

// RestrictedGroup is one limited pod within a restricted list.
type RestrictedGroup struct {
	Name  string   `json:"name"`
	Cards []string `json:"cards"`
	Limit int      `json:"limit"`
}

// IsBanned reports whether the list bans the given card code.
func (rl *RestrictedList) IsBanned(code string) bool {
	for _, b := range rl.Banned {
		if b == code {
			return true
		}
	}
	return false
}
