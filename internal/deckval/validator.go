// Package deckval evaluates deck legality against the card catalog and any
// active restricted lists. Validation is a pure function of its inputs: no
// hidden state, identical inputs always produce an identical Result.
package deckval

import (
	"fmt"
	"sort"

	"github.com/oldtown/citadel/internal/models"
)

// Status is the overall verdict of a validation run.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
)

// Result carries the verdict plus every rule failure, in rule order.
// It is attached to a deck for the lifetime of a session and never mutated.
type Result struct {
	Status Status   `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// Valid reports whether no rule failed.
func (r Result) Valid() bool {
	return r.Status == StatusValid
}

// input bundles everything a rule may inspect.
type input struct {
	deck    *models.Deck
	mode    models.GameMode
	catalog models.Catalog
	lists   []*models.RestrictedList
}

// A rule examines the deck and reports zero or more failure messages.
// Rules are independent: every rule runs even after earlier failures so the
// caller sees all problems at once.
type rule func(in *input) []string

// ruleSet is the fixed evaluation order. Extending validation means
// appending here, not subclassing anything.
var ruleSet = []rule{
	checkDeckSize,
	checkKnownCards,
	checkCardLimits,
	checkBannedCards,
	checkRestrictedGroups,
	checkLoyalty,
}

// Validate runs the full rule set over the deck and accumulates failures.
func Validate(deck *models.Deck, mode models.GameMode, catalog models.Catalog, lists []*models.RestrictedList) Result {
	in := &input{deck: deck, mode: mode, catalog: catalog, lists: lists}

	var errs []string
	for _, r := range ruleSet {
		errs = append(errs, r(in)...)
	}

	if len(errs) > 0 {
		return Result{Status: StatusInvalid, Errors: errs}
	}
	return Result{Status: StatusValid}
}

// sortedCodes returns the deck's card codes in a stable order so failure
// messages come out deterministically regardless of map iteration.
func sortedCodes(deck *models.Deck) []string {
	codes := make([]string, 0, len(deck.Cards))
	for code := range deck.Cards {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func checkDeckSize(in *input) []string {
	size := in.deck.Size()
	mode := in.mode

	if mode.RequiresExact() {
		if size != mode.MinDeckSize {
			return []string{fmt.Sprintf("deck must contain exactly %d cards, has %d", mode.MinDeckSize, size)}
		}
		return nil
	}

	var errs []string
	if size < mode.MinDeckSize {
		errs = append(errs, fmt.Sprintf("deck must contain at least %d cards, has %d", mode.MinDeckSize, size))
	}
	if mode.MaxDeckSize > 0 && size > mode.MaxDeckSize {
		errs = append(errs, fmt.Sprintf("deck must contain at most %d cards, has %d", mode.MaxDeckSize, size))
	}
	return errs
}

func checkKnownCards(in *input) []string {
	var errs []string
	for _, code := range sortedCodes(in.deck) {
		if _, ok := in.catalog[code]; !ok {
			errs = append(errs, fmt.Sprintf("unknown card: %s", code))
		}
	}
	return errs
}

func checkCardLimits(in *input) []string {
	var errs []string
	for _, code := range sortedCodes(in.deck) {
		card, ok := in.catalog[code]
		if !ok {
			continue // reported by checkKnownCards
		}
		limit := card.MaxPerDeck
		if limit <= 0 {
			limit = 3
		}
		if qty := in.deck.Cards[code]; qty > limit {
			errs = append(errs, fmt.Sprintf("too many copies of %s: %d (limit %d)", card.Name, qty, limit))
		}
	}
	return errs
}

func checkBannedCards(in *input) []string {
	var errs []string
	for _, list := range in.lists {
		for _, code := range sortedCodes(in.deck) {
			if !list.IsBanned(code) {
				continue
			}
			name := code
			if card, ok := in.catalog[code]; ok {
				name = card.Name
			}
			errs = append(errs, fmt.Sprintf("%s is banned on %s", name, list.Name))
		}
	}
	return errs
}

func checkRestrictedGroups(in *input) []string {
	var errs []string
	for _, list := range in.lists {
		for _, group := range list.Restricted {
			total := 0
			for _, code := range group.Cards {
				total += in.deck.Cards[code]
			}
			if total > group.Limit {
				errs = append(errs, fmt.Sprintf("at most %d copies from restricted group %s on %s, deck runs %d",
					group.Limit, group.Name, list.Name, total))
			}
		}
	}
	return errs
}

// allied factions may share loyal cards.
var alliedFactions = map[string][]string{
	"stark":     {"tully"},
	"tully":     {"stark"},
	"lannister": {"frey"},
	"frey":      {"lannister"},
}

func checkLoyalty(in *input) []string {
	var errs []string
	for _, code := range sortedCodes(in.deck) {
		card, ok := in.catalog[code]
		if !ok || !card.Loyal {
			continue
		}
		if card.Faction == "neutral" || card.Faction == in.deck.Faction {
			continue
		}
		if isAllied(in.deck.Faction, card.Faction) {
			continue
		}
		errs = append(errs, fmt.Sprintf("%s is loyal to %s and cannot be played in a %s deck",
			card.Name, card.Faction, in.deck.Faction))
	}
	return errs
}

func isAllied(deckFaction, cardFaction string) bool {
	for _, f := range alliedFactions[deckFaction] {
		if f == cardFaction {
			return true
		}
	}
	return false
}
