package database

import (
	"context"

	"github.com/oldtown/citadel/internal/models"
)

// GetAllCards loads the full card catalog.
func GetAllCards(ctx context.Context) (models.Catalog, error) {
	q := `SELECT code, name, faction, loyal, max_per_deck FROM cards`
	rows, err := DB.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	catalog := make(models.Catalog)
	for rows.Next() {
		var c models.Card
		if err := rows.Scan(&c.Code, &c.Name, &c.Faction, &c.Loyal, &c.MaxPerDeck); err != nil {
			return nil, err
		}
		catalog[c.Code] = &c
	}
	return catalog, rows.Err()
}

// GetRestrictedLists loads every restricted list with its banned cards and
// restricted groups.
func GetRestrictedLists(ctx context.Context) ([]*models.RestrictedList, error) {
	rows, err := DB.Query(ctx, `SELECT id, name FROM restricted_lists ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []*models.RestrictedList
	byID := make(map[string]*models.RestrictedList)
	for rows.Next() {
		var rl models.RestrictedList
		if err := rows.Scan(&rl.ID, &rl.Name); err != nil {
			return nil, err
		}
		lists = append(lists, &rl)
		byID[rl.ID] = &rl
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	bannedRows, err := DB.Query(ctx, `SELECT list_id, card_code FROM restricted_list_banned`)
	if err != nil {
		return nil, err
	}
	defer bannedRows.Close()
	for bannedRows.Next() {
		var listID, code string
		if err := bannedRows.Scan(&listID, &code); err != nil {
			return nil, err
		}
		if rl, ok := byID[listID]; ok {
			rl.Banned = append(rl.Banned, code)
		}
	}
	if err := bannedRows.Err(); err != nil {
		return nil, err
	}

	groupRows, err := DB.Query(ctx, `
		SELECT list_id, group_name, card_code, group_limit
		FROM restricted_list_groups
		ORDER BY list_id, group_name
	`)
	if err != nil {
		return nil, err
	}
	defer groupRows.Close()
	for groupRows.Next() {
		var listID, group, code string
		var limit int
		if err := groupRows.Scan(&listID, &group, &code, &limit); err != nil {
			return nil, err
		}
		rl, ok := byID[listID]
		if !ok {
			continue
		}
		idx := -1
		for i := range rl.Restricted {
			if rl.Restricted[i].Name == group {
				idx = i
				break
			}
		}
		if idx == -1 {
			rl.Restricted = append(rl.Restricted, models.RestrictedGroup{Name: group, Limit: limit})
			idx = len(rl.Restricted) - 1
		}
		rl.Restricted[idx].Cards = append(rl.Restricted[idx].Cards, code)
	}
	return lists, groupRows.Err()
}
