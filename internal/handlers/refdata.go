package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/oldtown/citadel/internal/database"
	"github.com/oldtown/citadel/internal/models"
)

// RefData caches the card catalog and restricted lists so deck validation
// does not hit the card store on every selection. Both are slow-moving
// reference data; a short TTL keeps them fresh enough.
type RefData struct {
	mu        sync.Mutex
	ttl       time.Duration
	fetchedAt time.Time
	catalog   models.Catalog
	lists     []*models.RestrictedList
}

// NewRefData returns a cache that refetches after ttl.
func NewRefData(ttl time.Duration) *RefData {
	return &RefData{ttl: ttl}
}

// Get returns the catalog and restricted lists, refreshing from the
// database when the cache is stale. A fetch failure with warm data falls
// back to the stale copy.
func (r *RefData) Get(ctx context.Context) (models.Catalog, []*models.RestrictedList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.catalog != nil && time.Since(r.fetchedAt) < r.ttl {
		return r.catalog, r.lists, nil
	}

	catalog, err := database.GetAllCards(ctx)
	if err != nil {
		if r.catalog != nil {
			return r.catalog, r.lists, nil
		}
		return nil, nil, err
	}
	lists, err := database.GetRestrictedLists(ctx)
	if err != nil {
		if r.catalog != nil {
			return r.catalog, r.lists, nil
		}
		return nil, nil, err
	}

	r.catalog = catalog
	r.lists = lists
	r.fetchedAt = time.Now()
	return r.catalog, r.lists, nil
}

// ListsFor resolves the restricted lists a session validates against: the
// session's configured list when set, otherwise the first known list, and
// nothing when no lists exist at all.
func ListsFor(lists []*models.RestrictedList, restrictedListID string) []*models.RestrictedList {
	if restrictedListID != "" {
		for _, rl := range lists {
			if rl.ID == restrictedListID {
				return []*models.RestrictedList{rl}
			}
		}
	}
	if len(lists) > 0 {
		return lists[:1]
	}
	return nil
}
