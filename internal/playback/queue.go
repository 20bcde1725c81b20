package playback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/locolive/ephemeral/internal/domain"
)

const seenLookupConcurrency = 8

// BuildQueue orders a session snapshot: the viewer's own content first, then
// owners with unseen content by their most recent unseen item, then owners the
// viewer has fully seen by their most recent item. Items of one owner stay
// chronological. The returned items are copies.
func BuildQueue(viewerID uuid.UUID, items []*domain.ContentItem, seen map[uuid.UUID]bool) []*domain.ContentItem {
	type group struct {
		owner     uuid.UUID
		items     []*domain.ContentItem
		latest    time.Time
		latestNew time.Time
		hasUnseen bool
	}

	groups := make(map[uuid.UUID]*group)
	var order []*group
	for _, item := range items {
		g, ok := groups[item.OwnerID]
		if !ok {
			g = &group{owner: item.OwnerID}
			groups[item.OwnerID] = g
			order = append(order, g)
		}
		copied := *item
		g.items = append(g.items, &copied)
		if item.CreatedAt.After(g.latest) {
			g.latest = item.CreatedAt
		}
		if !seen[item.ID] {
			g.hasUnseen = true
			if item.CreatedAt.After(g.latestNew) {
				g.latestNew = item.CreatedAt
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if (a.owner == viewerID) != (b.owner == viewerID) {
			return a.owner == viewerID
		}
		if a.hasUnseen != b.hasUnseen {
			return a.hasUnseen
		}
		ka, kb := a.latest, b.latest
		if a.hasUnseen {
			ka, kb = a.latestNew, b.latestNew
		}
		if !ka.Equal(kb) {
			return ka.After(kb)
		}
		return a.owner.String() < b.owner.String()
	})

	queue := make([]*domain.ContentItem, 0, len(items))
	for _, g := range order {
		sort.SliceStable(g.items, func(i, j int) bool {
			return g.items[i].CreatedAt.Before(g.items[j].CreatedAt)
		})
		queue = append(queue, g.items...)
	}
	return queue
}

// LoadQueue lists what the viewer may currently see from ownerIDs and orders it
// with BuildQueue. Seen lookups for other owners' items run concurrently.
func LoadQueue(ctx context.Context, src ContentSource, viewerID uuid.UUID, ownerIDs []uuid.UUID) ([]*domain.ContentItem, error) {
	items, err := src.ListActive(ctx, ownerIDs, "")
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seenLookupConcurrency)
	for _, item := range items {
		if item.OwnerID == viewerID {
			continue
		}
		id := item.ID
		g.Go(func() error {
			viewed, err := src.HasViewed(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			seen[id] = viewed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return BuildQueue(viewerID, items, seen), nil
}
