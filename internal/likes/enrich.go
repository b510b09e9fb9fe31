// Package likes owns the three like ledgers and the viewer-relative
// hasLiked enrichment computed from them.
package likes

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// HasLikedField is added to enriched documents.
const HasLikedField = "hasLiked"

// Lookup answers which of ids the viewer has liked, in one ledger query.
type Lookup interface {
	LikedTargets(ctx context.Context, viewerID string, ids []string) (map[string]bool, error)
}

// Enrich marks each item with whether viewerID has liked it. It performs
// exactly one lookup for the whole list and none for an empty list. Order
// and length of items are preserved.
func Enrich[T any](ctx context.Context, lookup Lookup, viewerID string, items []T,
	idOf func(T) string, mark func(T, bool) T) ([]T, error) {
	if len(items) == 0 {
		return items, nil
	}

	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if id := idOf(item); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	liked, err := lookup.LikedTargets(ctx, viewerID, ids)
	if err != nil {
		return nil, err
	}

	out := make([]T, len(items))
	for i, item := range items {
		out[i] = mark(item, liked[idOf(item)])
	}
	return out, nil
}

// EnrichDocuments sets hasLiked on stored documents keyed by _id.
func EnrichDocuments(ctx context.Context, lookup Lookup, viewerID string, docs []bson.M) ([]bson.M, error) {
	return Enrich(ctx, lookup, viewerID, docs,
		func(d bson.M) string {
			id, _ := d["_id"].(string)
			return id
		},
		func(d bson.M, liked bool) bson.M {
			d[HasLikedField] = liked
			return d
		})
}
