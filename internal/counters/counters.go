// Package counters keeps the denormalized integer fields on parent documents
// in step with their ledgers. Counters are advisory: the ledger rows are the
// source of truth and Reconciler recomputes every counter from them.
package counters

import (
	"context"
	"log/slog"

	"qalam/internal/cache"
	"qalam/internal/database"
)

// Counter adjusts one integer field on documents of one collection.
type Counter struct {
	Store  database.Store
	Field  string
	Cache  cache.Cache
	Logger *slog.Logger
}

func New(store database.Store, field string, c cache.Cache, logger *slog.Logger) *Counter {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{Store: store, Field: field, Cache: c, Logger: logger}
}

// Adjust applies a single $inc of delta to the document with the given id and
// drops its cached copy.
func (c *Counter) Adjust(ctx context.Context, id string, delta int) error {
	if err := c.Store.Increment(ctx, id, c.Field, delta); err != nil {
		return err
	}
	if err := c.Cache.Delete(ctx, cache.Key(c.Store.Name(), id)); err != nil {
		c.Logger.Warn("cache invalidation failed", "collection", c.Store.Name(), "id", id, "error", err)
	}
	return nil
}

// Set bundles the counters touched by ledger mutations.
type Set struct {
	PostLikes      *Counter
	PostComments   *Counter
	CommentLikes   *Counter
	CommentReplies *Counter
	ReplyLikes     *Counter
	UserFollowers  *Counter
	UserFollowing  *Counter
	UserPosts      *Counter
}

func NewSet(stores database.Stores, c cache.Cache, logger *slog.Logger) Set {
	return Set{
		PostLikes:      New(stores.Posts, "likes", c, logger),
		PostComments:   New(stores.Posts, "comments", c, logger),
		CommentLikes:   New(stores.Comments, "likes", c, logger),
		CommentReplies: New(stores.Comments, "replyCount", c, logger),
		ReplyLikes:     New(stores.Replies, "likes", c, logger),
		UserFollowers:  New(stores.Users, "followers", c, logger),
		UserFollowing:  New(stores.Users, "following", c, logger),
		UserPosts:      New(stores.Users, "posts", c, logger),
	}
}
