// Package cache holds single documents keyed by "<collection>:<id>".
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

type Cache interface {
	// Get reports a miss with ok == false and a nil error.
	Get(ctx context.Context, key string) (doc bson.M, ok bool, err error)
	Set(ctx context.Context, key string, doc bson.M) error
	Delete(ctx context.Context, keys ...string) error
}

// Key builds the cache key of one document.
func Key(collection, id string) string {
	return fmt.Sprintf("%s:%s", collection, id)
}

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (bson.M, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		// a corrupt entry is a miss; drop it so the next read repopulates
		_ = r.client.Del(ctx, key).Err()
		return nil, false, nil
	}
	return doc, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, doc bson.M) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, raw, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (bson.M, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, bson.M) error { return nil }
func (Noop) Delete(context.Context, ...string) error { return nil }
