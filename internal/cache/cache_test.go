package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "posts:abc", Key("posts", "abc"))
}

func TestNoopAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var c Cache = Noop{}
	require.NoError(t, c.Set(ctx, "posts:1", bson.M{"_id": "1"}))
	_, ok, err := c.Get(ctx, "posts:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := NewRedis(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	key := Key("posts", uuid.NewString())
	require.NoError(t, c.Set(ctx, key, bson.M{"_id": "p1", "title": "Alif"}))

	doc, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alif", doc["title"])

	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
