package counters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/database"
	"qalam/internal/models"
	"qalam/internal/utils"
)

type recordingCache struct {
	deleted []string
}

func (c *recordingCache) Get(context.Context, string) (bson.M, bool, error) { return nil, false, nil }
func (c *recordingCache) Set(context.Context, string, bson.M) error { return nil }
func (c *recordingCache) Delete(_ context.Context, keys ...string) error {
	c.deleted = append(c.deleted, keys...)
	return nil
}

func counterValue(t *testing.T, s database.Store, id, field string) int64 {
	t.Helper()
	doc, err := s.FindOne(context.Background(), bson.M{"_id": id}, nil)
	require.NoError(t, err)
	return asInt64(doc[field])
}

func TestCounterAdjustInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	stores := database.NewMemoryStores()
	require.NoError(t, stores.Posts.Insert(ctx, models.Post{ID: "p1", Photos: []string{"x"}}))

	rc := &recordingCache{}
	c := New(stores.Posts, "likes", rc, utils.DiscardLogger())

	require.NoError(t, c.Adjust(ctx, "p1", 1))
	require.NoError(t, c.Adjust(ctx, "p1", 1))
	require.NoError(t, c.Adjust(ctx, "p1", -1))

	assert.Equal(t, int64(1), counterValue(t, stores.Posts, "p1", "likes"))
	assert.Equal(t, []string{"posts:p1", "posts:p1", "posts:p1"}, rc.deleted)

	err := c.Adjust(ctx, "gone", 1)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func TestReconcilerRestoresLedgerCounts(t *testing.T) {
	ctx := context.Background()
	stores := database.NewMemoryStores()

	require.NoError(t, stores.Users.Insert(ctx, models.User{ID: "u1", Username: "a", Email: "a@x.test", Posts: 7}))
	require.NoError(t, stores.Users.Insert(ctx, models.User{ID: "u2", Username: "b", Email: "b@x.test", Followers: 3}))
	require.NoError(t, stores.Posts.Insert(ctx, models.Post{ID: "p1", UserID: "u1", Likes: 5}))
	require.NoError(t, stores.Posts.Insert(ctx, models.Post{ID: "p2", UserID: "u1"}))
	require.NoError(t, stores.Comments.Insert(ctx, models.Comment{ID: "c1", PostID: "p1", UserID: "u2"}))
	require.NoError(t, stores.PostLikes.Insert(ctx, models.LikeRecord{ID: "l1", UserID: "u2", TargetID: "p2"}))
	require.NoError(t, stores.Follows.Insert(ctx, models.FollowRecord{ID: "f1", FollowerID: "u1", FollowingID: "u2"}))

	rc := &recordingCache{}
	r := NewReconciler(stores, rc, utils.DiscardLogger())

	report, err := r.Run(ctx, ScopeAll)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Corrected)

	assert.Equal(t, int64(0), counterValue(t, stores.Posts, "p1", "likes"))
	assert.Equal(t, int64(1), counterValue(t, stores.Posts, "p2", "likes"))
	assert.Equal(t, int64(1), counterValue(t, stores.Posts, "p1", "comments"))
	assert.Equal(t, int64(2), counterValue(t, stores.Users, "u1", "posts"))
	assert.Equal(t, int64(1), counterValue(t, stores.Users, "u1", "following"))
	assert.Equal(t, int64(1), counterValue(t, stores.Users, "u2", "followers"))
	assert.Contains(t, rc.deleted, "posts:p1")

	again, err := r.Run(ctx, ScopeAll)
	require.NoError(t, err)
	assert.Empty(t, again.Corrected, "a second pass finds nothing to fix")
}

func TestReconcilerScopes(t *testing.T) {
	ctx := context.Background()
	stores := database.NewMemoryStores()
	require.NoError(t, stores.Users.Insert(ctx, models.User{ID: "u1", Username: "a", Email: "a@x.test", Posts: 4}))
	require.NoError(t, stores.Posts.Insert(ctx, models.Post{ID: "p1", UserID: "u1", Likes: 2}))

	r := NewReconciler(stores, nil, utils.DiscardLogger())
	assert.Equal(t, []string{"all", "posts", "comments", "replies", "users"}, r.Scopes())

	_, err := r.Run(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, int64(0), counterValue(t, stores.Posts, "p1", "likes"))
	assert.Equal(t, int64(4), counterValue(t, stores.Users, "u1", "posts"), "users are outside the posts scope")

	_, err = r.Run(ctx, "everything")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))
}
