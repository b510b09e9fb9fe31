package database

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/models"
	"qalam/internal/query"
	"qalam/internal/utils"
)

// Store is one document collection. Documents are exchanged as bson.M so the
// query shaper's projections survive the round trip unchanged.
type Store interface {
	Name() string
	// Find returns matching documents. A zero Limit means no limit.
	Find(ctx context.Context, q query.Query) ([]bson.M, error)
	// FindOne returns a NotFound AppError when nothing matches.
	FindOne(ctx context.Context, filter, projection bson.M) (bson.M, error)
	Count(ctx context.Context, filter bson.M) (int64, error)
	// CountBy groups every document by field and counts each group.
	CountBy(ctx context.Context, field string) (map[string]int64, error)
	// Insert returns a Duplicate AppError when a unique index rejects doc.
	Insert(ctx context.Context, doc any) error
	// UpdateOne applies $set, $inc, $addToSet or $pull and returns the updated document.
	UpdateOne(ctx context.Context, filter, update bson.M) (bson.M, error)
	// DeleteOne removes and returns the first matching document.
	DeleteOne(ctx context.Context, filter bson.M) (bson.M, error)
	// Increment adds delta to an integer field of the document with the given id.
	// Decrements never take the field below zero.
	Increment(ctx context.Context, id, field string, delta int) error
}

// Stores bundles every collection the API reads or writes.
type Stores struct {
	Users        Store
	Posts        Store
	Comments     Store
	Replies      Store
	Categories   Store
	PostLikes    Store
	CommentLikes Store
	ReplyLikes   Store
	Follows      Store
}

type collectionSpec struct {
	name   string
	label  string
	unique [][]string
	lookup []string
}

var collectionSpecs = []collectionSpec{
	{name: models.UsersCollection, label: "user", unique: [][]string{{"username"}, {"email"}}},
	{name: models.PostsCollection, label: "post", lookup: []string{"userId"}},
	{name: models.CommentsCollection, label: "comment", lookup: []string{"postId"}},
	{name: models.RepliesCollection, label: "reply", lookup: []string{"commentId"}},
	{name: models.CategoriesCollection, label: "category", unique: [][]string{{"name"}}},
	{name: models.PostLikesCollection, label: "like", unique: [][]string{{"userId", "targetId"}}},
	{name: models.CommentLikesCollection, label: "like", unique: [][]string{{"userId", "targetId"}}},
	{name: models.ReplyLikesCollection, label: "like", unique: [][]string{{"userId", "targetId"}}},
	{name: models.FollowsCollection, label: "follow", unique: [][]string{{"followerId", "followingId"}}},
}

func buildStores(open func(collectionSpec) Store) Stores {
	byName := make(map[string]Store, len(collectionSpecs))
	for _, spec := range collectionSpecs {
		byName[spec.name] = open(spec)
	}
	return Stores{
		Users:        byName[models.UsersCollection],
		Posts:        byName[models.PostsCollection],
		Comments:     byName[models.CommentsCollection],
		Replies:      byName[models.RepliesCollection],
		Categories:   byName[models.CategoriesCollection],
		PostLikes:    byName[models.PostLikesCollection],
		CommentLikes: byName[models.CommentLikesCollection],
		ReplyLikes:   byName[models.ReplyLikesCollection],
		Follows:      byName[models.FollowsCollection],
	}
}

// ByName resolves a collection name to its store.
func (s Stores) ByName(name string) (Store, bool) {
	for _, st := range []Store{s.Users, s.Posts, s.Comments, s.Replies, s.Categories,
		s.PostLikes, s.CommentLikes, s.ReplyLikes, s.Follows} {
		if st != nil && st.Name() == name {
			return st, true
		}
	}
	return nil, false
}

var quotedValue = regexp.MustCompile(`"([^"]*)"`)

// duplicateError turns a unique-index violation into the client-facing message.
func duplicateError(origin error, value string) *utils.AppError {
	if value == "" && origin != nil {
		if m := quotedValue.FindStringSubmatch(origin.Error()); m != nil {
			value = m[1]
		}
	}
	return utils.NewDuplicateError(
		fmt.Sprintf("Duplicate field value: %q. Please use another value!", value), origin)
}

// Encode converts a model value into the document form the stores hold.
func Encode(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to encode document", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode document", err)
	}
	return m, nil
}

// Decode converts a stored document into a model value.
func Decode(doc bson.M, out any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to encode document", err)
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to decode document", err)
	}
	return nil
}
