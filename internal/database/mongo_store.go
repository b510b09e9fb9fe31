package database

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"qalam/internal/query"
	"qalam/internal/utils"
)

type mongoStore struct {
	coll  *mongo.Collection
	label string
}

func (s *mongoStore) Name() string { return s.coll.Name() }

func (s *mongoStore) Find(ctx context.Context, q query.Query) ([]bson.M, error) {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(q.Sort)
	}
	if len(q.Projection) > 0 {
		opts.SetProjection(q.Projection)
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cursor, err := s.coll.Find(ctx, nonNil(q.Filter), opts)
	if err != nil {
		return nil, s.wrap("find", err)
	}
	defer cursor.Close(ctx)

	docs := []bson.M{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, s.wrap("read cursor", err)
	}
	return docs, nil
}

func (s *mongoStore) FindOne(ctx context.Context, filter, projection bson.M) (bson.M, error) {
	opts := options.FindOne()
	if len(projection) > 0 {
		opts.SetProjection(projection)
	}
	var doc bson.M
	err := s.coll.FindOne(ctx, nonNil(filter), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewNotFoundError(s.label)
	}
	if err != nil {
		return nil, s.wrap("find one", err)
	}
	return doc, nil
}

func (s *mongoStore) Count(ctx context.Context, filter bson.M) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, nonNil(filter))
	if err != nil {
		return 0, s.wrap("count", err)
	}
	return n, nil
}

func (s *mongoStore) CountBy(ctx context.Context, field string) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, s.wrap("aggregate", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID any   `bson:"_id"`
		N  int64 `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, s.wrap("read cursor", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		if id, ok := row.ID.(string); ok {
			counts[id] = row.N
		}
	}
	return counts, nil
}

func (s *mongoStore) Insert(ctx context.Context, doc any) error {
	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return duplicateError(err, "")
	}
	if err != nil {
		return s.wrap("insert", err)
	}
	return nil
}

func (s *mongoStore) UpdateOne(ctx context.Context, filter, update bson.M) (bson.M, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc bson.M
	err := s.coll.FindOneAndUpdate(ctx, nonNil(filter), update, opts).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, utils.NewNotFoundError(s.label)
	case mongo.IsDuplicateKeyError(err):
		return nil, duplicateError(err, "")
	case err != nil:
		return nil, s.wrap("update", err)
	}
	return doc, nil
}

func (s *mongoStore) DeleteOne(ctx context.Context, filter bson.M) (bson.M, error) {
	var doc bson.M
	err := s.coll.FindOneAndDelete(ctx, nonNil(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewNotFoundError(s.label)
	}
	if err != nil {
		return nil, s.wrap("delete", err)
	}
	return doc, nil
}

func (s *mongoStore) Increment(ctx context.Context, id, field string, delta int) error {
	filter := bson.M{"_id": id}
	if delta < 0 {
		filter[field] = bson.M{"$gte": -delta}
	}
	result, err := s.coll.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{field: delta}})
	if err != nil {
		return s.wrap("increment", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}
	// either the document is gone or the counter is already at zero
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return s.wrap("count", err)
	}
	if n == 0 {
		return utils.NewNotFoundError(s.label)
	}
	return nil
}

func (s *mongoStore) wrap(op string, err error) error {
	return utils.NewAppError(utils.ErrDatabase, fmt.Sprintf("failed to %s %s", op, s.coll.Name()), err)
}

func nonNil(filter bson.M) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return filter
}
