package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"qalam/internal/query"
	"qalam/internal/utils"
)

// NewMemoryStores returns empty in-memory collections with the same unique
// indexes as EnsureIndexes creates in MongoDB.
func NewMemoryStores() Stores {
	return buildStores(func(spec collectionSpec) Store {
		return NewMemoryStore(spec.name, spec.label, spec.unique...)
	})
}

// MemoryStore keeps documents in insertion order. Unique indexes are checked
// under the same lock as the write, so concurrent inserts cannot both win.
type MemoryStore struct {
	name   string
	label  string
	unique [][]string

	mu    sync.RWMutex
	order []string
	docs  map[string]bson.M
}

func NewMemoryStore(name, label string, unique ...[]string) *MemoryStore {
	return &MemoryStore{
		name:   name,
		label:  label,
		unique: unique,
		docs:   make(map[string]bson.M),
	}
}

func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) Find(ctx context.Context, q query.Query) ([]bson.M, error) {
	s.mu.RLock()
	var matched []bson.M
	for _, id := range s.order {
		if doc := s.docs[id]; matches(doc, q.Filter) {
			matched = append(matched, doc)
		}
	}
	s.mu.RUnlock()

	if len(q.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, key := range q.Sort {
				dir, _ := toNumber(key.Value)
				a, aok := lookup(matched[i], key.Key)
				b, bok := lookup(matched[j], key.Key)
				if !aok {
					a = nil
				}
				if !bok {
					b = nil
				}
				if c := compare(a, b); c != 0 {
					return (c < 0) == (dir >= 0)
				}
			}
			return false
		})
	}

	out := []bson.M{}
	for i, doc := range matched {
		if int64(i) < q.Skip {
			continue
		}
		if q.Limit > 0 && int64(len(out)) >= q.Limit {
			break
		}
		out = append(out, project(doc, q.Projection))
	}
	return out, nil
}

func (s *MemoryStore) FindOne(ctx context.Context, filter, projection bson.M) (bson.M, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, doc := s.first(filter); id != "" {
		return project(doc, projection), nil
	}
	return nil, utils.NewNotFoundError(s.label)
}

func (s *MemoryStore) Count(ctx context.Context, filter bson.M) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, doc := range s.docs {
		if matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountBy(ctx context.Context, field string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int64{}
	for _, doc := range s.docs {
		if v, ok := doc[field].(string); ok {
			counts[v]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) Insert(ctx context.Context, doc any) error {
	m, err := Encode(doc)
	if err != nil {
		return err
	}
	id, ok := m["_id"].(string)
	if !ok || id == "" {
		return utils.NewAppError(utils.ErrDatabase, fmt.Sprintf("document for %s has no string _id", s.name), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[id]; exists {
		return duplicateError(nil, id)
	}
	if err := s.checkUnique(m, ""); err != nil {
		return err
	}
	s.docs[id] = m
	s.order = append(s.order, id)
	return nil
}

func (s *MemoryStore) UpdateOne(ctx context.Context, filter, update bson.M) (bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, doc := s.first(filter)
	if id == "" {
		return nil, utils.NewNotFoundError(s.label)
	}
	next, err := applyUpdate(doc, update)
	if err != nil {
		return nil, err
	}
	if err := s.checkUnique(next, id); err != nil {
		return nil, err
	}
	s.docs[id] = next
	return cloneDoc(next), nil
}

func (s *MemoryStore) DeleteOne(ctx context.Context, filter bson.M) (bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, doc := s.first(filter)
	if id == "" {
		return nil, utils.NewNotFoundError(s.label)
	}
	delete(s.docs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return cloneDoc(doc), nil
}

func (s *MemoryStore) Increment(ctx context.Context, id, field string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return utils.NewNotFoundError(s.label)
	}
	current, _ := toNumber(doc[field])
	value := int64(current) + int64(delta)
	if value < 0 {
		return nil
	}
	next := cloneDoc(doc)
	next[field] = value
	s.docs[id] = next
	return nil
}

// first returns the first document in insertion order matching filter.
// Callers hold the lock.
func (s *MemoryStore) first(filter bson.M) (string, bson.M) {
	for _, id := range s.order {
		if doc := s.docs[id]; matches(doc, filter) {
			return id, doc
		}
	}
	return "", nil
}

func (s *MemoryStore) checkUnique(doc bson.M, selfID string) error {
	for _, fields := range s.unique {
		for id, other := range s.docs {
			if id == selfID {
				continue
			}
			same := true
			for _, f := range fields {
				if !equal(doc[f], other[f]) {
					same = false
					break
				}
			}
			if same {
				return duplicateError(nil, fmt.Sprint(doc[fields[len(fields)-1]]))
			}
		}
	}
	return nil
}

func applyUpdate(doc, update bson.M) (bson.M, error) {
	next := cloneDoc(doc)
	for op, arg := range update {
		fields, ok := arg.(bson.M)
		if !ok {
			return nil, utils.NewAppError(utils.ErrDatabase, fmt.Sprintf("update operator %s expects a document", op), nil)
		}
		for field, v := range fields {
			switch op {
			case "$set":
				normalized, err := toValue(v)
				if err != nil {
					return nil, err
				}
				next[field] = normalized
			case "$unset":
				delete(next, field)
			case "$inc":
				delta, ok := toNumber(v)
				if !ok {
					return nil, utils.NewAppError(utils.ErrDatabase, fmt.Sprintf("cannot $inc %s by %v", field, v), nil)
				}
				current, _ := toNumber(next[field])
				next[field] = int64(current + delta)
			case "$addToSet":
				list, _ := asList(next[field])
				values := []any{v}
				if each, ok := v.(bson.M); ok {
					if items, ok := asList(each["$each"]); ok {
						values = items
					}
				}
				for _, item := range values {
					if !containsEqual(list, item) {
						list = append(list, item)
					}
				}
				next[field] = primitive.A(list)
			case "$pull":
				list, _ := asList(next[field])
				kept := primitive.A{}
				for _, item := range list {
					if !equal(item, v) {
						kept = append(kept, item)
					}
				}
				next[field] = kept
			default:
				return nil, utils.NewAppError(utils.ErrDatabase, fmt.Sprintf("unsupported update operator %s", op), nil)
			}
		}
	}
	return next, nil
}

// toValue runs a value through the bson codec so stored values have the same
// types MongoDB would hand back.
func toValue(v any) (any, error) {
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to encode value", err)
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode value", err)
	}
	return out["v"], nil
}

func project(doc, projection bson.M) bson.M {
	if len(projection) == 0 {
		return cloneDoc(doc)
	}
	inclusive := false
	for k, v := range projection {
		if n, _ := toNumber(v); n != 0 && k != "_id" {
			inclusive = true
			break
		}
	}
	out := bson.M{}
	if inclusive {
		for k, v := range projection {
			if n, _ := toNumber(v); n != 0 {
				if val, ok := doc[k]; ok {
					out[k] = cloneValue(val)
				}
			}
		}
		if n, ok := projection["_id"]; !ok || !isZero(n) {
			out["_id"] = doc["_id"]
		}
		return out
	}
	for k, v := range doc {
		if n, ok := projection[k]; ok && isZero(n) {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func isZero(v any) bool {
	n, _ := toNumber(v)
	return n == 0
}

func cloneDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case primitive.A:
		out := make(primitive.A, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case bson.M:
		return cloneDoc(t)
	default:
		return v
	}
}
