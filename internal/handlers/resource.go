package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/cache"
	"qalam/internal/database"
	"qalam/internal/likes"
	"qalam/internal/middleware"
	"qalam/internal/models"
	"qalam/internal/query"
	"qalam/internal/utils"
)

// Document is a pointer to a model that can validate itself.
type Document[T any] interface {
	*T
	models.Entity
}

// Populate attaches the document referenced by Field under As, leaving Field intact.
type Populate struct {
	Field  string
	As     string
	Store  database.Store
	Select bson.M
}

// Resource builds the list, get, create, update and delete handlers of one
// collection. Optional parts are skipped when nil.
type Resource[T any, P Document[T]] struct {
	Label  string
	Store  database.Store
	Query  query.Options
	Gate   *middleware.AuthGate
	Logger *slog.Logger

	// OwnerField names the field holding the owning user id. Empty means only
	// admins may update or delete.
	OwnerField string
	Updatable  []string
	Populate   *Populate
	Likes      likes.Lookup
	Cache      cache.Cache

	// Scope narrows every list to a parent, e.g. the comments of one post.
	Scope func(r *http.Request) (bson.M, error)

	Build        func(r *http.Request, actor models.Identity) (P, error)
	AbortCreate  func(ctx context.Context, doc P)
	AfterCreate  func(ctx context.Context, doc P)
	BeforeUpdate func(ctx context.Context, patch map[string]any) error
	BeforeDelete func(ctx context.Context, doc bson.M) error
	AfterDelete  func(ctx context.Context, doc bson.M)
}

// ParseID validates a path id. Ids are UUID strings.
func ParseID(raw string) (string, error) {
	if _, err := uuid.Parse(raw); err != nil {
		return "", utils.NewInvalidInputError("Invalid _id: " + raw)
	}
	return raw, nil
}

func pathID(r *http.Request, param string) (string, error) {
	return ParseID(chi.URLParam(r, param))
}

func actorFrom(r *http.Request) (models.Identity, error) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		return models.Identity{}, utils.NewUnauthorizedError("You are not logged in! Please log in to get access.")
	}
	return identity, nil
}

func (res *Resource[T, P]) List() HandlerFunc {
	return res.ListMatching(res.Scope)
}

// ListMatching lists the documents matching base plus the shaped query string.
func (res *Resource[T, P]) ListMatching(base func(r *http.Request) (bson.M, error)) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		filter := bson.M{}
		if base != nil {
			scoped, err := base(r)
			if err != nil {
				return err
			}
			filter = scoped
		}
		q, err := query.Shape(filter, r.URL.Query(), res.Query)
		if err != nil {
			return err
		}
		docs, err := res.Store.Find(r.Context(), q)
		if err != nil {
			return err
		}
		docs, err = res.decorate(r, docs)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, list(docs))
		return nil
	}
}

func (res *Resource[T, P]) Get() HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		id, err := pathID(r, "id")
		if err != nil {
			return err
		}
		doc, err := res.load(r.Context(), id)
		if err != nil {
			return err
		}
		docs, err := res.decorate(r, []bson.M{doc})
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, single(docs[0]))
		return nil
	}
}

func (res *Resource[T, P]) Create() HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		doc, err := res.Build(r, actor)
		if err != nil {
			return err
		}
		ctx := r.Context()
		if err := doc.Validate(); err != nil {
			res.abort(ctx, doc)
			return err
		}
		if err := res.Store.Insert(ctx, doc); err != nil {
			res.abort(ctx, doc)
			return err
		}
		if res.AfterCreate != nil {
			res.AfterCreate(ctx, doc)
		}
		writeJSON(w, http.StatusCreated, single(doc))
		return nil
	}
}

func (res *Resource[T, P]) abort(ctx context.Context, doc P) {
	if res.AbortCreate != nil {
		res.AbortCreate(context.WithoutCancel(ctx), doc)
	}
}

// Update applies a partial patch. Only Updatable keys are kept, the merged
// document is validated again and only the patched keys are written.
func (res *Resource[T, P]) Update() HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		id, err := pathID(r, "id")
		if err != nil {
			return err
		}
		fields, _, err := readFields(w, r)
		if err != nil {
			return err
		}

		ctx := r.Context()
		stored, err := res.Store.FindOne(ctx, bson.M{"_id": id}, nil)
		if err != nil {
			return err
		}
		if err := res.authorize(actor, stored); err != nil {
			return err
		}

		patch := allowed(fields, res.Updatable, res.OwnerField)
		if len(patch) == 0 {
			return utils.NewValidationError("No updatable fields were provided")
		}
		if res.BeforeUpdate != nil {
			if err := res.BeforeUpdate(ctx, patch); err != nil {
				return err
			}
		}
		update, err := patchUpdate(stored, patch, P(new(T)))
		if err != nil {
			return err
		}
		updated, err := res.Store.UpdateOne(ctx, bson.M{"_id": id}, update)
		if err != nil {
			return err
		}
		res.invalidate(ctx, id)
		writeJSON(w, http.StatusOK, single(res.present(updated)))
		return nil
	}
}

func (res *Resource[T, P]) Delete() HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		id, err := pathID(r, "id")
		if err != nil {
			return err
		}
		ctx := r.Context()
		stored, err := res.Store.FindOne(ctx, bson.M{"_id": id}, nil)
		if err != nil {
			return err
		}
		if err := res.authorize(actor, stored); err != nil {
			return err
		}
		if res.BeforeDelete != nil {
			if err := res.BeforeDelete(ctx, stored); err != nil {
				return err
			}
		}
		if _, err := res.Store.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
			return err
		}
		res.invalidate(ctx, id)
		if res.AfterDelete != nil {
			res.AfterDelete(ctx, stored)
		}
		noContent(w)
		return nil
	}
}

func (res *Resource[T, P]) authorize(actor models.Identity, stored bson.M) error {
	owner := ""
	if res.OwnerField != "" {
		owner, _ = stored[res.OwnerField].(string)
	}
	return res.Gate.AuthorizeOwnerOrRole(actor, owner, models.RoleAdmin)
}

// load reads one document through the cache when one is configured.
func (res *Resource[T, P]) load(ctx context.Context, id string) (bson.M, error) {
	key := cache.Key(res.Store.Name(), id)
	if res.Cache != nil {
		doc, ok, err := res.Cache.Get(ctx, key)
		if err != nil {
			res.Logger.Warn("cache read failed", "key", key, "error", err)
		} else if ok {
			return doc, nil
		}
	}

	projection, err := query.Project("", res.Query.Hidden)
	if err != nil {
		return nil, err
	}
	doc, err := res.Store.FindOne(ctx, bson.M{"_id": id}, projection)
	if err != nil {
		return nil, err
	}
	if res.Cache != nil {
		if err := res.Cache.Set(ctx, key, doc); err != nil {
			res.Logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return doc, nil
}

func (res *Resource[T, P]) invalidate(ctx context.Context, id string) {
	if res.Cache == nil {
		return
	}
	key := cache.Key(res.Store.Name(), id)
	if err := res.Cache.Delete(ctx, key); err != nil {
		res.Logger.Warn("cache invalidation failed", "key", key, "error", err)
	}
}

// decorate populates references and marks hasLiked for the viewer.
func (res *Resource[T, P]) decorate(r *http.Request, docs []bson.M) ([]bson.M, error) {
	if res.Populate != nil {
		if err := res.Populate.apply(r.Context(), docs); err != nil {
			return nil, err
		}
	}
	if res.Likes != nil {
		actor, err := actorFrom(r)
		if err != nil {
			return nil, err
		}
		return likes.EnrichDocuments(r.Context(), res.Likes, actor.ID, docs)
	}
	return docs, nil
}

// present strips the fields a client must never see from a raw document.
func (res *Resource[T, P]) present(doc bson.M) bson.M {
	delete(doc, query.VersionField)
	for _, field := range res.Query.Hidden {
		delete(doc, field)
	}
	return doc
}

// apply loads every referenced document with a single $in query.
func (p *Populate) apply(ctx context.Context, docs []bson.M) error {
	seen := make(map[string]bool)
	var ids []string
	for _, doc := range docs {
		if id, ok := doc[p.Field].(string); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	refs, err := p.Store.Find(ctx, query.Query{
		Filter:     bson.M{"_id": bson.M{"$in": ids}},
		Projection: p.Select,
	})
	if err != nil {
		return err
	}
	byID := make(map[string]bson.M, len(refs))
	for _, ref := range refs {
		if id, ok := ref["_id"].(string); ok {
			byID[id] = ref
		}
	}
	for _, doc := range docs {
		if id, ok := doc[p.Field].(string); ok {
			if ref, found := byID[id]; found {
				doc[p.As] = ref
			}
		}
	}
	return nil
}

// allowed keeps the keys in allow, never the owner or id.
func allowed(fields map[string]any, allow []string, owner string) map[string]any {
	out := make(map[string]any)
	for _, key := range allow {
		if key == owner || key == "_id" {
			continue
		}
		if v, ok := fields[key]; ok {
			out[key] = v
		}
	}
	return out
}

// patchUpdate overlays patch on the stored document, re-runs validation on the
// result and returns the update touching only the patched keys.
func patchUpdate(stored bson.M, patch map[string]any, into models.Entity) (bson.M, error) {
	if err := database.Decode(stored, into); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrValidation, "Invalid input data. Malformed patch", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, utils.NewValidationError("Invalid " + typeErr.Field + ": " + typeErr.Value)
		}
		return nil, utils.NewAppError(utils.ErrValidation, "Invalid input data. Malformed patch", err)
	}
	if err := into.Validate(); err != nil {
		return nil, err
	}
	merged, err := database.Encode(into)
	if err != nil {
		return nil, err
	}

	set := bson.M{}
	unset := bson.M{}
	for key := range patch {
		if v, ok := merged[key]; ok {
			set[key] = v
		} else {
			unset[key] = ""
		}
	}
	if _, ok := stored["updatedAt"]; ok {
		set["updatedAt"] = time.Now().UTC()
	}
	update := bson.M{"$inc": bson.M{query.VersionField: 1}}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update, nil
}
