package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"qalam/internal/media"
	"qalam/internal/messaging"
	"qalam/internal/models"
	"qalam/internal/query"
	"qalam/internal/utils"
)

var postSchema = query.Schema{
	"likes":     query.Int,
	"comments":  query.Int,
	"createdAt": query.Time,
	"updatedAt": query.Time,
}

func (s *Server) postResource() *Resource[models.Post, *models.Post] {
	return &Resource[models.Post, *models.Post]{
		Label:      "post",
		Store:      s.Stores.Posts,
		Query:      s.queryOptions(postSchema),
		Gate:       s.Auth,
		Logger:     s.Logger,
		OwnerField: "userId",
		Updatable:  []string{"title", "description", "categories"},
		Populate:   s.populateUser("userId", "user"),
		Likes:      s.Ledgers.Posts,
		Cache:      s.Cache,
		Build:      s.buildPost,
		AbortCreate: func(ctx context.Context, post *models.Post) {
			s.discardUploads(ctx, post.Photos)
		},
		AfterCreate: func(ctx context.Context, post *models.Post) {
			s.adjust(ctx, s.Counters.UserPosts, post.UserID, 1)
			s.publish(messaging.PostCreated, messaging.PostCreatedEvent{
				PostID:     post.ID,
				UserID:     post.UserID,
				Title:      post.Title,
				Categories: post.Categories,
				Timestamp:  post.CreatedAt,
			})
		},
		BeforeUpdate: func(ctx context.Context, patch map[string]any) error {
			if _, ok := patch["categories"]; !ok {
				return nil
			}
			return s.requireCategory(ctx, stringField(patch, "categories"))
		},
		BeforeDelete: func(ctx context.Context, doc bson.M) error {
			return s.releaseMedia(ctx, stringsOf(doc["photos"]))
		},
		AfterDelete: func(ctx context.Context, doc bson.M) {
			owner, _ := doc["userId"].(string)
			s.adjust(ctx, s.Counters.UserPosts, owner, -1)
		},
	}
}

// buildPost reads a multipart post. Fields are validated before any file is
// uploaded so a rejected post never leaves media behind.
func (s *Server) buildPost(r *http.Request, actor models.Identity) (*models.Post, error) {
	fields, form, err := readFields(nil, r)
	if err != nil {
		return nil, err
	}
	files := formFiles(form, "photos")
	now := time.Now().UTC()
	post := &models.Post{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(stringField(fields, "title")),
		Description: strings.TrimSpace(stringField(fields, "description")),
		Categories:  strings.TrimSpace(stringField(fields, "categories")),
		UserID:      actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, fh := range files {
		post.Photos = append(post.Photos, fh.Filename)
	}
	if err := post.Validate(); err != nil {
		return nil, err
	}
	if err := media.ValidateImages(files); err != nil {
		return nil, err
	}
	if err := s.requireCategory(r.Context(), post.Categories); err != nil {
		return nil, err
	}

	urls, err := s.Media.Upload(r.Context(), models.PostsCollection, files)
	if err != nil {
		return nil, err
	}
	post.Photos = urls
	return post, nil
}

func (s *Server) requireCategory(ctx context.Context, name string) error {
	n, err := s.Stores.Categories.Count(ctx, bson.M{"name": strings.TrimSpace(name)})
	if err != nil {
		return err
	}
	if n == 0 {
		return utils.NewAppError(utils.ErrNotFound, "Invalid category", nil)
	}
	return nil
}

// HandleSearchPosts matches any word of the search term against title,
// description or categories.
func (s *Server) HandleSearchPosts() http.HandlerFunc {
	return s.resp.Wrap(s.posts.ListMatching(func(r *http.Request) (bson.M, error) {
		words := strings.Fields(chi.URLParam(r, "searchTerm"))
		if len(words) == 0 {
			return nil, utils.NewInvalidInputError("Please provide a search term to search posts for.")
		}
		var clauses bson.A
		for _, word := range words {
			pattern := primitive.Regex{Pattern: regexp.QuoteMeta(word), Options: "i"}
			clauses = append(clauses,
				bson.M{"title": pattern},
				bson.M{"description": pattern},
				bson.M{"categories": pattern},
			)
		}
		return bson.M{"$or": clauses}, nil
	}))
}
