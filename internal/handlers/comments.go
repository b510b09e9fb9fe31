package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/media"
	"qalam/internal/messaging"
	"qalam/internal/models"
	"qalam/internal/query"
)

var commentSchema = query.Schema{
	"likes":      query.Int,
	"replyCount": query.Int,
	"createdAt":  query.Time,
	"updatedAt":  query.Time,
}

// scopedBy narrows a list to the parent named by the {id} path segment.
func scopedBy(field string) func(r *http.Request) (bson.M, error) {
	return func(r *http.Request) (bson.M, error) {
		id, err := pathID(r, "id")
		if err != nil {
			return nil, err
		}
		return bson.M{field: id}, nil
	}
}

func (s *Server) commentResource() *Resource[models.Comment, *models.Comment] {
	return &Resource[models.Comment, *models.Comment]{
		Label:      "comment",
		Store:      s.Stores.Comments,
		Query:      s.queryOptions(commentSchema),
		Gate:       s.Auth,
		Logger:     s.Logger,
		OwnerField: "userId",
		Updatable:  []string{"comment"},
		Populate:   s.populateUser("userId", "user"),
		Likes:      s.Ledgers.Comments,
		Scope:      scopedBy("postId"),
		Build:      s.buildComment,
		AbortCreate: func(ctx context.Context, c *models.Comment) {
			s.discardUploads(ctx, c.Photo)
		},
		AfterCreate: func(ctx context.Context, c *models.Comment) {
			s.adjust(ctx, s.Counters.PostComments, c.PostID, 1)
			s.publish(messaging.CommentCreated, messaging.ChildCreatedEvent{
				ID: c.ID, ParentID: c.PostID, UserID: c.UserID, Timestamp: c.CreatedAt,
			})
		},
		BeforeDelete: func(ctx context.Context, doc bson.M) error {
			return s.releaseMedia(ctx, stringsOf(doc["photo"]))
		},
		AfterDelete: func(ctx context.Context, doc bson.M) {
			post, _ := doc["postId"].(string)
			s.adjust(ctx, s.Counters.PostComments, post, -1)
		},
	}
}

// buildComment accepts JSON or a multipart form with optional photos. The
// post comes from the path, the author from the token.
func (s *Server) buildComment(r *http.Request, actor models.Identity) (*models.Comment, error) {
	postID, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	fields, form, err := readFields(nil, r)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	comment := &models.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		UserID:    actor.ID,
		Text:      strings.TrimSpace(stringField(fields, "comment")),
		Photo:     []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := comment.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.Stores.Posts.FindOne(r.Context(), bson.M{"_id": postID}, bson.M{"_id": 1}); err != nil {
		return nil, err
	}

	files := formFiles(form, "photo")
	if len(files) > 0 {
		if err := media.ValidateImages(files); err != nil {
			return nil, err
		}
		urls, err := s.Media.Upload(r.Context(), models.CommentsCollection, files)
		if err != nil {
			return nil, err
		}
		comment.Photo = urls
	}
	return comment, nil
}
