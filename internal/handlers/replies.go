package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/messaging"
	"qalam/internal/models"
	"qalam/internal/query"
)

// CreateReplyRequest is the body of POST /comments/{id}/replies
type CreateReplyRequest struct {
	Reply string `json:"reply"`
}

func (s *Server) replyResource() *Resource[models.Reply, *models.Reply] {
	return &Resource[models.Reply, *models.Reply]{
		Label:      "reply",
		Store:      s.Stores.Replies,
		Query:      s.queryOptions(query.Schema{"likes": query.Int, "createdAt": query.Time, "updatedAt": query.Time}),
		Gate:       s.Auth,
		Logger:     s.Logger,
		OwnerField: "userId",
		Updatable:  []string{"reply"},
		Populate:   s.populateUser("userId", "user"),
		Likes:      s.Ledgers.Replies,
		Scope:      scopedBy("commentId"),
		Build: func(r *http.Request, actor models.Identity) (*models.Reply, error) {
			commentID, err := pathID(r, "id")
			if err != nil {
				return nil, err
			}
			var req CreateReplyRequest
			if err := decodeJSON(nil, r, &req); err != nil {
				return nil, err
			}
			if _, err := s.Stores.Comments.FindOne(r.Context(), bson.M{"_id": commentID}, bson.M{"_id": 1}); err != nil {
				return nil, err
			}
			now := time.Now().UTC()
			return &models.Reply{
				ID:        uuid.NewString(),
				CommentID: commentID,
				UserID:    actor.ID,
				Text:      strings.TrimSpace(req.Reply),
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		},
		AfterCreate: func(ctx context.Context, reply *models.Reply) {
			s.adjust(ctx, s.Counters.CommentReplies, reply.CommentID, 1)
			s.publish(messaging.ReplyCreated, messaging.ChildCreatedEvent{
				ID: reply.ID, ParentID: reply.CommentID, UserID: reply.UserID, Timestamp: reply.CreatedAt,
			})
		},
		AfterDelete: func(ctx context.Context, doc bson.M) {
			comment, _ := doc["commentId"].(string)
			s.adjust(ctx, s.Counters.CommentReplies, comment, -1)
		},
	}
}
