package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/database"
	"qalam/internal/likes"
	"qalam/internal/models"
	"qalam/internal/query"
	"qalam/internal/utils"
)

// LikeRequest carries the target id when the route has no {id} segment.
type LikeRequest struct {
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
	ReplyID   string `json:"replyId"`
}

// likeParams maps each kind to the body and query key naming its target.
var likeParams = map[models.LikeKind]string{
	models.PostLike:    "postId",
	models.CommentLike: "commentId",
	models.ReplyLike:   "replyId",
}

func (req LikeRequest) target(kind models.LikeKind) string {
	switch kind {
	case models.PostLike:
		return req.PostID
	case models.CommentLike:
		return req.CommentID
	default:
		return req.ReplyID
	}
}

// likeResource exposes a ledger read-only, with the liking user populated.
func (s *Server) likeResource(store database.Store) *Resource[models.LikeRecord, *models.LikeRecord] {
	return &Resource[models.LikeRecord, *models.LikeRecord]{
		Label:    "like",
		Store:    store,
		Query:    s.queryOptions(query.Schema{"createdAt": query.Time}),
		Gate:     s.Auth,
		Logger:   s.Logger,
		Populate: s.populateUser("userId", "user"),
	}
}

// likeTarget takes the id from the path when nested under the target,
// otherwise from the JSON body.
func likeTarget(w http.ResponseWriter, r *http.Request, kind models.LikeKind) (string, error) {
	if id := chi.URLParam(r, "id"); id != "" {
		return ParseID(id)
	}
	var req LikeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return "", err
	}
	raw := req.target(kind)
	if raw == "" {
		return "", utils.NewInvalidInputError(fmt.Sprintf("Please provide the %s to like", likeParams[kind]))
	}
	return ParseID(raw)
}

func (s *Server) ledger(kind models.LikeKind) (*likes.Ledger, error) {
	ledger, ok := s.Ledgers.ByKind(kind)
	if !ok {
		return nil, utils.NewInvalidInputError(fmt.Sprintf("Unknown like kind: %s", kind))
	}
	return ledger, nil
}

// HandleLike records a like by the authenticated user
func (s *Server) HandleLike(kind models.LikeKind) http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		ledger, err := s.ledger(kind)
		if err != nil {
			return err
		}
		target, err := likeTarget(w, r, kind)
		if err != nil {
			return err
		}
		record, err := ledger.Like(r.Context(), actor.ID, target)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, Envelope{
			Status:  statusSuccess,
			Message: fmt.Sprintf("Liked %s successfully", kind),
			Data:    dataBody{Data: record},
		})
		return nil
	})
}

// HandleUnlike removes the authenticated user's like
func (s *Server) HandleUnlike(kind models.LikeKind) http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		ledger, err := s.ledger(kind)
		if err != nil {
			return err
		}
		target, err := likeTarget(w, r, kind)
		if err != nil {
			return err
		}
		if err := ledger.Unlike(r.Context(), actor.ID, target); err != nil {
			return err
		}
		noContent(w)
		return nil
	})
}

// HandleGetLike reports whether the user liked the target named by the
// postId, commentId or replyId query parameter.
func (s *Server) HandleGetLike() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		values := r.URL.Query()
		for _, kind := range []models.LikeKind{models.PostLike, models.CommentLike, models.ReplyLike} {
			raw := values.Get(likeParams[kind])
			if raw == "" {
				continue
			}
			target, err := ParseID(raw)
			if err != nil {
				return err
			}
			ledger, err := s.ledger(kind)
			if err != nil {
				return err
			}
			liked, err := ledger.HasLiked(r.Context(), actor.ID, target)
			if err != nil {
				return err
			}
			writeJSON(w, http.StatusOK, single(bson.M{models.LikeTargetField: target, likes.HasLikedField: liked}))
			return nil
		}
		return utils.NewInvalidInputError("Please provide a postId, commentId or replyId")
	})
}

// HandleLikedPosts lists the posts a user has liked, enriched for the viewer
func (s *Server) HandleLikedPosts() http.HandlerFunc {
	return s.resp.Wrap(s.posts.ListMatching(func(r *http.Request) (bson.M, error) {
		userID, err := pathID(r, "userId")
		if err != nil {
			return nil, err
		}
		ids, err := s.Ledgers.Posts.TargetsLikedBy(r.Context(), userID)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []string{}
		}
		return bson.M{"_id": bson.M{"$in": ids}}, nil
	}))
}
