package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/messaging"
	"qalam/internal/models"
	"qalam/internal/query"
	"qalam/internal/utils"
)

// followResource lists follow rows whose scopeField is the user in the path
// (or the caller on /me routes) and populates the user at the other end.
func (s *Server) followResource(scopeField, otherField, as string) *Resource[models.FollowRecord, *models.FollowRecord] {
	return &Resource[models.FollowRecord, *models.FollowRecord]{
		Label:    "follow",
		Store:    s.Stores.Follows,
		Query:    s.queryOptions(query.Schema{"createdAt": query.Time}),
		Gate:     s.Auth,
		Logger:   s.Logger,
		Populate: s.populateUser(otherField, as),
		Scope: func(r *http.Request) (bson.M, error) {
			userID, err := followSubject(r)
			if err != nil {
				return nil, err
			}
			return bson.M{scopeField: userID}, nil
		},
	}
}

// followSubject is the {userId} path segment, or the caller when absent.
func followSubject(r *http.Request) (string, error) {
	if raw := chi.URLParam(r, "userId"); raw != "" {
		return ParseID(raw)
	}
	actor, err := actorFrom(r)
	if err != nil {
		return "", err
	}
	return actor.ID, nil
}

func followRow(followerID, followingID string) bson.M {
	return bson.M{"followerId": followerID, "followingId": followingID}
}

// HandleFollow makes the caller follow {userId}
func (s *Server) HandleFollow() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		targetID, err := pathID(r, "userId")
		if err != nil {
			return err
		}
		follow := &models.FollowRecord{
			ID:          uuid.NewString(),
			FollowerID:  actor.ID,
			FollowingID: targetID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := follow.Validate(); err != nil {
			return err
		}

		ctx := r.Context()
		filter := activeUsers()
		filter["_id"] = targetID
		if _, err := s.Stores.Users.FindOne(ctx, filter, bson.M{"_id": 1}); err != nil {
			return err
		}

		alreadyFollowing := func(origin error) error {
			return utils.NewDuplicateError("You have already followed this user", origin)
		}
		n, err := s.Stores.Follows.Count(ctx, followRow(actor.ID, targetID))
		if err != nil {
			return err
		}
		if n > 0 {
			return alreadyFollowing(nil)
		}
		// The unique (followerId, followingId) index settles concurrent requests.
		if err := s.Stores.Follows.Insert(ctx, follow); err != nil {
			if utils.IsErrorCode(err, utils.ErrDuplicate) {
				return alreadyFollowing(err)
			}
			return err
		}

		s.adjust(ctx, s.Counters.UserFollowing, actor.ID, 1)
		s.adjust(ctx, s.Counters.UserFollowers, targetID, 1)
		s.publish(messaging.UserFollowed, messaging.FollowedEvent{
			FollowerID: actor.ID, FollowingID: targetID, Timestamp: follow.CreatedAt,
		})
		writeJSON(w, http.StatusCreated, single(follow))
		return nil
	})
}

// HandleUnfollow removes the caller's follow of {userId}
func (s *Server) HandleUnfollow() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		targetID, err := pathID(r, "userId")
		if err != nil {
			return err
		}
		ctx := r.Context()
		if _, err := s.Stores.Follows.DeleteOne(ctx, followRow(actor.ID, targetID)); err != nil {
			if utils.IsErrorCode(err, utils.ErrNotFound) {
				return utils.NewAppError(utils.ErrNotFound, "You are not following this user", nil)
			}
			return err
		}
		s.adjust(ctx, s.Counters.UserFollowing, actor.ID, -1)
		s.adjust(ctx, s.Counters.UserFollowers, targetID, -1)
		noContent(w)
		return nil
	})
}
