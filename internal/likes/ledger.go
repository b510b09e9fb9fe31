package likes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/counters"
	"qalam/internal/database"
	"qalam/internal/messaging"
	"qalam/internal/models"
	"qalam/internal/query"
	"qalam/internal/utils"
)

// Ledger is the like ledger of one target kind. A row's presence is the only
// record of a like; the target's counter follows it.
type Ledger struct {
	Kind    models.LikeKind
	Likes   database.Store
	Targets database.Store
	Counter *counters.Counter
	Events  messaging.Publisher
	Subject string
	Logger  *slog.Logger
}

// Ledgers holds one ledger per likeable kind.
type Ledgers struct {
	Posts    *Ledger
	Comments *Ledger
	Replies  *Ledger
}

func NewLedgers(stores database.Stores, set counters.Set, events messaging.Publisher, logger *slog.Logger) Ledgers {
	if events == nil {
		events = messaging.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Ledgers{
		Posts: &Ledger{Kind: models.PostLike, Likes: stores.PostLikes, Targets: stores.Posts,
			Counter: set.PostLikes, Events: events, Subject: messaging.PostLiked, Logger: logger},
		Comments: &Ledger{Kind: models.CommentLike, Likes: stores.CommentLikes, Targets: stores.Comments,
			Counter: set.CommentLikes, Events: events, Subject: messaging.CommentLiked, Logger: logger},
		Replies: &Ledger{Kind: models.ReplyLike, Likes: stores.ReplyLikes, Targets: stores.Replies,
			Counter: set.ReplyLikes, Events: events, Subject: messaging.ReplyLiked, Logger: logger},
	}
}

func (l Ledgers) ByKind(kind models.LikeKind) (*Ledger, bool) {
	switch kind {
	case models.PostLike:
		return l.Posts, true
	case models.CommentLike:
		return l.Comments, true
	case models.ReplyLike:
		return l.Replies, true
	}
	return nil, false
}

func rowFilter(userID, targetID string) bson.M {
	return bson.M{"userId": userID, models.LikeTargetField: targetID}
}

// Like records userID's like of targetID and bumps the target's counter.
// The existence check only short-circuits the common case; the ledger's
// unique index decides concurrent double-submits.
func (l *Ledger) Like(ctx context.Context, userID, targetID string) (*models.LikeRecord, error) {
	if _, err := l.Targets.FindOne(ctx, bson.M{"_id": targetID}, bson.M{"_id": 1}); err != nil {
		return nil, err
	}

	n, err := l.Likes.Count(ctx, rowFilter(userID, targetID))
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, l.alreadyLiked(nil)
	}

	record := &models.LikeRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		TargetID:  targetID,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.Likes.Insert(ctx, record); err != nil {
		if utils.IsErrorCode(err, utils.ErrDuplicate) {
			return nil, l.alreadyLiked(err)
		}
		return nil, err
	}

	// The ledger write succeeded; a failed counter update is left for the reconciler.
	if err := l.Counter.Adjust(ctx, targetID, 1); err != nil {
		l.Logger.Error("like counter increment failed", "kind", l.Kind, "target", targetID, "error", err)
	}

	event := messaging.LikedEvent{TargetID: targetID, UserID: userID, Timestamp: record.CreatedAt}
	if err := l.Events.Publish(l.Subject, event); err != nil {
		l.Logger.Warn("event publish failed", "subject", l.Subject, "error", err)
	}
	return record, nil
}

// Unlike hard-deletes the ledger row and decrements the counter.
func (l *Ledger) Unlike(ctx context.Context, userID, targetID string) error {
	if _, err := l.Likes.DeleteOne(ctx, rowFilter(userID, targetID)); err != nil {
		if utils.IsErrorCode(err, utils.ErrNotFound) {
			return utils.NewAppError(utils.ErrNotLiked, fmt.Sprintf("You have not liked this %s", l.Kind), nil)
		}
		return err
	}
	if err := l.Counter.Adjust(ctx, targetID, -1); err != nil && !utils.IsErrorCode(err, utils.ErrNotFound) {
		l.Logger.Error("like counter decrement failed", "kind", l.Kind, "target", targetID, "error", err)
	}
	return nil
}

func (l *Ledger) HasLiked(ctx context.Context, userID, targetID string) (bool, error) {
	n, err := l.Likes.Count(ctx, rowFilter(userID, targetID))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LikedTargets returns the subset of ids userID has liked.
func (l *Ledger) LikedTargets(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	liked := make(map[string]bool)
	if len(ids) == 0 || userID == "" {
		return liked, nil
	}
	rows, err := l.Likes.Find(ctx, query.Query{
		Filter:     bson.M{"userId": userID, models.LikeTargetField: bson.M{"$in": ids}},
		Projection: bson.M{models.LikeTargetField: 1},
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if id, ok := row[models.LikeTargetField].(string); ok {
			liked[id] = true
		}
	}
	return liked, nil
}

// TargetsLikedBy lists the ids of every target userID has liked, newest first.
func (l *Ledger) TargetsLikedBy(ctx context.Context, userID string) ([]string, error) {
	rows, err := l.Likes.Find(ctx, query.Query{
		Filter:     bson.M{"userId": userID},
		Sort:       bson.D{{Key: "createdAt", Value: -1}},
		Projection: bson.M{models.LikeTargetField: 1},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row[models.LikeTargetField].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (l *Ledger) alreadyLiked(origin error) error {
	return utils.NewDuplicateError(fmt.Sprintf("You have already liked this %s", l.Kind), origin)
}
