package models

import (
	"time"

	"qalam/internal/utils"
)

// LikeKind selects one of the three like ledgers.
type LikeKind string

const (
	PostLike    LikeKind = "post"
	CommentLike LikeKind = "comment"
	ReplyLike   LikeKind = "reply"
)

// LikeRecord is a ledger row. At most one exists per (UserID, TargetID).
type LikeRecord struct {
	ID        string    `json:"_id" bson:"_id"`
	UserID    string    `json:"userId" bson:"userId"`
	TargetID  string    `json:"targetId" bson:"targetId"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// LikeTargetField is the ledger field referencing the liked entity.
const LikeTargetField = "targetId"

func (l *LikeRecord) Validate() error {
	if l.UserID == "" || l.TargetID == "" {
		return utils.NewValidationError("A like must reference a user and a target")
	}
	return nil
}
