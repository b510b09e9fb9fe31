package models

import (
	"time"

	"qalam/internal/utils"
)

// FollowRecord is unique on (FollowerID, FollowingID).
type FollowRecord struct {
	ID          string    `json:"_id" bson:"_id"`
	FollowerID  string    `json:"followerId" bson:"followerId"`
	FollowingID string    `json:"followingId" bson:"followingId"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

func (f *FollowRecord) Validate() error {
	if f.FollowerID == "" || f.FollowingID == "" {
		return utils.NewValidationError("A follow must reference two users")
	}
	if f.FollowerID == f.FollowingID {
		return utils.NewInvalidInputError("You cannot follow yourself")
	}
	return nil
}
