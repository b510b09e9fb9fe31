package models

import (
	"strings"
	"time"

	"qalam/internal/utils"
)

// Reply belongs to exactly one comment and one user.
type Reply struct {
	ID        string    `json:"_id" bson:"_id"`
	CommentID string    `json:"commentId" bson:"commentId"`
	UserID    string    `json:"userId" bson:"userId"`
	Text      string    `json:"reply" bson:"reply"`
	Likes     int       `json:"likes" bson:"likes"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
	Version   int       `json:"-" bson:"__v"`
}

func (r *Reply) Validate() error {
	var problems []string
	if strings.TrimSpace(r.Text) == "" {
		problems = append(problems, "A reply can not be empty")
	}
	if r.UserID == "" {
		problems = append(problems, "A reply must belong to a user")
	}
	if r.CommentID == "" {
		problems = append(problems, "A reply must belong to a comment")
	}
	if len(problems) > 0 {
		return utils.NewValidationError(problems...)
	}
	return nil
}
