package models

import (
	"strings"
	"time"

	"qalam/internal/utils"
)

// Comment belongs to exactly one post and one user.
type Comment struct {
	ID         string    `json:"_id" bson:"_id"`
	PostID     string    `json:"postId" bson:"postId"`
	UserID     string    `json:"userId" bson:"userId"`
	Text       string    `json:"comment" bson:"comment"`
	Photo      []string  `json:"photo" bson:"photo"`
	Likes      int       `json:"likes" bson:"likes"`
	ReplyCount int       `json:"replyCount" bson:"replyCount"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updatedAt"`
	Version    int       `json:"-" bson:"__v"`
}

func (c *Comment) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Text) == "" {
		problems = append(problems, "A comment must have a caption")
	}
	if c.UserID == "" {
		problems = append(problems, "A comment must belong to a user")
	}
	if c.PostID == "" {
		problems = append(problems, "A comment must belong to a post")
	}
	if len(problems) > 0 {
		return utils.NewValidationError(problems...)
	}
	return nil
}
