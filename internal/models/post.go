package models

import (
	"strings"
	"time"

	"qalam/internal/utils"
)

type Post struct {
	ID          string    `json:"_id" bson:"_id"`
	Title       string    `json:"title" bson:"title"`
	Description string    `json:"description" bson:"description"`
	Categories  string    `json:"categories" bson:"categories"`
	Photos      []string  `json:"photos" bson:"photos"`
	Likes       int       `json:"likes" bson:"likes"`
	Comments    int       `json:"comments" bson:"comments"`
	UserID      string    `json:"userId" bson:"userId"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
	Version     int       `json:"-" bson:"__v"`
}

func (p *Post) Validate() error {
	var problems []string
	if len(p.Photos) == 0 {
		problems = append(problems, "Post must have a picture")
	}
	if strings.TrimSpace(p.Title) == "" {
		problems = append(problems, "Post must have a title")
	}
	if strings.TrimSpace(p.Description) == "" {
		problems = append(problems, "Post must have a description")
	}
	if strings.TrimSpace(p.Categories) == "" {
		problems = append(problems, "Post must at least select one categories")
	}
	if p.Likes < 0 || p.Comments < 0 {
		problems = append(problems, "Counters cannot be negative")
	}
	if len(problems) > 0 {
		return utils.NewValidationError(problems...)
	}
	return nil
}
