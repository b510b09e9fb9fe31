package models

import "slices"

// Role is the account role. Only admin carries extra capabilities.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// DefaultRole is assigned on signup.
const DefaultRole = RoleStudent

var validRoles = []Role{RoleAdmin, RoleStudent, RoleTeacher}

func (r Role) Valid() bool {
	return slices.Contains(validRoles, r)
}

// Entity is implemented by every document the handler factory can create or update.
type Entity interface {
	Validate() error
}

// Identity is the authenticated actor attached to a request.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

func (i Identity) Owns(ownerID string) bool {
	return ownerID != "" && i.ID == ownerID
}

// Collection names shared by the Mongo and in-memory stores.
const (
	UsersCollection        = "users"
	PostsCollection        = "posts"
	CommentsCollection     = "comments"
	RepliesCollection      = "replies"
	CategoriesCollection   = "categories"
	PostLikesCollection    = "postlikes"
	CommentLikesCollection = "commentlikes"
	ReplyLikesCollection   = "replylikes"
	FollowsCollection      = "follows"
)
