package models

import (
	"net/mail"
	"strings"
	"time"

	"qalam/internal/utils"
)

const minPasswordLength = 8

type User struct {
	ID                string    `json:"_id" bson:"_id"`
	Username          string    `json:"username" bson:"username"`
	Email             string    `json:"email" bson:"email"`
	Name              string    `json:"name,omitempty" bson:"name,omitempty"`
	Bio               string    `json:"bio,omitempty" bson:"bio,omitempty"`
	Photo             string    `json:"photo" bson:"photo"`
	Birthday          string    `json:"birthday,omitempty" bson:"birthday,omitempty"`
	PhoneNumber       string    `json:"phoneNumber,omitempty" bson:"phoneNumber,omitempty"`
	HashedPassword    string    `json:"-" bson:"password"`
	PasswordChangedAt time.Time `json:"-" bson:"passwordChangedAt"`
	Role              Role      `json:"role" bson:"role"`
	Active            bool      `json:"-" bson:"active"`
	Followers         int       `json:"followers" bson:"followers"`
	Following         int       `json:"following" bson:"following"`
	Posts             int       `json:"posts" bson:"posts"`
	JoinedSpaces      []string  `json:"joinedSpaces" bson:"joinedSpaces"`
	CreatedAt         time.Time `json:"createdAt" bson:"createdAt"`
	Version           int       `json:"-" bson:"__v"`
}

// DefaultPhoto is stored for users who never uploaded one.
const DefaultPhoto = "default.jpg"

// Normalize trims the identity fields and lowercases the email.
func (u *User) Normalize() {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
}

func (u *User) Validate() error {
	var problems []string
	if u.Username == "" {
		problems = append(problems, "A user must have a username")
	}
	if u.Email == "" {
		problems = append(problems, "A user must have an email")
	} else if _, err := mail.ParseAddress(u.Email); err != nil {
		problems = append(problems, "Please provide a valid email")
	}
	if u.HashedPassword == "" {
		problems = append(problems, "A user must have a password")
	}
	if !u.Role.Valid() {
		problems = append(problems, "Role must be one of admin, student, teacher")
	}
	if len(problems) > 0 {
		return utils.NewValidationError(problems...)
	}
	return nil
}

// ValidatePassword checks a candidate plain-text password and its confirmation.
func ValidatePassword(password, confirm string) error {
	var problems []string
	if len(password) < minPasswordLength {
		problems = append(problems, "A password must be at least 8 characters long")
	}
	if password != confirm {
		problems = append(problems, "Passwords do not match")
	}
	if len(problems) > 0 {
		return utils.NewValidationError(problems...)
	}
	return nil
}

// ChangedPasswordAfter reports whether the password was changed after a token was issued.
func (u *User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt.IsZero() {
		return false
	}
	return u.PasswordChangedAt.Truncate(time.Second).After(issuedAt)
}

func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username, Role: u.Role}
}
