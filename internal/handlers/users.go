package handlers

import (
	"context"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"qalam/internal/database"
	"qalam/internal/media"
	"qalam/internal/middleware"
	"qalam/internal/models"
	"qalam/internal/query"
	"qalam/internal/utils"
)

// SignupRequest represents a request to register a new user
type SignupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// LoginRequest represents a request to log in a user
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdatePasswordRequest represents a request to change the current password
type UpdatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// SpaceRequest names the category joined or left.
type SpaceRequest struct {
	CategoryName string `json:"categoryName"`
}

// Stored but never returned to clients.
var userHidden = []string{"password", "passwordChangedAt", "active"}

var profileFields = []string{"name", "username", "bio", "photo", "birthday", "phoneNumber", "role"}

// activeUsers matches accounts that were not deactivated through deleteMe.
func activeUsers() bson.M {
	return bson.M{"active": bson.M{"$ne": false}}
}

func (s *Server) userResource() *Resource[models.User, *models.User] {
	return &Resource[models.User, *models.User]{
		Label:     "user",
		Store:     s.Stores.Users,
		Query:     s.queryOptions(query.Schema{"followers": query.Int, "following": query.Int, "posts": query.Int, "createdAt": query.Time}, userHidden...),
		Gate:      s.Auth,
		Logger:    s.Logger,
		Updatable: append(slices.Clone(profileFields), "email"),
		Cache:     s.Cache,
		Scope: func(*http.Request) (bson.M, error) {
			return activeUsers(), nil
		},
		BeforeDelete: func(ctx context.Context, doc bson.M) error {
			return s.releaseProfilePhoto(ctx, doc)
		},
	}
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", utils.NewAppError(utils.ErrInvalidInput, "Password could not be hashed", err)
	}
	return string(hashed), nil
}

// sendToken signs a token for user, sets it as an http-only cookie and writes
// the user with the token.
func (s *Server) sendToken(w http.ResponseWriter, user *models.User, status int) error {
	token, err := s.Tokens.Sign(user.ID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(time.Duration(s.Config.Auth.CookieExpiryDays) * 24 * time.Hour),
		HttpOnly: true,
		Secure:   s.Config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, Envelope{Status: statusSuccess, Token: token, Data: dataBody{Data: user}})
	return nil
}

// HandleSignup creates a student account and logs it in
func (s *Server) HandleSignup() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		var req SignupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		if err := models.ValidatePassword(req.Password, req.PasswordConfirm); err != nil {
			return err
		}
		hashed, err := hashPassword(req.Password)
		if err != nil {
			return err
		}
		user := &models.User{
			ID:             uuid.NewString(),
			Username:       req.Username,
			Email:          req.Email,
			Name:           strings.TrimSpace(req.Name),
			Photo:          models.DefaultPhoto,
			HashedPassword: hashed,
			Role:           models.DefaultRole,
			Active:         true,
			JoinedSpaces:   []string{},
			CreatedAt:      time.Now().UTC(),
		}
		user.Normalize()
		if err := user.Validate(); err != nil {
			return err
		}
		if err := s.Stores.Users.Insert(r.Context(), user); err != nil {
			return err
		}
		s.Logger.Info("user signed up", "user_id", user.ID, "username", user.Username)
		return s.sendToken(w, user, http.StatusCreated)
	})
}

// HandleLogin checks the credentials and issues a token
func (s *Server) HandleLogin() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		var req LoginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if email == "" || req.Password == "" {
			return utils.NewInvalidInputError("Please provide email and password!")
		}

		incorrect := utils.NewUnauthorizedError("Incorrect email or password")
		filter := activeUsers()
		filter["email"] = email
		doc, err := s.Stores.Users.FindOne(r.Context(), filter, nil)
		if err != nil {
			if utils.IsErrorCode(err, utils.ErrNotFound) {
				return incorrect
			}
			return err
		}
		var user models.User
		if err := database.Decode(doc, &user); err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)) != nil {
			return incorrect
		}
		return s.sendToken(w, &user, http.StatusOK)
	})
}

// HandleLogout overwrites the token cookie with a short-lived placeholder
func (s *Server) HandleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.TokenCookie,
			Value:    "loggedout",
			Path:     "/",
			Expires:  time.Now().Add(10 * time.Second),
			HttpOnly: true,
		})
		writeJSON(w, http.StatusOK, Envelope{Status: statusSuccess})
	}
}

// HandleUpdateMyPassword requires the current password and issues a fresh token
func (s *Server) HandleUpdateMyPassword() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		var req UpdatePasswordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}

		ctx := r.Context()
		doc, err := s.Stores.Users.FindOne(ctx, bson.M{"_id": actor.ID}, nil)
		if err != nil {
			return err
		}
		var user models.User
		if err := database.Decode(doc, &user); err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.PasswordCurrent)) != nil {
			return utils.NewUnauthorizedError("Your current password is wrong.")
		}
		if err := models.ValidatePassword(req.Password, req.PasswordConfirm); err != nil {
			return err
		}
		hashed, err := hashPassword(req.Password)
		if err != nil {
			return err
		}

		// Back-dated by a second so the token signed below is still newer.
		changedAt := time.Now().UTC().Add(-time.Second)
		if _, err := s.Stores.Users.UpdateOne(ctx, bson.M{"_id": actor.ID}, bson.M{
			"$set": bson.M{"password": hashed, "passwordChangedAt": changedAt},
			"$inc": bson.M{query.VersionField: 1},
		}); err != nil {
			return err
		}
		s.users.invalidate(ctx, actor.ID)
		user.HashedPassword = hashed
		user.PasswordChangedAt = changedAt
		return s.sendToken(w, &user, http.StatusOK)
	})
}

// HandleGetMe returns the authenticated user
func (s *Server) HandleGetMe() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		doc, err := s.users.load(r.Context(), actor.ID)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, single(doc))
		return nil
	})
}

// HandleUpdateMe changes profile fields. Password, email and a role of admin
// are refused; an uploaded photo replaces the previous one.
func (s *Server) HandleUpdateMe() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		fields, form, err := readFields(w, r)
		if err != nil {
			return err
		}
		if _, ok := fields["password"]; ok {
			return utils.NewInvalidInputError("This route is not for password updates. Please use /updateMyPassword.")
		}
		if _, ok := fields["passwordConfirm"]; ok {
			return utils.NewInvalidInputError("This route is not for password updates. Please use /updateMyPassword.")
		}
		if _, ok := fields["email"]; ok {
			return utils.NewInvalidInputError("This route is not for email updates.")
		}
		patch := allowed(fields, profileFields, "")
		if role, ok := patch["role"].(string); ok && models.Role(strings.ToLower(role)) == models.RoleAdmin {
			return utils.NewInvalidInputError("You cannot update your role as admin")
		}

		ctx := r.Context()
		stored, err := s.Stores.Users.FindOne(ctx, bson.M{"_id": actor.ID}, nil)
		if err != nil {
			return err
		}

		var uploaded []string
		if files := formFiles(form, "photo"); len(files) > 0 {
			if err := media.ValidateImages(files[:1]); err != nil {
				return err
			}
			uploaded, err = s.Media.Upload(ctx, models.UsersCollection, files[:1])
			if err != nil {
				return err
			}
			patch["photo"] = uploaded[0]
		}
		if len(patch) == 0 {
			return utils.NewValidationError("No updatable fields were provided")
		}

		update, err := patchUpdate(stored, patch, &models.User{})
		if err != nil {
			s.discardUploads(context.WithoutCancel(ctx), uploaded)
			return err
		}
		updated, err := s.Stores.Users.UpdateOne(ctx, bson.M{"_id": actor.ID}, update)
		if err != nil {
			s.discardUploads(context.WithoutCancel(ctx), uploaded)
			return err
		}
		s.users.invalidate(ctx, actor.ID)
		if len(uploaded) > 0 {
			if err := s.releaseProfilePhoto(ctx, stored); err != nil {
				s.Logger.Warn("failed to release previous photo", "user_id", actor.ID, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, single(s.users.present(updated)))
		return nil
	})
}

// releaseProfilePhoto deletes an uploaded profile photo; the default is shared.
func (s *Server) releaseProfilePhoto(ctx context.Context, doc bson.M) error {
	photo, _ := doc["photo"].(string)
	if photo == "" || photo == models.DefaultPhoto {
		return nil
	}
	return s.releaseMedia(ctx, []string{photo})
}

// HandleDeleteMe deactivates the account; the document is kept.
func (s *Server) HandleDeleteMe() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		if _, err := s.Stores.Users.UpdateOne(r.Context(), bson.M{"_id": actor.ID}, bson.M{
			"$set": bson.M{"active": false},
		}); err != nil {
			return err
		}
		s.users.invalidate(r.Context(), actor.ID)
		noContent(w)
		return nil
	})
}

// HandleSearchUsers matches the term against username or name
func (s *Server) HandleSearchUsers() http.HandlerFunc {
	return s.resp.Wrap(s.users.ListMatching(func(r *http.Request) (bson.M, error) {
		term := strings.TrimSpace(chi.URLParam(r, "searchTerm"))
		if term == "" {
			return nil, utils.NewInvalidInputError("Please provide a username to search for.")
		}
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}
		filter := activeUsers()
		filter["$or"] = bson.A{bson.M{"username": pattern}, bson.M{"name": pattern}}
		return filter, nil
	}))
}

// HandleCreateUser always fails: accounts are created through signup.
func (s *Server) HandleCreateUser() http.HandlerFunc {
	return s.resp.Wrap(func(http.ResponseWriter, *http.Request) error {
		return utils.NewInvalidInputError("This route is not defined! Please use /signup instead")
	})
}

func (s *Server) joinedSpaces(r *http.Request, id string) ([]string, error) {
	doc, err := s.Stores.Users.FindOne(r.Context(), bson.M{"_id": id}, bson.M{"joinedSpaces": 1})
	if err != nil {
		return nil, err
	}
	return stringsOf(doc["joinedSpaces"]), nil
}

func writeSpaces(w http.ResponseWriter, spaces []string) {
	if spaces == nil {
		spaces = []string{}
	}
	writeJSON(w, http.StatusOK, single(spaces))
}

// HandleJoinedSpaces lists the categories the user joined
func (s *Server) HandleJoinedSpaces() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		spaces, err := s.joinedSpaces(r, actor.ID)
		if err != nil {
			return err
		}
		writeSpaces(w, spaces)
		return nil
	})
}

func (s *Server) HandleJoinSpace() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		var req SpaceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		name := strings.TrimSpace(req.CategoryName)
		ctx := r.Context()
		if _, err := s.Stores.Categories.FindOne(ctx, bson.M{"name": name}, bson.M{"_id": 1}); err != nil {
			if utils.IsErrorCode(err, utils.ErrNotFound) {
				return utils.NewAppError(utils.ErrNotFound, "No category found", nil)
			}
			return err
		}
		already, err := s.Stores.Users.Count(ctx, bson.M{"_id": actor.ID, "joinedSpaces": name})
		if err != nil {
			return err
		}
		if already > 0 {
			return utils.NewInvalidInputError("Category already joined")
		}
		updated, err := s.Stores.Users.UpdateOne(ctx, bson.M{"_id": actor.ID}, bson.M{
			"$addToSet": bson.M{"joinedSpaces": name},
		})
		if err != nil {
			return err
		}
		s.users.invalidate(ctx, actor.ID)
		writeSpaces(w, stringsOf(updated["joinedSpaces"]))
		return nil
	})
}

func (s *Server) HandleUnjoinSpace() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		actor, err := actorFrom(r)
		if err != nil {
			return err
		}
		var req SpaceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		updated, err := s.Stores.Users.UpdateOne(r.Context(), bson.M{"_id": actor.ID}, bson.M{
			"$pull": bson.M{"joinedSpaces": strings.TrimSpace(req.CategoryName)},
		})
		if err != nil {
			return err
		}
		s.users.invalidate(r.Context(), actor.ID)
		writeSpaces(w, stringsOf(updated["joinedSpaces"]))
		return nil
	})
}

// HandleCleanUpJoinedSpaces drops joined spaces whose category no longer exists
func (s *Server) HandleCleanUpJoinedSpaces() http.HandlerFunc {
	return s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		ctx := r.Context()
		categories, err := s.Stores.Categories.Find(ctx, query.Query{Projection: bson.M{"name": 1}})
		if err != nil {
			return err
		}
		valid := make([]string, 0, len(categories))
		for _, c := range categories {
			if name, ok := c["name"].(string); ok {
				valid = append(valid, name)
			}
		}

		users, err := s.Stores.Users.Find(ctx, query.Query{Projection: bson.M{"joinedSpaces": 1}})
		if err != nil {
			return err
		}
		cleaned := 0
		for _, u := range users {
			id, _ := u["_id"].(string)
			spaces := stringsOf(u["joinedSpaces"])
			kept := slices.DeleteFunc(slices.Clone(spaces), func(name string) bool {
				return !slices.Contains(valid, name)
			})
			if len(kept) == len(spaces) {
				continue
			}
			if _, err := s.Stores.Users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
				"$set": bson.M{"joinedSpaces": kept},
			}); err != nil {
				s.Logger.Warn("joined spaces cleanup failed", "user_id", id, "error", err)
				continue
			}
			s.users.invalidate(ctx, id)
			cleaned++
		}
		s.Logger.Info("joined spaces cleaned", "users", cleaned)
		writeJSON(w, http.StatusOK, Envelope{
			Status:  statusSuccess,
			Message: "Data cleanup completed successfully",
			Data:    map[string]int{"users": cleaned},
		})
		return nil
	})
}
