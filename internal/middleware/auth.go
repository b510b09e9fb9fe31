package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/database"
	"qalam/internal/models"
	"qalam/internal/utils"
)

// TokenCookie carries the token for browser clients.
const TokenCookie = "jwt"

// AuthGate validates tokens and checks roles and ownership. Handlers only
// ever take the acting user's id from the Identity it attaches.
type AuthGate struct {
	Tokens *TokenService
	Users  database.Store
	// OnError writes rejected requests. Defaults to a plain JSON body.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

func NewAuthGate(tokens *TokenService, users database.Store, onError func(http.ResponseWriter, *http.Request, error)) *AuthGate {
	if onError == nil {
		onError = writeError
	}
	return &AuthGate{Tokens: tokens, Users: users, OnError: onError}
}

// Authenticate resolves a token to the identity of a live account.
func (g *AuthGate) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, utils.NewUnauthorizedError("You are not logged in! Please log in to get access.")
	}
	claims, err := g.Tokens.Verify(token)
	if err != nil {
		return models.Identity{}, err
	}

	doc, err := g.Users.FindOne(ctx, bson.M{"_id": claims.UserID}, nil)
	if utils.IsErrorCode(err, utils.ErrNotFound) {
		return models.Identity{}, utils.NewUnauthorizedError("The user belonging to this token does no longer exist.")
	}
	if err != nil {
		return models.Identity{}, err
	}
	var user models.User
	if err := database.Decode(doc, &user); err != nil {
		return models.Identity{}, err
	}
	if !user.Active {
		return models.Identity{}, utils.NewUnauthorizedError("The user belonging to this token does no longer exist.")
	}
	if claims.IssuedAt != nil && user.ChangedPasswordAfter(claims.IssuedAt.Time) {
		return models.Identity{}, utils.NewUnauthorizedError("User recently changed password! Please log in again.")
	}
	return user.Identity(), nil
}

// Authorize fails with Forbidden unless the identity holds role.
func (g *AuthGate) Authorize(identity models.Identity, role models.Role) error {
	if identity.Role != role {
		return utils.NewForbiddenError()
	}
	return nil
}

// AuthorizeOwnerOrRole passes the owner of a resource or a holder of role.
func (g *AuthGate) AuthorizeOwnerOrRole(identity models.Identity, ownerID string, role models.Role) error {
	if identity.Owns(ownerID) || identity.Role == role {
		return nil
	}
	return utils.NewForbiddenError()
}

// TokenFromRequest reads a bearer token, falling back to the jwt cookie.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "loggedout" {
		return cookie.Value
	}
	return ""
}

// Protect rejects requests without a valid token and attaches the identity.
func (g *AuthGate) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.Authenticate(r.Context(), TokenFromRequest(r))
		if err != nil {
			g.OnError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetIdentityInContext(r.Context(), identity)))
	})
}

// RestrictTo must run after Protect.
func (g *AuthGate) RestrictTo(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentityFromContext(r.Context())
			if !ok {
				g.OnError(w, r, utils.NewUnauthorizedError("You are not logged in! Please log in to get access."))
				return
			}
			if !slices.Contains(roles, identity.Role) {
				g.OnError(w, r, utils.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Define a custom context key type to avoid collisions
type contextKey string

const identityKey contextKey = "identity"

// SetIdentityInContext saves the authenticated identity in the request context
func SetIdentityInContext(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentityFromContext retrieves the identity attached by Protect
func GetIdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(models.Identity)
	return identity, ok
}

func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Something went wrong"
	if appErr, ok := utils.AsAppError(err); ok {
		status = utils.AppErrorToHTTPStatus(appErr.Code)
		message = appErr.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "fail", "message": message})
}
