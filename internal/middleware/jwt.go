// internal/middleware/jwt.go
package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"qalam/internal/utils"
)

// Claims represents the JWT claims for our application
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 tokens.
type TokenService struct {
	secret []byte
	Expiry time.Duration
	Issuer string
}

func NewTokenService(secret string, expiry time.Duration, issuer string) *TokenService {
	return &TokenService{secret: []byte(secret), Expiry: expiry, Issuer: issuer}
}

// Sign creates a new JWT token for the given user ID
func (s *TokenService) Sign(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.Expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.Issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return tokenString, nil
}

// Verify parses a token and returns its claims. Expired tokens yield
// ErrTokenExpired, everything else ErrInvalidToken.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithIssuer(s.Issuer),
		jwt.WithIssuedAt(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, utils.NewAppError(utils.ErrTokenExpired, "Your token has expired! Please log in again.", err)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidToken, "Invalid token. Please log in again!", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, utils.NewAppError(utils.ErrInvalidToken, "Invalid token. Please log in again!", nil)
	}
	return claims, nil
}
