// File: internal/auth/auth.go
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ecochain/eco-relayer/pkg/utils"
)

// DefaultTokenTTL is the lifetime of issued tokens
const DefaultTokenTTL = 24 * time.Hour

// Claims is the JWT payload carried by app sessions
type Claims struct {
	UserID  string `json:"userId"`
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates HS256 session tokens
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an authenticator for secret
func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for the user
func (a *Authenticator) Issue(userID, address string) (string, error) {
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:  userID,
		Address: utils.NormalizeAddress(address),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeInternal, "Failed to sign token", err.Error())
	}
	return signed, nil
}

// Validate parses tokenString and returns its claims. Every failure is an AUTH_FAILURE.
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeAuth, "Invalid or expired token", err)
	}
	if !token.Valid {
		return nil, utils.NewAppError(utils.ErrCodeAuth, "Invalid or expired token")
	}
	if claims.UserID == "" {
		return nil, utils.NewAppError(utils.ErrCodeAuth, "Token has no user")
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", utils.NewAppError(utils.ErrCodeAuth, "Authorization header is required")
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", utils.NewAppError(utils.ErrCodeAuth, "Invalid token format")
	}
	return token, nil
}

type claimsKey struct{}

// WithClaims returns a context carrying claims
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom returns the claims stored by WithClaims
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}
