// Package auth verifies the bearer tokens issued by the account service.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	RoleAdmin    = "admin"
	RoleVendor   = "vendor"
	RoleCustomer = "customer"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   string
}

// Privileged roles may watch every order and the analytics feed.
func (p Principal) Privileged() bool {
	return p.Role == RoleAdmin || p.Role == RoleVendor
}

type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Issue signs a token. The account service owns issuing in production; the engine uses
// this for local tooling and tests.
func (v *Verifier) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

func (v *Verifier) Verify(tokenString string) (Principal, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Principal{}, apperr.Unauthorized("missing token")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		return Principal{}, apperr.Unauthorized("invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Principal{}, apperr.Unauthorized("invalid token")
	}
	return Principal{UserID: claims.Subject, Role: claims.Role}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
