package auth

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret")
	tok, err := v.Issue("u1", RoleVendor, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "u1", p.UserID)
	require.Equal(t, RoleVendor, p.Role)
	require.True(t, p.Privileged())
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret")

	other, err := NewVerifier("other").Issue("u1", RoleAdmin, time.Hour)
	require.NoError(t, err)
	expired, err := v.Issue("u1", RoleAdmin, -time.Minute)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: RoleAdmin}).SignedString([]byte("secret"))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": other,
		"expired":      expired,
		"no subject":   noSubject,
		"alg none":     none,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			require.Error(t, err)
			require.True(t, errors.Is(err, apperr.ErrUnauthorized))
		})
	}
}

func TestBearerToken(t *testing.T) {
	require.Equal(t, "abc", BearerToken("Bearer abc"))
	require.Equal(t, "abc", BearerToken("bearer  abc "))
	require.Equal(t, "", BearerToken("Basic abc"))
	require.Equal(t, "", BearerToken(""))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{UserID: "u1", Role: RoleCustomer})
	p, ok := FromContext(ctx)
	require.True(t, ok)
	require.False(t, p.Privileged())
}
