package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-testing")

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := issuer.Issue("ops@example.com", []Role{RoleAdmin})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, []string{"admin"}, claims.Roles)
	assert.True(t, claims.HasRole(RoleAdmin))
	assert.True(t, claims.HasRole(RoleViewer))
}

func TestTokenIssuer_ViewerCannotAdmin(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	token, _, err := issuer.Issue("dashboard", []Role{RoleViewer})
	require.NoError(t, err)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.True(t, claims.HasRole(RoleViewer))
	assert.False(t, claims.HasRole(RoleAdmin))
}

func TestTokenIssuer_IssueErrors(t *testing.T) {
	_, err := NewTokenIssuer(nil, time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)

	issuer, err := NewTokenIssuer(testSecret, 0)
	require.NoError(t, err)

	_, _, err = issuer.Issue("", []Role{RoleAdmin})
	assert.Error(t, err)

	_, _, err = issuer.Issue("ops", nil)
	assert.Error(t, err)

	_, _, err = issuer.Issue("ops", []Role{"root"})
	assert.Error(t, err)
}

func TestTokenIssuer_Validate(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		past, err := NewTokenIssuer(testSecret, time.Minute)
		require.NoError(t, err)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }

		token, _, err := past.Issue("ops", []Role{RoleAdmin})
		require.NoError(t, err)

		_, err = issuer.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenIssuer([]byte("another-secret"), time.Hour)
		require.NoError(t, err)

		token, _, err := other.Issue("ops", []Role{RoleAdmin})
		require.NoError(t, err)

		_, err = issuer.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := AdminClaims{
			Roles: []string{"admin"},
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    tokenIssuer,
				Subject:   "ops",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = issuer.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := AdminClaims{
			Roles: []string{"admin"},
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				Subject:   "ops",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		require.NoError(t, err)

		_, err = issuer.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Validate("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestParseRoles(t *testing.T) {
	roles, err := ParseRoles([]string{"admin", " viewer"})
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleAdmin, RoleViewer}, roles)

	_, err = ParseRoles([]string{"admin", "owner"})
	assert.Error(t, err)
}

func TestRole_HasPermission(t *testing.T) {
	assert.True(t, RoleAdmin.HasPermission(RoleViewer))
	assert.True(t, RoleViewer.HasPermission(RoleViewer))
	assert.False(t, RoleViewer.HasPermission(RoleAdmin))
	assert.False(t, Role("root").IsValid())
}
