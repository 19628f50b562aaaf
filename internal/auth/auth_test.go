package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv, &priv.PublicKey
}

func signToken(t *testing.T, priv *rsa.PrivateKey, perms []interface{}) string {
	t.Helper()
	claims := jwt.MapClaims{
		"permissions": perms,
		"exp":         time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := tok.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestJWTAuthorizer_EmptyTokenIsEmptySet(t *testing.T) {
	_, pub := generateKeyPair(t)
	a := NewJWTAuthorizer(pub, nil)

	set, err := a.Authorize("")
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestJWTAuthorizer_ValidToken(t *testing.T) {
	priv, pub := generateKeyPair(t)
	a := NewJWTAuthorizer(pub, KnownPermissions{"read_vehicle_speed": 7})

	token := signToken(t, priv, []interface{}{1, "read_vehicle_speed", "unknown_permission"})
	set, err := a.Authorize(token)
	require.NoError(t, err)
	assert.True(t, set.Has(1))
	assert.True(t, set.Has(7))
	assert.Equal(t, 2, set.Len())
}

func TestJWTAuthorizer_BadToken(t *testing.T) {
	_, pub := generateKeyPair(t)
	a := NewJWTAuthorizer(pub, nil)

	_, err := a.Authorize("not-a-jwt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token error: ")
}

func TestJWTAuthorizer_WrongKey(t *testing.T) {
	priv, _ := generateKeyPair(t)
	_, otherPub := generateKeyPair(t)
	a := NewJWTAuthorizer(otherPub, nil)

	token := signToken(t, priv, []interface{}{1})
	_, err := a.Authorize(token)
	require.Error(t, err)
}

func TestAllowAllAuthorizer_CacheIdentity(t *testing.T) {
	known := KnownPermissions{"a": 1, "b": 2}
	a := NewAllowAllAuthorizer(known)

	s1, err := a.Authorize("anything")
	require.NoError(t, err)
	s2, err := a.Authorize("something-else")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 2, s1.Len())
}
