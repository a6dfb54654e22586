package security

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	token, expireAt, err := Generate(opts, "user-123")
	require.NoError(t, err)
	assert.True(t, expireAt.After(time.Now()))

	sub, err := Verify(opts, token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", sub)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Generate(DefaultOptions([]byte("right")), "user-123")
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("wrong")), token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	past := time.Now().Add(-time.Hour)
	claims := jwtlib.MapClaims{
		"sub": "user-123",
		"iat": past.Unix(),
		"nbf": past.Unix(),
		"exp": past.Add(time.Minute).Unix(),
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(opts.Secret)
	require.NoError(t, err)

	_, err = Verify(opts, token)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := Verify(DefaultOptions([]byte("secret")), "not.a.token")
	assert.Error(t, err)
}

func TestUnsupportedAlg(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	opts.Alg = "RS256"
	_, _, err := Generate(opts, "user-123")
	assert.Error(t, err)
}
