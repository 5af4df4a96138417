package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_Login(t *testing.T) {
	hash, err := HashAdminPassword("hunter2")
	require.NoError(t, err)
	s := NewSigner("secret", time.Hour)

	token, err := s.Login("hunter2", hash)
	require.NoError(t, err)
	claims, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, AdminSubject, claims.Subject)

	_, err = s.Login("hunter3", hash)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login("hunter2", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unset hash never matches")
	_, err = s.Login("", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSigner_LoginWithoutSecret(t *testing.T) {
	hash, err := HashAdminPassword("hunter2")
	require.NoError(t, err)

	_, err = NewSigner("", 0).Login("hunter2", hash)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner("secret", time.Hour)

	token, err := s.GenerateToken("admin")
	require.NoError(t, err)

	claims, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, "lavaqueue", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestSigner_RejectsWrongSecret(t *testing.T) {
	token, err := NewSigner("secret", time.Hour).GenerateToken("admin")
	require.NoError(t, err)

	_, err = NewSigner("other", time.Hour).ParseToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestSigner_RejectsExpired(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	s.now = func() time.Time { return issued }
	token, err := s.GenerateToken("admin")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.ParseToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestSigner_RejectsOtherAlgorithms(t *testing.T) {
	claims := jwt.RegisteredClaims{Issuer: "lavaqueue", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewSigner("secret", time.Hour).ParseToken(token)
	assert.Error(t, err)
}

func TestSigner_NoSecret(t *testing.T) {
	s := NewSigner("", 0)

	_, err := s.GenerateToken("admin")
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = s.ParseToken("x.y.z")
	assert.ErrorIs(t, err, ErrNoSecret)
}
