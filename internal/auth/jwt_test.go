package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner("secret", time.Hour)
	tok, err := s.CreateAccessToken(42, RoleAdmin)
	require.NoError(t, err)

	c, err := s.ParseValidate(tok)
	require.NoError(t, err)
	id, err := c.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, RoleAdmin, c.Role)
}

func TestSignerRejects(t *testing.T) {
	s := NewSigner("secret", time.Hour)
	tok, err := NewSigner("other", time.Hour).CreateAccessToken(1, RoleUser)
	require.NoError(t, err)
	_, err = s.ParseValidate(tok)
	assert.Error(t, err)

	expired := &Signer{secret: []byte("secret"), ttl: -time.Minute}
	tok, err = expired.CreateAccessToken(1, RoleUser)
	require.NoError(t, err)
	_, err = s.ParseValidate(tok)
	assert.Error(t, err)

	_, err = s.ParseValidate("not-a-token")
	assert.Error(t, err)
}

func TestRefreshTokenSeparatedFromAccess(t *testing.T) {
	s := NewSigner("secret", time.Hour, WithRefreshTTL(24*time.Hour))

	refresh, err := s.CreateRefreshToken(42)
	require.NoError(t, err)
	id, err := s.ParseRefresh(refresh)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	_, err = s.ParseValidate(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	access, err := s.CreateAccessToken(42, RoleUser)
	require.NoError(t, err)
	_, err = s.ParseRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
