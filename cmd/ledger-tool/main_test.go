package main

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueToken(t *testing.T) {
	now := time.Now()
	signed, err := issueToken("ops-secret", "ops@shop.test", time.Hour, now)
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return []byte("ops-secret"), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	require.NoError(t, err)
	assert.True(t, token.Valid)

	sub, err := claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "ops@shop.test", sub)

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour).Unix(), exp.Unix())
}

func TestIssueToken_ExpiredIsRejected(t *testing.T) {
	signed, err := issueToken("ops-secret", "ops", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = jwt.Parse(signed, func(*jwt.Token) (any, error) { return []byte("ops-secret"), nil })
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}
