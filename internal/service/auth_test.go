package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/jwt"
)

func token(t *testing.T, key string, mutate func(*jwt.Claims)) string {
	t.Helper()
	identity, err := blurchat.PrivKeyToAddr(key, blurchat.IdentityPrefix)
	require.NoError(t, err)
	claims := jwt.Claims{
		Issuer:         identity,
		Subject:        blurchat.DirectoryJWTSubject,
		Audience:       "directory.example.com",
		ExpirationTime: strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10),
		Handle:         "17",
	}
	if mutate != nil {
		mutate(&claims)
	}
	tok, err := jwt.Create(claims, key)
	require.NoError(t, err)
	return tok
}

func TestAuthJwt(t *testing.T) {
	ctx := context.Background()
	s := NewAuthService(domain.Config{FQDN: "directory.example.com"})
	key, err := blurchat.GenerateKey()
	require.NoError(t, err)
	identity, err := blurchat.PrivKeyToAddr(key, blurchat.IdentityPrefix)
	require.NoError(t, err)

	result, err := s.AuthJwt(ctx, token(t, key, nil))
	require.NoError(t, err)
	assert.Equal(t, identity, result.Identity)
	assert.Equal(t, "17", result.Handle)

	_, err = s.AuthJwt(ctx, token(t, key, func(c *jwt.Claims) { c.Handle = "" }))
	assert.Error(t, err)

	_, err = s.AuthJwt(ctx, token(t, key, func(c *jwt.Claims) { c.Audience = "elsewhere" }))
	assert.Error(t, err)

	_, err = s.AuthJwt(ctx, token(t, key, func(c *jwt.Claims) { c.Subject = "chat" }))
	assert.Error(t, err)

	_, err = s.AuthJwt(ctx, token(t, key, func(c *jwt.Claims) {
		c.ExpirationTime = strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)
	}))
	assert.Error(t, err)

	_, err = s.AuthJwt(ctx, "not.a.jwt")
	assert.Error(t, err)
}
