package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultancy/api/internal/models"
)

func TestMeReturnsPublicProfile(t *testing.T) {
	h := newHarness(t)
	userID := h.registerActive(t, "alice@x.io", "hunter22!")

	me, err := h.auth.Me(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.io", me.Email)
	assert.Equal(t, models.UserStatusActive, me.Status)

	_, err = h.auth.Me(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndRevokeSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.registerActive(t, "alice@x.io", "hunter22!")
	bobID := h.registerActive(t, "bob@x.io", "hunter22!")

	first := h.login(t, "alice@x.io", "hunter22!")
	h.login(t, "alice@x.io", "hunter22!")
	claims, err := h.codec.VerifyAccess(first.AccessToken)
	require.NoError(t, err)

	sessions, err := h.auth.ListSessions(ctx, userID, claims.SessionID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	current := 0
	for _, s := range sessions {
		if s.Current {
			current++
			assert.Equal(t, claims.SessionID, s.ID)
		}
		assert.Equal(t, "10.0.0.1", s.IPAddress)
	}
	assert.Equal(t, 1, current)

	assert.ErrorIs(t, h.auth.RevokeSession(ctx, bobID, claims.SessionID), ErrNotFound)
	require.NoError(t, h.auth.RevokeSession(ctx, userID, claims.SessionID))

	_, err = h.auth.Refresh(ctx, RefreshInput{RefreshToken: first.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, 1, h.sessionCount(userID))
}

func TestExportDataWritesArchive(t *testing.T) {
	h := newHarness(t)
	userID := h.registerActive(t, "alice@x.io", "hunter22!")
	h.login(t, "alice@x.io", "hunter22!")

	result, err := h.auth.ExportData(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.URL, "https://exports.test/exports/"+userID+"/"))
	require.Len(t, h.exporter.objects, 1)

	for _, body := range h.exporter.objects {
		var archive map[string]any
		require.NoError(t, json.Unmarshal(body, &archive))
		profile := archive["profile"].(map[string]any)
		assert.Equal(t, "alice@x.io", profile["email"])
		assert.Len(t, archive["sessions"], 1)
	}
}

func TestExportDataWithoutStore(t *testing.T) {
	h := newHarness(t)
	h.auth.exporter = nil
	userID := h.registerActive(t, "alice@x.io", "hunter22!")

	_, err := h.auth.ExportData(context.Background(), userID)
	assert.ErrorIs(t, err, ErrExportUnavailable)
}

func TestEraseAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.registerActive(t, "alice@x.io", "hunter22!")
	session := h.login(t, "alice@x.io", "hunter22!")

	assert.ErrorIs(t, h.auth.EraseAccount(ctx, userID, "wrong-password"), ErrInvalidCredentials)
	assert.Equal(t, 1, h.sessionCount(userID))

	require.NoError(t, h.auth.EraseAccount(ctx, userID, "hunter22!"))

	user := h.user(userID)
	assert.Equal(t, models.UserStatusDeleted, user.Status)
	assert.NotEqual(t, "alice@x.io", user.Email)
	assert.Empty(t, user.FirstName)
	assert.Zero(t, h.sessionCount(userID))

	_, err := h.auth.Refresh(ctx, RefreshInput{RefreshToken: session.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = h.auth.Login(ctx, LoginInput{Email: "alice@x.io", Password: "hunter22!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.auth.Me(ctx, userID)
	assert.ErrorIs(t, err, ErrNotFound)

	// the address is free again
	_, err = h.auth.Register(ctx, RegisterInput{Email: "alice@x.io", Password: "hunter22!", FirstName: "Alice", LastName: "Smith"})
	assert.NoError(t, err)
}

func TestEraseAccountRevokesOutstandingTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.registerActive(t, "alice@x.io", "hunter22!")

	require.NoError(t, h.auth.RequestPasswordReset(ctx, "alice@x.io"))
	reset, ok := h.mail.last("reset")
	require.True(t, ok)

	require.NoError(t, h.auth.EraseAccount(ctx, userID, "hunter22!"))
	assert.Zero(t, h.db.TokenCount(userID))

	err := h.auth.ResetPassword(ctx, reset.Token, "brand-new-pass")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	user := h.user(userID)
	assert.Equal(t, models.UserStatusDeleted, user.Status)
	assert.Empty(t, user.PasswordHash)
	_, sent := h.mail.last("changed")
	assert.False(t, sent)
}

func TestTokensOfDeletedAccountsCannotBeRedeemed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	userID, err := h.auth.Register(ctx, RegisterInput{Email: "alice@x.io", Password: "hunter22!", FirstName: "Alice", LastName: "Smith"})
	require.NoError(t, err)
	verify, ok := h.mail.last("verify")
	require.True(t, ok)

	require.NoError(t, h.db.Users().UpdateStatus(ctx, userID, models.UserStatusDeleted))

	_, err = h.auth.VerifyEmail(ctx, verify.Token)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	assert.Equal(t, models.UserStatusDeleted, h.user(userID).Status)
	assert.Nil(t, h.user(userID).EmailVerifiedAt)
}
