package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// enableMFA turns MFA on for userID and pins the service clock so tests can
// produce codes for distinct time steps.
func (h *harness) enableMFA(t *testing.T, userID string) (string, *time.Time) {
	t.Helper()
	ctx := context.Background()

	clock := time.Now()
	h.auth.now = func() time.Time { return clock }

	setup, err := h.auth.SetupMFA(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, setup.URL, "otpauth://totp/")
	assert.False(t, h.user(userID).MFAEnabled)

	code, err := h.totp.Code(setup.Secret, clock)
	require.NoError(t, err)
	require.NoError(t, h.auth.EnableMFA(ctx, userID, code))
	assert.True(t, h.user(userID).MFAEnabled)

	return setup.Secret, &clock
}

func TestMFALoginRequiresSecondFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.registerActive(t, "alice@x.io", "hunter22!")
	secret, clock := h.enableMFA(t, userID)

	challenge := h.login(t, "alice@x.io", "hunter22!")
	require.True(t, challenge.RequiresMFA)
	assert.NotEmpty(t, challenge.MFAToken)
	assert.Empty(t, challenge.AccessToken)
	assert.Empty(t, challenge.RefreshToken)
	assert.Zero(t, h.sessionCount(userID))

	_, err := h.auth.VerifyMFA(ctx, MFALoginInput{MFAToken: challenge.MFAToken, Code: "000000"})
	assert.ErrorIs(t, err, ErrInvalidMFACode)

	*clock = clock.Add(2 * time.Minute)
	code, err := h.totp.Code(secret, *clock)
	require.NoError(t, err)

	result, err := h.auth.VerifyMFA(ctx, MFALoginInput{MFAToken: challenge.MFAToken, Code: code})
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, 1, h.sessionCount(userID))

	// the same code cannot be used twice
	again := h.login(t, "alice@x.io", "hunter22!")
	_, err = h.auth.VerifyMFA(ctx, MFALoginInput{MFAToken: again.MFAToken, Code: code})
	assert.ErrorIs(t, err, ErrInvalidMFACode)
}

func TestVerifyMFARejectsOtherTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.registerActive(t, "alice@x.io", "hunter22!")
	plain := h.login(t, "alice@x.io", "hunter22!")
	h.enableMFA(t, userID)

	_, err := h.auth.VerifyMFA(ctx, MFALoginInput{MFAToken: plain.AccessToken, Code: "123456"})
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = h.auth.VerifyMFA(ctx, MFALoginInput{MFAToken: "nonsense", Code: "123456"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMFAStateTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.registerActive(t, "alice@x.io", "hunter22!")

	assert.ErrorIs(t, h.auth.EnableMFA(ctx, userID, "123456"), ErrMFASetupRequired)
	assert.ErrorIs(t, h.auth.DisableMFA(ctx, userID, "123456"), ErrMFANotEnabled)

	secret, clock := h.enableMFA(t, userID)

	_, err := h.auth.SetupMFA(ctx, userID)
	assert.ErrorIs(t, err, ErrMFAAlreadyEnabled)

	assert.ErrorIs(t, h.auth.DisableMFA(ctx, userID, "000000"), ErrInvalidMFACode)

	*clock = clock.Add(2 * time.Minute)
	code, err := h.totp.Code(secret, *clock)
	require.NoError(t, err)
	require.NoError(t, h.auth.DisableMFA(ctx, userID, code))
	assert.False(t, h.user(userID).MFAEnabled)
	assert.Nil(t, h.user(userID).MFASecret)

	result := h.login(t, "alice@x.io", "hunter22!")
	assert.False(t, result.RequiresMFA)
}
