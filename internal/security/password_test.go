package security

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashAndCompare(t *testing.T) {
	hasher, err := NewPasswordHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)
	ctx := context.Background()

	hash, err := hasher.Hash(ctx, "hunter22!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$"))

	ok, err := hasher.Compare(ctx, hash, "hunter22!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Compare(ctx, hash, "hunter23!")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordCompareMalformedHash(t *testing.T) {
	hasher, err := NewPasswordHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)

	ok, err := hasher.Compare(context.Background(), "not-a-hash", "whatever")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPasswordHashHonoursCancelledContext(t *testing.T) {
	hasher, err := NewPasswordHasher(bcrypt.MinCost, 1)
	require.NoError(t, err)

	// hold the only slot so the next caller has to wait
	require.NoError(t, hasher.gate.Acquire(context.Background(), 1))
	defer hasher.gate.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = hasher.Hash(ctx, "hunter22!")
	assert.ErrorIs(t, err, context.Canceled)
}
