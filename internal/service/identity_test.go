package service

import (
	"context"
	"testing"

	"github.com/rps-rewards/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityLastWriteWins(t *testing.T) {
	registry := NewIdentityRegistry(newMemStore(), discardLogger())
	ctx := context.Background()

	require.NoError(t, registry.UpsertWallet(ctx, 111, "EQAbc"))
	require.NoError(t, registry.UpsertWallet(ctx, 222, "EQAbc"))

	userID, err := registry.ResolveUserID(ctx, "EQAbc")
	require.NoError(t, err)
	assert.Equal(t, int64(222), userID)
}

func TestIdentityUnknownWallet(t *testing.T) {
	registry := NewIdentityRegistry(newMemStore(), discardLogger())

	_, err := registry.ResolveUserID(context.Background(), "EQunknown")
	require.Error(t, err)
	assert.True(t, domain.IsNotFoundError(err))
}

func TestIdentityValidation(t *testing.T) {
	registry := NewIdentityRegistry(newMemStore(), discardLogger())
	ctx := context.Background()

	assert.True(t, domain.IsValidationError(registry.UpsertWallet(ctx, 1, "")))
	assert.True(t, domain.IsValidationError(registry.UpsertWallet(ctx, 0, "EQAbc")))

	_, err := registry.ResolveUserID(ctx, "")
	assert.True(t, domain.IsValidationError(err))
}
