package redis

import (
	"context"
	"testing"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_Verify(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	store := NewTokenStore(client)

	require.NoError(t, store.Issue(ctx, "evt-1", "host-code", domain.RoleHost, 0))
	require.NoError(t, store.Issue(ctx, "evt-1", "session-1", domain.RoleAttendee, time.Hour))

	role, err := store.Verify(ctx, "evt-1", "host-code")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, role)

	role, err = store.Verify(ctx, "evt-1", "session-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAttendee, role)

	_, err = store.Verify(ctx, "evt-2", "host-code")
	assert.ErrorIs(t, err, domain.ErrInvalidToken, "tokens are scoped to one event")

	_, err = store.Verify(ctx, "evt-1", "")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	require.NoError(t, store.Revoke(ctx, "evt-1", "host-code"))
	_, err = store.Verify(ctx, "evt-1", "host-code")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestTokenStore_CorruptRole(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.Set(ctx, tokenKey("evt-1", "odd"), "admin", 0).Err())

	_, err := NewTokenStore(client).Verify(ctx, "evt-1", "odd")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}
