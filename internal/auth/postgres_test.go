package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byteagent/byte/internal/auth"
	"github.com/byteagent/byte/internal/log"
	"github.com/byteagent/byte/internal/testutil"
)

func TestPostgres_UserStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := auth.NewPostgres(db.Pool, log.NewNop())

	created, err := store.CreateUser(ctx, "a@b.com", "alice", "hash")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	t.Run("duplicate email", func(t *testing.T) {
		_, err := store.CreateUser(ctx, "a@b.com", "bob", "hash2")
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})

	t.Run("lookup by email and id", func(t *testing.T) {
		byMail, err := store.GetUserByEmail(ctx, "a@b.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byMail.ID)
		assert.Equal(t, "hash", byMail.PasswordHash)

		byID, err := store.GetUserByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Username)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := store.GetUserByEmail(ctx, "nobody@b.com")
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
		_, err = store.GetUserByID(ctx, 999999)
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})
}
