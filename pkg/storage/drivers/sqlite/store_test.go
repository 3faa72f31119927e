package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/livecenter/pkg/storage"
	"github.com/aussiebroadwan/livecenter/pkg/storage/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "livecenter.db"))
	defer s.Close()

	require.NoError(t, s.Ping(ctx))

	_, err := s.Get(ctx, storage.KeyToken)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Set(ctx, storage.KeyToken, "a.b.c"))
	require.NoError(t, s.Set(ctx, storage.KeyToken, "d.e.f"))

	v, err := s.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	require.Equal(t, "d.e.f", v)

	require.NoError(t, s.Remove(ctx, storage.KeyToken))
	require.NoError(t, s.Remove(ctx, storage.KeyToken))

	_, err = s.Get(ctx, storage.KeyToken)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "livecenter.db")

	s := openStore(t, path)
	require.NoError(t, s.Set(ctx, storage.KeyRedirectPath, "/pages/room/detail"))
	require.NoError(t, s.Close())

	// Migrations are idempotent on an already-migrated database.
	s = openStore(t, path)
	defer s.Close()

	v, err := s.Get(ctx, storage.KeyRedirectPath)
	require.NoError(t, err)
	require.Equal(t, "/pages/room/detail", v)
}
