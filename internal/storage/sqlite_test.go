package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_InitAndGet(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	assert.False(t, s.Initialized())

	require.NoError(t, s.Init(ctx, testFlags(4)))
	assert.True(t, s.Initialized())

	flag, found, err := s.Get(ctx, "new-checkout")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4, flag.Version)
	assert.Equal(t, []any{false, true}, flag.Variations)

	_, found, err = s.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, found)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.Equal(t, int64(2), s.Metrics().Size)
}

func TestSQLiteStore_InitReplaces(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Init(ctx, testFlags(1)))
	require.NoError(t, s.Init(ctx, nil))

	_, found, err := s.Get(ctx, "banner")
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, s.Initialized())
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx, testFlags(9)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.Initialized())
	flag, found, err := reopened.Get(ctx, "banner")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 9, flag.Version)
}

func TestSQLiteStore_Closed(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = s.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Init(context.Background(), nil), ErrClosed)
}
