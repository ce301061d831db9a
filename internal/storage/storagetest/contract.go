// Package storagetest — общий набор проверок для реализаций storage.CacheStore.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/storage"
)

// Run прогоняет контракт CacheStore на хранилище, созданном newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.CacheStore) {
	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(context.Background(), storage.BucketMessages, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("buckets are separate", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Set(ctx, storage.BucketMessages, "k", []byte(`[1]`)))
		require.NoError(t, s.Set(ctx, storage.BucketConversations, "k", []byte(`[2]`)))

		v, ok, err := s.Get(ctx, storage.BucketMessages, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `[1]`, string(v))

		v, ok, err = s.Get(ctx, storage.BucketConversations, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `[2]`, string(v))
	})

	t.Run("timestamp starts at zero", func(t *testing.T) {
		ts, err := newStore(t).LastUpdate(context.Background())
		require.NoError(t, err)
		assert.True(t, ts.IsZero())
	})

	t.Run("clear keeps timestamp", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		at := time.UnixMilli(1_700_000_000_123)
		require.NoError(t, s.Set(ctx, storage.BucketMessages, "a", []byte(`1`)))
		require.NoError(t, s.Set(ctx, storage.BucketConversations, "b", []byte(`2`)))
		require.NoError(t, s.Touch(ctx, at))

		require.NoError(t, s.Clear(ctx))
		_, ok, _ := s.Get(ctx, storage.BucketMessages, "a")
		assert.False(t, ok)
		_, ok, _ = s.Get(ctx, storage.BucketConversations, "b")
		assert.False(t, ok)

		ts, err := s.LastUpdate(ctx)
		require.NoError(t, err)
		assert.True(t, at.Equal(ts), "want %v got %v", at, ts)
	})

	t.Run("reset zeroes timestamp", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Set(ctx, storage.BucketMessages, "a", []byte(`1`)))
		require.NoError(t, s.Touch(ctx, time.Now()))

		require.NoError(t, s.Reset(ctx))
		_, ok, _ := s.Get(ctx, storage.BucketMessages, "a")
		assert.False(t, ok)
		ts, err := s.LastUpdate(ctx)
		require.NoError(t, err)
		assert.True(t, ts.IsZero())

		require.NoError(t, s.Set(ctx, storage.BucketMessages, "a", []byte(`2`)))
		v, ok, _ := s.Get(ctx, storage.BucketMessages, "a")
		require.True(t, ok)
		assert.Equal(t, `2`, string(v))
	})
}
