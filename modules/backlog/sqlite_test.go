package backlog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	domain "github.com/example/canvas-room-server/domain/room"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store, err := NewGormStore(db)
	require.NoError(t, err)
	return store
}

func TestGormStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	require.NoError(t, store.Put(ctx, "lobby", "2024-01-01T00:00:00.001Z", []byte(`{"a":1}`)))
	require.NoError(t, store.Put(ctx, "lobby", "2024-01-01T00:00:00.002Z", []byte(`{"a":2}`)))

	entries, err := store.List(ctx, "lobby", domain.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2024-01-01T00:00:00.001Z", entries[0].Key)
	assert.Equal(t, []byte(`{"a":1}`), entries[0].Value)
}

func TestGormStoreReverseLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	for i := 0; i < 150; i++ {
		key := fmt.Sprintf("key-%04d", i)
		require.NoError(t, store.Put(ctx, "lobby", key, []byte("v")))
	}

	entries, err := store.List(ctx, "lobby", domain.ListOptions{Reverse: true, Limit: 100})
	require.NoError(t, err)
	require.Len(t, entries, 100)
	assert.Equal(t, "key-0149", entries[0].Key)
	assert.Equal(t, "key-0050", entries[99].Key)
}

func TestGormStorePutReplacesValue(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	require.NoError(t, store.Put(ctx, "lobby", "k", []byte("old")))
	require.NoError(t, store.Put(ctx, "lobby", "k", []byte("new")))

	entries, err := store.List(ctx, "lobby", domain.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("new"), entries[0].Value)
}

func TestGormStoreDeleteIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	require.NoError(t, store.Put(ctx, "room-a", "k", []byte("a")))
	require.NoError(t, store.Put(ctx, "room-b", "k", []byte("b")))

	require.NoError(t, store.Delete(ctx, "room-a", "k"))
	require.NoError(t, store.Delete(ctx, "room-a", "k")) // idempotent

	entries, err := store.List(ctx, "room-b", domain.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("b"), entries[0].Value)
}
