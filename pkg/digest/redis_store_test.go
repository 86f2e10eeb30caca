//go:build integration
// +build integration

package digest

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/notiflow/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	url := testutil.StartRedisContainer(t)

	store, err := NewRedisStoreFromURL(context.Background(), url)
	require.NoError(t, err)

	// Isolate tests sharing the server.
	store.prefix = "notiflow:test:" + uuid.New().String() + ":"

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestRedisStore_ConcurrentRecordEvent_NoLostUpdates(t *testing.T) {
	batcher, _ := newTestBatcher(t, setupRedisStore(t))
	assertNoLostUpdates(t, batcher, 50)
}

func TestRedisStore_WindowLifecycle(t *testing.T) {
	store := setupRedisStore(t)
	batcher, clock := newTestBatcher(t, store)
	ctx := context.Background()
	key := testKey("user-1")

	for range 3 {
		_, err := batcher.RecordEvent(ctx, key, Event{Recipient: "user-1"}, weekly)
		require.NoError(t, err)
	}

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{key}, keys)

	_, err = batcher.Consume(ctx, key)
	require.ErrorIs(t, err, ErrWindowOpen)

	clock.Advance(5 * 24 * time.Hour)

	events, err := batcher.Consume(ctx, key)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	_, err = batcher.Consume(ctx, key)
	require.ErrorIs(t, err, ErrBucketNotFound)

	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedisStore_KeysWithSeparatorsStayApart(t *testing.T) {
	store := setupRedisStore(t)
	batcher, _ := newTestBatcher(t, store)
	ctx := context.Background()

	first := Key{WorkflowID: "w", StepID: "s", DigestKey: "x:y"}
	second := Key{WorkflowID: "w", StepID: "s:x", DigestKey: "y"}

	_, err := batcher.RecordEvent(ctx, first, Event{Recipient: "user-1"}, weekly)
	require.NoError(t, err)

	bucket, err := batcher.RecordEvent(ctx, second, Event{Recipient: "user-2"}, weekly)
	require.NoError(t, err)
	assert.Len(t, bucket.Events, 1)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Key{first, second}, keys)
}
