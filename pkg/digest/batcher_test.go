package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/notiflow/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weekly = models.Schedule{CronExpression: "@weekly"}

// Wednesday; the next @weekly boundary is Sunday 2024-01-07 00:00 UTC.
var wednesday = time.Date(2024, time.January, 3, 10, 0, 0, 0, time.UTC)

func newTestBatcher(t *testing.T, store Store) (*Batcher, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(wednesday)

	return NewBatcher(store, WithClock(clock), WithLogger(slog.Default())), clock
}

func testKey(recipient string) Key {
	return Key{WorkflowID: "weekly-summary", StepID: "digest", DigestKey: recipient}
}

func TestBatcher_RecordEvent_OpensBucket(t *testing.T) {
	t.Parallel()

	batcher, _ := newTestBatcher(t, NewMemoryStore())
	ctx := context.Background()

	bucket, err := batcher.RecordEvent(ctx, testKey("user-1"), Event{
		Recipient: "user-1",
		Payload:   map[string]any{"comment": "first"},
	}, weekly)
	require.NoError(t, err)

	assert.Equal(t, WindowOpen, bucket.State)
	assert.Len(t, bucket.Events, 1)
	assert.NotEmpty(t, bucket.ID)
	assert.NotEmpty(t, bucket.Events[0].ID)
	assert.Equal(t, wednesday, bucket.OpenedAt)
	assert.Equal(t, time.Date(2024, time.January, 7, 0, 0, 0, 0, time.UTC), bucket.ClosesAt)
	assert.Equal(t, wednesday, bucket.Events[0].RecordedAt)

	second, err := batcher.RecordEvent(ctx, testKey("user-1"), Event{Recipient: "user-1"}, weekly)
	require.NoError(t, err)

	assert.Equal(t, bucket.ID, second.ID)
	assert.Len(t, second.Events, 2)
	assert.Len(t, bucket.Events, 1, "snapshots must not change after being returned")
}

func TestBatcher_RecordEvent_InvalidSchedule(t *testing.T) {
	t.Parallel()

	batcher, _ := newTestBatcher(t, NewMemoryStore())

	_, err := batcher.RecordEvent(context.Background(), testKey("user-1"), Event{}, models.Schedule{CronExpression: "not a cron"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidSchedule))
}

func TestBatcher_ConcurrentRecordEvent_NoLostUpdates(t *testing.T) {
	t.Parallel()

	batcher, _ := newTestBatcher(t, NewMemoryStore())
	assertNoLostUpdates(t, batcher, 200)
}

func assertNoLostUpdates(t *testing.T, batcher *Batcher, k int) {
	t.Helper()

	ctx := context.Background()
	key := testKey("user-concurrent")

	var wg sync.WaitGroup

	for i := range k {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := batcher.RecordEvent(ctx, key, Event{
				Recipient: "user-concurrent",
				Payload:   map[string]any{"n": i},
			}, weekly)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	bucket, err := batcher.Bucket(ctx, key)
	require.NoError(t, err)
	assert.Len(t, bucket.Events, k)

	seen := make(map[string]bool, k)
	for _, event := range bucket.Events {
		seen[event.ID] = true
	}

	assert.Len(t, seen, k)
}

func TestBatcher_WindowCloseIsDeterministic(t *testing.T) {
	t.Parallel()

	batcher, clock := newTestBatcher(t, NewMemoryStore())
	ctx := context.Background()
	key := testKey("user-1")

	for i := range 2 {
		_, err := batcher.RecordEvent(ctx, key, Event{Payload: map[string]any{"n": i}}, weekly)
		require.NoError(t, err)
	}

	_, err := batcher.Consume(ctx, key)
	require.ErrorIs(t, err, ErrWindowOpen)

	// Exactly on the boundary the window is closed.
	clock.Advance(time.Date(2024, time.January, 7, 0, 0, 0, 0, time.UTC).Sub(wednesday))

	closed, err := batcher.Bucket(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, WindowClosed, closed.State)

	late, err := batcher.RecordEvent(ctx, key, Event{Payload: map[string]any{"n": 2}}, weekly)
	require.NoError(t, err)
	assert.Equal(t, WindowOpen, late.State)
	assert.Len(t, late.Events, 1)
	assert.NotEqual(t, closed.ID, late.ID)
	assert.Equal(t, time.Date(2024, time.January, 14, 0, 0, 0, 0, time.UTC), late.ClosesAt)

	events, err := batcher.Consume(ctx, key)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[0].Payload["n"])
	assert.Equal(t, 1, events[1].Payload["n"])

	// The closed bucket flushes exactly once; the new one is still open.
	_, err = batcher.Consume(ctx, key)
	require.ErrorIs(t, err, ErrWindowOpen)

	clock.Advance(7 * 24 * time.Hour)

	events, err = batcher.Consume(ctx, key)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Payload["n"])

	_, err = batcher.Consume(ctx, key)
	require.ErrorIs(t, err, ErrBucketNotFound)
}

func TestBatcher_Timezone(t *testing.T) {
	t.Parallel()

	batcher, _ := newTestBatcher(t, NewMemoryStore())

	bucket, err := batcher.RecordEvent(context.Background(), testKey("user-1"), Event{}, models.Schedule{
		CronExpression: "0 9 * * *",
		Timezone:       "America/Sao_Paulo",
	})
	require.NoError(t, err)

	// 09:00 in Sao Paulo (UTC-3) is 12:00 UTC, still ahead on the same day.
	assert.Equal(t, time.Date(2024, time.January, 3, 12, 0, 0, 0, time.UTC), bucket.ClosesAt)
}

func TestBatcher_KeysAreIsolated(t *testing.T) {
	t.Parallel()

	batcher, _ := newTestBatcher(t, NewMemoryStore())
	ctx := context.Background()

	_, err := batcher.RecordEvent(ctx, testKey("user-1"), Event{}, weekly)
	require.NoError(t, err)

	_, err = batcher.RecordEvent(ctx, testKey("user-2"), Event{}, weekly)
	require.NoError(t, err)

	first, err := batcher.Bucket(ctx, testKey("user-1"))
	require.NoError(t, err)
	assert.Len(t, first.Events, 1)

	_, err = batcher.Bucket(ctx, testKey("user-3"))
	require.ErrorIs(t, err, ErrBucketNotFound)
}

func TestBatcher_ConsumeClosed(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	batcher, clock := newTestBatcher(t, store)
	ctx := context.Background()

	for i := range 3 {
		_, err := batcher.RecordEvent(ctx, testKey(fmt.Sprintf("user-%d", i)), Event{}, weekly)
		require.NoError(t, err)
	}

	flushed, err := batcher.ConsumeClosed(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, flushed)

	clock.Advance(5 * 24 * time.Hour)

	var (
		mu      sync.Mutex
		handled []string
	)

	flushed, err = batcher.ConsumeClosed(ctx, func(_ context.Context, bucket *Bucket) error {
		mu.Lock()
		defer mu.Unlock()

		assert.Equal(t, WindowFlushed, bucket.State)
		assert.NotNil(t, bucket.FlushedAt)
		handled = append(handled, bucket.Key.DigestKey)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, flushed)
	assert.ElementsMatch(t, []string{"user-0", "user-1", "user-2"}, handled)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "flushed buckets are discarded")
}

func TestSweeper_Sweep(t *testing.T) {
	t.Parallel()

	batcher, clock := newTestBatcher(t, NewMemoryStore())
	ctx := context.Background()

	_, err := batcher.RecordEvent(ctx, testKey("user-1"), Event{}, weekly)
	require.NoError(t, err)

	clock.Advance(5 * 24 * time.Hour)

	flushedCh := make(chan *Bucket, 1)
	sweeper := NewSweeper(batcher, "@every 1h", func(_ context.Context, bucket *Bucket) error {
		flushedCh <- bucket

		return nil
	}, slog.Default())

	sweeper.Sweep()

	select {
	case bucket := <-flushedCh:
		assert.Len(t, bucket.Events, 1)
	default:
		t.Fatal("expected a flushed bucket")
	}
}

func TestSweeper_StartRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	batcher, _ := newTestBatcher(t, NewMemoryStore())
	sweeper := NewSweeper(batcher, "every now and then", nil, slog.Default())

	require.Error(t, sweeper.Start(context.Background()))
	sweeper.Stop()
}

func TestSweeper_StartStop(t *testing.T) {
	t.Parallel()

	batcher, _ := newTestBatcher(t, NewMemoryStore())
	sweeper := NewSweeper(batcher, "@every 1h", nil, slog.Default())

	require.NoError(t, sweeper.Start(context.Background()))
	require.NoError(t, sweeper.Start(context.Background()))
	sweeper.Stop()
	sweeper.Stop()
}

func TestMemoryStore_FailedMutationLeavesSlotIntact(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	batcher, _ := newTestBatcher(t, store)
	ctx := context.Background()
	key := testKey("user-1")

	_, err := batcher.RecordEvent(ctx, key, Event{}, weekly)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.Mutate(ctx, key, func(slot *Slot) error {
		slot.Open.Events = nil

		return boom
	})
	require.ErrorIs(t, err, boom)

	bucket, err := batcher.Bucket(ctx, key)
	require.NoError(t, err)
	assert.Len(t, bucket.Events, 1)
}

func TestRedisStore_SlotKeysAreDistinct(t *testing.T) {
	t.Parallel()

	store := NewRedisStore(nil, "")

	first := Key{WorkflowID: "w", StepID: "s", DigestKey: "x:y"}
	second := Key{WorkflowID: "w", StepID: "s:x", DigestKey: "y"}

	assert.NotEqual(t, store.slotKey(first), store.slotKey(second))
	assert.Equal(t, "notiflow:digest:slot:weekly-summary:digest:user%3A42", store.slotKey(Key{
		WorkflowID: "weekly-summary",
		StepID:     "digest",
		DigestKey:  "user:42",
	}))
}
