package digest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/notiflow/pkg/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Batcher turns many trigger calls over time into one batched downstream action.
// Window state is evaluated lazily on every access, so no timer is needed for
// correctness: a read right after a boundary already sees the bucket closed.
type Batcher struct {
	store  Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// Option customises a Batcher.
type Option func(*Batcher)

// WithClock sets the clock used to evaluate windows.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Batcher) {
		b.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) {
		b.logger = logger
	}
}

// NewBatcher creates a Batcher on top of a Store.
func NewBatcher(store Store, opts ...Option) *Batcher {
	b := &Batcher{
		store:  store,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	b.logger = b.logger.With("module", "digest_batcher")

	return b
}

// Clock returns the clock the batcher evaluates windows with.
func (b *Batcher) Clock() clockwork.Clock {
	return b.clock
}

// RecordEvent appends an event to the open bucket for key, creating the bucket
// when absent, and returns a snapshot of it. A bucket whose window has passed is
// closed first and left for consumption; the event then opens a new bucket.
func (b *Batcher) RecordEvent(ctx context.Context, key Key, event Event, schedule models.Schedule) (*Bucket, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	var snapshot *Bucket

	err := b.store.Mutate(ctx, key, func(slot *Slot) error {
		now := b.clock.Now().UTC()
		slot.roll(now)

		if slot.Open == nil {
			closesAt, err := schedule.Next(now)
			if err != nil {
				return err
			}

			slot.Open = &Bucket{
				ID:       uuid.New().String(),
				Key:      key,
				Events:   []Event{},
				State:    WindowOpen,
				Schedule: schedule,
				OpenedAt: now,
				ClosesAt: closesAt,
			}
		}

		recorded := event
		if recorded.RecordedAt.IsZero() {
			recorded.RecordedAt = now
		}

		slot.Open.Events = append(slot.Open.Events, recorded)
		snapshot = slot.Open.Snapshot()

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record digest event for %s: %w", key, err)
	}

	b.logger.DebugContext(ctx, "Recorded digest event",
		"key", key.String(),
		"bucket_id", snapshot.ID,
		"event_count", len(snapshot.Events),
		"closes_at", snapshot.ClosesAt,
	)

	return snapshot, nil
}

// Bucket returns a snapshot of the open bucket for key. When the open window has
// passed, the oldest closed bucket is returned instead.
func (b *Batcher) Bucket(ctx context.Context, key Key) (*Bucket, error) {
	var snapshot *Bucket

	err := b.store.Mutate(ctx, key, func(slot *Slot) error {
		slot.roll(b.clock.Now().UTC())

		switch {
		case slot.Open != nil:
			snapshot = slot.Open.Snapshot()
		case len(slot.Closed) > 0:
			snapshot = slot.Closed[0].Snapshot()
		default:
			return ErrBucketNotFound
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// Consume returns the events of the oldest closed bucket for key and marks it
// flushed, which discards it. It fails with ErrWindowOpen while the only bucket
// is still accumulating, and with ErrBucketNotFound when there is nothing.
func (b *Batcher) Consume(ctx context.Context, key Key) ([]Event, error) {
	bucket, err := b.consume(ctx, key)
	if err != nil {
		return nil, err
	}

	return bucket.Events, nil
}

func (b *Batcher) consume(ctx context.Context, key Key) (*Bucket, error) {
	var flushed *Bucket

	err := b.store.Mutate(ctx, key, func(slot *Slot) error {
		now := b.clock.Now().UTC()
		slot.roll(now)

		if len(slot.Closed) == 0 {
			if slot.Open != nil {
				return ErrWindowOpen
			}

			return ErrBucketNotFound
		}

		flushed = slot.Closed[0]
		slot.Closed = slot.Closed[1:]

		flushed.State = WindowFlushed
		flushed.FlushedAt = &now

		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.InfoContext(ctx, "Flushed digest bucket",
		"key", key.String(),
		"bucket_id", flushed.ID,
		"event_count", len(flushed.Events),
	)

	return flushed, nil
}

// ConsumeClosed consumes every closed bucket of every key and hands each to fn.
// It returns how many buckets were flushed.
func (b *Batcher) ConsumeClosed(ctx context.Context, fn func(ctx context.Context, bucket *Bucket) error) (int, error) {
	keys, err := b.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list digest keys: %w", err)
	}

	flushed := 0

	for _, key := range keys {
		for {
			bucket, err := b.consume(ctx, key)
			if err != nil {
				break
			}

			flushed++

			if fn == nil {
				continue
			}

			if err := fn(ctx, bucket); err != nil {
				b.logger.ErrorContext(ctx, "Failed to handle flushed digest bucket",
					"key", key.String(),
					"bucket_id", bucket.ID,
					"error", err,
				)
			}
		}
	}

	return flushed, nil
}
