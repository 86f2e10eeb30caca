package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix     = "notiflow:digest:"
	defaultRedisMaxRetries = 32
)

// RedisStore is a Store backed by Redis. Every slot is a JSON document updated
// inside a WATCH/MULTI transaction, so a concurrent writer on the same key makes
// the transaction fail and the mutation is replayed on fresh state.
//
//	<prefix>slot:<workflow>:<step>:<key>  => JSON encoded Slot, parts query-escaped
//	<prefix>keys                          => SET of JSON encoded Keys
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. prefix is optional.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &RedisStore{
		client:     client,
		prefix:     prefix,
		maxRetries: defaultRedisMaxRetries,
	}
}

// NewRedisStoreFromURL connects to the Redis server described by a redis:// URL.
func NewRedisStoreFromURL(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStore(client, ""), nil
}

func (s *RedisStore) slotKey(key Key) string {
	return s.prefix + "slot:" +
		url.QueryEscape(key.WorkflowID) + ":" +
		url.QueryEscape(key.StepID) + ":" +
		url.QueryEscape(key.DigestKey)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "keys"
}

// Mutate implements Store.
func (s *RedisStore) Mutate(ctx context.Context, key Key, fn func(slot *Slot) error) error {
	slotKey := s.slotKey(key)

	member, err := json.Marshal(key)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		slot := &Slot{}

		data, err := tx.Get(ctx, slotKey).Bytes()

		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, slot); err != nil {
				return fmt.Errorf("failed to decode digest slot %s: %w", key, err)
			}
		}

		if err := fn(slot); err != nil {
			return err
		}

		if slot.IsEmpty() {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, slotKey)
				pipe.SRem(ctx, s.indexKey(), member)

				return nil
			})

			return err
		}

		encoded, err := json.Marshal(slot)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, slotKey, encoded, 0)
			pipe.SAdd(ctx, s.indexKey(), member)

			return nil
		})

		return err
	}

	for range s.maxRetries {
		err := s.client.Watch(ctx, txf, slotKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		return err
	}

	return fmt.Errorf("%w: %s", ErrConflict, key)
}

// Keys implements Store.
func (s *RedisStore) Keys(ctx context.Context) ([]Key, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(members))
	for _, member := range members {
		var key Key
		if err := json.Unmarshal([]byte(member), &key); err != nil {
			return nil, fmt.Errorf("failed to decode digest key %q: %w", member, err)
		}

		keys = append(keys, key)
	}

	return keys, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
