package backlog

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	domain "github.com/example/canvas-room-server/domain/room"
)

// RedisStore is a BacklogStore backed by Redis. Each room gets two keys: a
// hash holding entry values and a sorted set (all scores zero) indexing entry
// keys so lexicographic range queries return them in timestamp order.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ domain.BacklogStore = (*RedisStore)(nil)

// NewRedisStore creates a store on an existing client. The prefix namespaces
// this application's keys within the Redis database.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) hashKey(roomID string) string {
	return s.prefix + roomID + ":events"
}

func (s *RedisStore) indexKey(roomID string) string {
	return s.prefix + roomID + ":index"
}

// Put stores a value and indexes its key in a single pipeline round trip.
func (s *RedisStore) Put(ctx context.Context, roomID, key string, value []byte) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.hashKey(roomID), key, value)
	pipe.ZAdd(ctx, s.indexKey(roomID), redis.Z{Score: 0, Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put backlog entry %s/%s: %w", roomID, key, err)
	}
	return nil
}

// Delete removes a value and its index member. Absent keys are a no-op.
func (s *RedisStore) Delete(ctx context.Context, roomID, key string) error {
	pipe := s.client.Pipeline()
	pipe.HDel(ctx, s.hashKey(roomID), key)
	pipe.ZRem(ctx, s.indexKey(roomID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete backlog entry %s/%s: %w", roomID, key, err)
	}
	return nil
}

// List returns entries ordered by key using a lex range over the index, then
// fetches the values in one HMGET.
func (s *RedisStore) List(ctx context.Context, roomID string, opts domain.ListOptions) ([]domain.Entry, error) {
	rangeBy := &redis.ZRangeBy{
		Min:    "-",
		Max:    "+",
		Offset: 0,
		Count:  int64(opts.Limit),
	}
	if opts.Limit <= 0 {
		rangeBy.Count = -1
	}

	var cmd *redis.StringSliceCmd
	if opts.Reverse {
		cmd = s.client.ZRevRangeByLex(ctx, s.indexKey(roomID), rangeBy)
	} else {
		cmd = s.client.ZRangeByLex(ctx, s.indexKey(roomID), rangeBy)
	}
	keys, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list backlog index for %s: %w", roomID, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, s.hashKey(roomID), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch backlog values for %s: %w", roomID, err)
	}

	entries := make([]domain.Entry, 0, len(keys))
	for i, key := range keys {
		// A nil value means the hash field was deleted between the two
		// commands; skip it rather than surface a phantom entry.
		str, ok := values[i].(string)
		if !ok {
			continue
		}
		entries = append(entries, domain.Entry{Key: key, Value: []byte(str)})
	}
	return entries, nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
