package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helixsec/studio-go/pkg/types"
)

const (
	executionKeyPrefix = "execution:"
	executionIndexKey  = "executions" // sorted set scored by start time
)

// RedisStore implements Store backed by Redis, so history survives
// restarts and is shared between console instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store using an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save upserts a record and indexes it by start time.
func (s *RedisStore) Save(ctx context.Context, rec types.ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, executionKeyPrefix+rec.ExecutionID, data, 0)
	pipe.ZAdd(ctx, executionIndexKey, redis.Z{
		Score:  float64(rec.StartedAt.UnixMilli()),
		Member: rec.ExecutionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// Get retrieves the full record.
func (s *RedisStore) Get(ctx context.Context, executionID string) (*types.ExecutionRecord, error) {
	data, err := s.client.Get(ctx, executionKeyPrefix+executionID).Bytes()
	if err == redis.Nil {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}

	var rec types.ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &rec, nil
}

// List returns one page of summaries, newest first. Search and
// workflow filters are applied client-side; the index only orders by
// start time.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) (*Page, error) {
	opts = opts.normalized()

	ids, err := s.client.ZRevRange(ctx, executionIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	var matches []types.ExecutionSummary
	for _, id := range ids {
		data, err := s.client.Get(ctx, executionKeyPrefix+id).Bytes()
		if err == redis.Nil {
			// Stale reference, clean up
			s.client.ZRem(ctx, executionIndexKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get execution %s: %w", id, err)
		}

		var rec types.ExecutionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal execution %s: %w", id, err)
		}
		if !recordMatches(&rec, opts) {
			continue
		}
		matches = append(matches, rec.Summary())
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartedAt.After(matches[j].StartedAt)
	})
	return paginate(matches, opts), nil
}

// Delete removes a record and its index entry.
func (s *RedisStore) Delete(ctx context.Context, executionID string) error {
	deleted, err := s.client.Del(ctx, executionKeyPrefix+executionID).Result()
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	if deleted == 0 {
		return ErrExecutionNotFound
	}
	s.client.ZRem(ctx, executionIndexKey, executionID)
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
