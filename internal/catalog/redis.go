package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helixsec/studio-go/pkg/types"
)

const (
	nodeTypeKeyPrefix = "nodetype:"
	nodeTypeListKey   = "nodetypes"
)

// RedisSource serves node type descriptors published to Redis, so a
// deployment can extend the palette without rebuilding the console.
type RedisSource struct {
	client *redis.Client
}

// NewRedisSource connects to Redis and verifies the connection.
func NewRedisSource(addr string) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisSource{client: client}, nil
}

// NewRedisSourceWithClient creates a source using an existing client.
func NewRedisSourceWithClient(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

// Fetch returns all published descriptors.
func (s *RedisSource) Fetch(ctx context.Context) ([]types.NodeTypeDescriptor, error) {
	ids, err := s.client.SMembers(ctx, nodeTypeListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list node types: %w", err)
	}

	var descs []types.NodeTypeDescriptor
	for _, id := range ids {
		data, err := s.client.Get(ctx, nodeTypeKeyPrefix+id).Bytes()
		if err == redis.Nil {
			// Stale reference, clean up
			s.client.SRem(ctx, nodeTypeListKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get node type %s: %w", id, err)
		}

		var d types.NodeTypeDescriptor
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("unmarshal node type %s: %w", id, err)
		}
		descs = append(descs, d)
	}
	return descs, nil
}

// Publish stores a descriptor so subsequent Fetch calls return it.
func (s *RedisSource) Publish(ctx context.Context, d types.NodeTypeDescriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal node type: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, nodeTypeKeyPrefix+d.NodeType, data, 0)
	pipe.SAdd(ctx, nodeTypeListKey, d.NodeType)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish node type: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisSource) Close() error {
	return s.client.Close()
}
