package flowstore

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
	workflowKeyPrefix = "workflow:"
	workflowListKey   = "workflows"
)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed workflow store.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store using an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) workflowKey(id string) string {
	return workflowKeyPrefix + id
}

// Save upserts a workflow definition with its metadata.
func (s *RedisStore) Save(ctx context.Context, req *SaveRequest) (*SavedWorkflow, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w := &SavedWorkflow{
		ID:          req.Graph.ID,
		Name:        req.Graph.Name,
		Description: req.Description,
		Tags:        req.Tags,
		IsTemplate:  req.IsTemplate,
		IsTool:      req.IsTool,
		Graph:       req.Graph,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, err := s.Get(ctx, w.ID); err == nil {
		w.CreatedAt = existing.CreatedAt
	}

	if err := s.put(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// SaveSnapshot upserts just the graph, preserving existing metadata.
func (s *RedisStore) SaveSnapshot(ctx context.Context, g types.WorkflowGraph) error {
	now := time.Now().UTC()
	w := &SavedWorkflow{
		ID:        g.ID,
		Name:      g.Name,
		Graph:     g,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := s.Get(ctx, g.ID); err == nil {
		w.Description = existing.Description
		w.Tags = existing.Tags
		w.IsTemplate = existing.IsTemplate
		w.IsTool = existing.IsTool
		w.CreatedAt = existing.CreatedAt
	}
	return s.put(ctx, w)
}

func (s *RedisStore) put(ctx context.Context, w *SavedWorkflow) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	// Use transaction to set workflow and add to list
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.workflowKey(w.ID), data, 0)
	pipe.SAdd(ctx, workflowListKey, w.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by id.
func (s *RedisStore) Get(ctx context.Context, id string) (*SavedWorkflow, error) {
	data, err := s.client.Get(ctx, s.workflowKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var w SavedWorkflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &w, nil
}

// Delete removes a workflow.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	// Check if exists
	exists, err := s.client.Exists(ctx, s.workflowKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists == 0 {
		return ErrWorkflowNotFound
	}

	// Use transaction to delete workflow and remove from list
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.workflowKey(id))
	pipe.SRem(ctx, workflowListKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

// List returns workflows matching the options, most recently updated
// first.
func (s *RedisStore) List(ctx context.Context, opts *ListOptions) ([]*SavedWorkflow, error) {
	ids, err := s.client.SMembers(ctx, workflowListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list workflow ids: %w", err)
	}

	var out []*SavedWorkflow
	for _, id := range ids {
		w, err := s.Get(ctx, id)
		if err == ErrWorkflowNotFound {
			// Stale reference, clean up
			s.client.SRem(ctx, workflowListKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !matches(w, opts) {
			continue
		}
		out = append(out, w)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
