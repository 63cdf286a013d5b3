package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by one Redis hash per sandbox.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. Keys are "<prefix>sandbox:<id>".
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(id string) string {
	return r.prefix + "sandbox:" + id
}

func (r *Redis) Put(ctx context.Context, id string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := r.client.HSet(ctx, r.key(id), values).Err(); err != nil {
		return fmt.Errorf("failed to cache sandbox %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache for sandbox %s: %w", id, err)
	}
	return fields, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to clear cache for sandbox %s: %w", id, err)
	}
	return nil
}

var _ Cache = (*Redis)(nil)
