package checkpoint

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores a model under a single Redis key
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis returns a Store using the Redis server at address
func NewRedis(address, key string) *Redis {
	return NewRedisFromClient(redis.NewClient(&redis.Options{
		Addr: address,
	}), key)
}

// NewRedisFromClient creates a new Redis store from an existing client.
func NewRedisFromClient(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key}
}

// Save implements the Store interface
func (r *Redis) Save(ctx context.Context, obj gob.GobEncoder) error {
	data, err := obj.GobEncode()
	if err != nil {
		return fmt.Errorf("save: could not encode model: %w", err)
	}

	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save: failed to save to redis: %w", err)
	}
	return nil
}

// Load implements the Store interface
func (r *Redis) Load(ctx context.Context, into gob.GobDecoder) (bool,
	error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load: failed to get from redis: %w", err)
	}

	if err := decodeInto(into, data); err != nil {
		return false, fmt.Errorf("load: %w", err)
	}
	return true, nil
}

// Close closes the client
func (r *Redis) Close() error {
	return r.client.Close()
}
