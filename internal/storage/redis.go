package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/trailing"
)

// Redis keys for the two snapshot documents.
const (
	stateKey     = "trading:order_manager_state"
	positionsKey = "trading:active_positions"

	redisOpTimeout = 5 * time.Second
)

// RedisBackend stores snapshots as JSON documents in Redis.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg config.StorageConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	return &RedisBackend{client: client}, nil
}

// SaveState writes the combined manager state snapshot.
func (r *RedisBackend) SaveState(state State) error {
	return r.setJSON(stateKey, state)
}

// LoadState reads the last state snapshot. A missing key is not an error.
func (r *RedisBackend) LoadState() (*State, error) {
	var state State
	found, err := r.getJSON(stateKey, &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// SavePositions writes the tracked position snapshot.
func (r *RedisBackend) SavePositions(positions []trailing.Position) error {
	return r.setJSON(positionsKey, positions)
}

// LoadPositions reads the last position snapshot. A missing key is not an
// error.
func (r *RedisBackend) LoadPositions() ([]trailing.Position, error) {
	var positions []trailing.Position
	found, err := r.getJSON(positionsKey, &positions)
	if err != nil || !found {
		return nil, err
	}
	return positions, nil
}

// Close releases the Redis connection.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) setJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot in Redis: %w", err)
	}
	return nil
}

func (r *RedisBackend) getJSON(key string, v interface{}) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read snapshot from Redis: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse snapshot from Redis: %w", err)
	}
	return true, nil
}
