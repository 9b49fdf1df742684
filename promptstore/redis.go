package promptstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all snapshot keys.
	Prefix string
	// TTL is the snapshot expiry (0 = never expire).
	TTL time.Duration
}

const defaultRedisPrefix = "magpie:prompt:"

// RedisStore keeps the latest snapshot per user/agent pair in Redis,
// suitable when several daemon instances share prompt state.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("promptstore: redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests with
// miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(userID, agentID string) string {
	return s.prefix + userID + ":" + agentID
}

// Save stores the snapshot under its pair key.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.UserID, snap.AgentID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Latest reads the snapshot for the pair, or returns ErrNoSnapshot.
func (s *RedisStore) Latest(ctx context.Context, userID, agentID string) (Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(userID, agentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
