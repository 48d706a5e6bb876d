package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taxiflow/taxiflow/internal/model"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// RedisConfig configures the Redis ledger backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all keys (e.g., "taxiflow:runs:")
	Prefix string

	// TTL is the time-to-live for run keys (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Prefix:  "taxiflow:runs:",
		TTL:     30 * 24 * time.Hour,
		Timeout: 5 * time.Second,
	}
}

// RedisBackend keeps each run under its own key and indexes runs by start
// time in a sorted set.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects and pings the server.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, tferrors.Wrap(err, tferrors.CodeNetwork, "failed to connect to Redis").
			WithContext("address", cfg.Address)
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + id
}

func (b *RedisBackend) indexKey() string {
	return b.cfg.Prefix + "index"
}

// Save stores rec and refreshes the index entry.
func (b *RedisBackend) Save(ctx context.Context, rec *model.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key(rec.ID), data, b.cfg.TTL)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{
		Score:  float64(rec.StartedAt.UnixNano()),
		Member: rec.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return tferrors.Wrap(err, tferrors.CodeNetwork, "failed to save run record to Redis")
	}
	return nil
}

// List reads the newest runs. Index entries whose record expired are
// dropped from the index.
func (b *RedisBackend) List(ctx context.Context, limit int) ([]model.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := b.client.ZRevRange(ctx, b.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeNetwork, "failed to list runs from Redis")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.key(id)
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeNetwork, "failed to load runs from Redis")
	}

	var recs []model.RunRecord
	var expired []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var rec model.RunRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	if len(expired) > 0 {
		b.client.ZRem(ctx, b.indexKey(), expired...)
	}

	newestFirst(recs)
	return recs, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
