package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"MarketPulse/internal/domain/repository"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache backs the snapshot cache with Redis so the latest observation
// and condition per symbol survive restarts and are readable by other
// processes.
type RedisCache struct {
	cli *redis.Client
}

func NewRedisCache(cfg RedisConfig) *RedisCache {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return &RedisCache{cli: rdb}
}

func (r *RedisCache) GetBytes(key string) ([]byte, bool, error) {
	b, err := r.cli.Get(context.Background(), key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCache) SetBytes(key string, value []byte, ttl time.Duration) error {
	return r.cli.Set(context.Background(), key, value, ttl).Err()
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.cli.Close()
}

var _ repository.SnapshotCache = (*RedisCache)(nil)
