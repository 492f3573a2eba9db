package knowledge

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	VersionKey   = "rag:index:version"
	UpdatedAtKey = "rag:index:updated_at"
)

// VersionMarker records that the shared index changed so other processes can
// tell a stale view from a fresh one.
type VersionMarker interface {
	Bump(ctx context.Context, at time.Time) (int64, error)
	Clear(ctx context.Context) error
	Read(ctx context.Context) (int64, *time.Time, error)
}

type RedisMarker struct {
	rdb *redis.Client
}

func NewRedisMarker(rdb *redis.Client) *RedisMarker {
	return &RedisMarker{rdb: rdb}
}

func (m *RedisMarker) Bump(ctx context.Context, at time.Time) (int64, error) {
	pipe := m.rdb.TxPipeline()
	incr := pipe.Incr(ctx, VersionKey)
	pipe.Set(ctx, UpdatedAtKey, at.UTC().Format(time.RFC3339Nano), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (m *RedisMarker) Clear(ctx context.Context) error {
	return m.rdb.Del(ctx, VersionKey, UpdatedAtKey).Err()
}

func (m *RedisMarker) Read(ctx context.Context) (int64, *time.Time, error) {
	vals, err := m.rdb.MGet(ctx, VersionKey, UpdatedAtKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	var version int64
	if s, ok := vals[0].(string); ok {
		version, _ = strconv.ParseInt(s, 10, 64)
	}
	var updatedAt *time.Time
	if s, ok := vals[1].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			updatedAt = &t
		}
	}
	return version, updatedAt, nil
}
