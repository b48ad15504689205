package store

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/credpool/credential"
)

// DefaultRedisPrefix 默认 key 前缀
const DefaultRedisPrefix = "credpool"

// RedisStore 用 <prefix>:usage 和 <prefix>:status 两个 key 保存快照
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ credential.Store = (*RedisStore)(nil)

// NewRedisStore 创建 Redis 后端
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) usageKey() string  { return s.prefix + ":usage" }
func (s *RedisStore) statusKey() string { return s.prefix + ":status" }

func (s *RedisStore) Load(ctx context.Context) (*credential.Snapshot, error) {
	snap := credential.NewSnapshot()

	vals, err := s.client.MGet(ctx, s.usageKey(), s.statusKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	targets := []any{&snap.Usage, &snap.Status}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok || str == "" {
			continue
		}
		if err := json.Unmarshal([]byte(str), targets[i]); err != nil {
			return nil, fmt.Errorf("decode redis snapshot: %w", err)
		}
	}
	return snap.Normalize(), nil
}

// Save 两个 key 在同一个 MULTI/EXEC 中写入
func (s *RedisStore) Save(ctx context.Context, snap *credential.Snapshot) error {
	usage, err := json.Marshal(snap.Usage)
	if err != nil {
		return err
	}
	status, err := json.Marshal(snap.Status)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.usageKey(), usage, 0)
		pipe.Set(ctx, s.statusKey(), status, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}
