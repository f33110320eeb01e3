package dedupe

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"taiga/internal/constants"
)

// RedisStore keeps partition snapshots in Redis, one key per partition.
// Snapshots carry no TTL: a stale snapshot's entries age out through the
// filter's own ring on restore.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, partition int, data []byte) error {
	key := snapshotKey(partition)
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, partition int) ([]byte, error) {
	key := snapshotKey(partition)
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	return data, nil
}

func snapshotKey(partition int) string {
	return fmt.Sprintf("%s%d", constants.SnapshotKeyPrefix, partition)
}
