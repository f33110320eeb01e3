package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taiga/internal/config"
	"taiga/internal/dedupe"
)

func dedupeConfig() config.DedupeConfig {
	return config.DedupeConfig{
		Items:        6000,
		Partitions:   4,
		IntervalSize: 1,
	}
}

func TestRedisStoreSaveLoad(t *testing.T) {
	infra := SetupTestInfra(t)

	ctx := context.Background()
	store := dedupe.NewRedisStore(infra.RedisClient)

	require.NoError(t, store.Save(ctx, 0, []byte("partition-zero")))

	data, err := store.Load(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("partition-zero"), data)
}

func TestRedisStoreLoadMissing(t *testing.T) {
	infra := SetupTestInfra(t)

	store := dedupe.NewRedisStore(infra.RedisClient)

	data, err := store.Load(context.Background(), 3)
	require.NoError(t, err, "a missing snapshot is not an error")
	assert.Nil(t, data)
}

func TestFilterSnapshotRoundTripThroughRedis(t *testing.T) {
	infra := SetupTestInfra(t)

	ctx := context.Background()
	store := dedupe.NewRedisStore(infra.RedisClient)
	now := time.Now()

	filter := dedupe.NewFilter(dedupeConfig())
	ids := []string{"doc-a", "doc-b", "doc-c", "doc-d"}
	for _, id := range ids {
		fresh, _ := filter.TestAndInsert(id, now)
		require.True(t, fresh)
	}

	require.NoError(t, filter.Snapshot(ctx, store))

	restored := dedupe.NewFilter(dedupeConfig())
	require.NoError(t, restored.Restore(ctx, store))

	for _, id := range ids {
		fresh, _ := restored.TestAndInsert(id, now)
		assert.False(t, fresh, "id %s must survive the snapshot", id)
	}

	fresh, _ := restored.TestAndInsert("doc-new", now)
	assert.True(t, fresh)
}

func TestCircuitBreakerStorePassthrough(t *testing.T) {
	infra := SetupTestInfra(t)

	ctx := context.Background()
	store := dedupe.NewCircuitBreakerStore(
		dedupe.NewRedisStore(infra.RedisClient),
		config.CircuitBreakerConfig{Enabled: true},
	)

	require.NoError(t, store.Save(ctx, 1, []byte("guarded")))

	data, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("guarded"), data)
	assert.Equal(t, "closed", store.State())
}
