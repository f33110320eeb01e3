package dedupe

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taiga/internal/config"
)

func testConfig(partitions int) config.DedupeConfig {
	return config.DedupeConfig{
		Items:        100000,
		Partitions:   partitions,
		IntervalSize: 1,
	}
}

func TestTestAndInsertFreshAndDuplicate(t *testing.T) {
	f := NewFilter(testConfig(4))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	isNew, age := f.TestAndInsert("doc-1", now)
	assert.True(t, isNew)
	assert.Zero(t, age)

	isNew, age = f.TestAndInsert("doc-1", now.Add(30*time.Second))
	assert.False(t, isNew)
	assert.Equal(t, time.Duration(0), age, "same interval rounds to zero age")

	isNew, age = f.TestAndInsert("doc-1", now.Add(3*time.Minute))
	assert.False(t, isNew)
	assert.Equal(t, 3*time.Minute, age)
}

func TestExpiryAfterWindow(t *testing.T) {
	f := NewFilter(testConfig(1))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	isNew, _ := f.TestAndInsert("doc-1", now)
	require.True(t, isNew)

	// past the whole rolling window the identifier reads as new again
	later := now.Add(time.Duration(numIntervals+1) * time.Minute)
	isNew, age := f.TestAndInsert("doc-1", later)
	assert.True(t, isNew)
	assert.Zero(t, age)
}

func TestGradualExpiry(t *testing.T) {
	f := NewFilter(testConfig(1))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	f.TestAndInsert("old-doc", now)

	// keep the ring advancing one interval at a time
	for i := 1; i <= numIntervals; i++ {
		f.TestAndInsert(fmt.Sprintf("filler-%d", i), now.Add(time.Duration(i)*time.Minute))
	}

	isNew, _ := f.TestAndInsert("old-doc", now.Add(time.Duration(numIntervals)*time.Minute))
	assert.True(t, isNew, "entry recycled after its slot left the window")
}

func TestPartitionIndexStable(t *testing.T) {
	for _, id := range []string{"0abc", "9xyz", "Zebra", "apple", "fde1a2", "~odd"} {
		first := PartitionIndex(id, 16)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, PartitionIndex(id, 16))
		}
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 16)
	}
}

func TestPartitionIndexBase62Mapping(t *testing.T) {
	// '0'..'9' -> 0..9, 'A'..'Z' -> 10..35, 'a'..'z' -> 36..61, mod P
	tests := []struct {
		id         string
		partitions int
		want       int
	}{
		{id: "0", partitions: 16, want: 0},
		{id: "9", partitions: 16, want: 9},
		{id: "A", partitions: 16, want: 10},
		{id: "Z", partitions: 16, want: 35 % 16},
		{id: "a", partitions: 16, want: 36 % 16},
		{id: "f", partitions: 16, want: 41 % 16},
		{id: "z", partitions: 16, want: 61 % 16},
		{id: "anything", partitions: 1, want: 0},
		{id: "", partitions: 8, want: 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PartitionIndex(tt.id, tt.partitions), "id %q", tt.id)
	}
}

func TestPartitionsIndependent(t *testing.T) {
	f := NewFilter(testConfig(16))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := fmt.Sprintf("%c-doc-%d", byte('0'+i), j)
				f.TestAndInsert(id, now)
			}
		}(i)
	}
	wg.Wait()

	isNew, _ := f.TestAndInsert("0-doc-0", now)
	assert.False(t, isNew)
}

type memStore struct {
	mu   sync.Mutex
	data map[int][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[int][]byte)}
}

func (s *memStore) Save(_ context.Context, partition int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[partition] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Load(_ context.Context, partition int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[partition], nil
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	f := NewFilter(testConfig(4))
	f.TestAndInsert("doc-1", now)
	f.TestAndInsert("zdoc-2", now.Add(time.Minute))

	store := newMemStore()
	require.NoError(t, f.Snapshot(ctx, store))

	restored := NewFilter(testConfig(4))
	require.NoError(t, restored.Restore(ctx, store))

	isNew, age := restored.TestAndInsert("doc-1", now.Add(2*time.Minute))
	assert.False(t, isNew)
	assert.Equal(t, 2*time.Minute, age)

	isNew, _ = restored.TestAndInsert("zdoc-2", now.Add(2*time.Minute))
	assert.False(t, isNew)

	isNew, _ = restored.TestAndInsert("doc-3", now.Add(2*time.Minute))
	assert.True(t, isNew)
}

func TestRestoreEmptyStoreIsNoop(t *testing.T) {
	f := NewFilter(testConfig(2))
	require.NoError(t, f.Restore(context.Background(), newMemStore()))

	isNew, _ := f.TestAndInsert("doc-1", time.Now())
	assert.True(t, isNew)
}
