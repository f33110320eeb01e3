package dedupe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"taiga/internal/logger"
)

// SnapshotStore persists serialized partitions across process lifetimes.
// The filter's contents define dedupe correctness across restarts, so the
// store is written on shutdown and on a periodic timer, and read once at
// startup.
type SnapshotStore interface {
	Save(ctx context.Context, partition int, data []byte) error
	Load(ctx context.Context, partition int) ([]byte, error)
}

// partitionSnapshot is the wire form of one partition. Slot filters are
// the cuckoo library's own encoding; everything else restores the ring
// position.
type partitionSnapshot struct {
	Current   int      `json:"current"`
	SlotStart int64    `json:"slot_start"` // unix nanos, zero when never advanced
	Slots     [][]byte `json:"slots"`
}

// Snapshot serializes every partition through the store. Partitions are
// locked one at a time; message processing on other partitions continues.
func (f *Filter) Snapshot(ctx context.Context, store SnapshotStore) error {
	for i, p := range f.partitions {
		data, err := p.encode()
		if err != nil {
			return fmt.Errorf("failed to encode partition %d: %w", i, err)
		}
		if err := store.Save(ctx, i, data); err != nil {
			return fmt.Errorf("failed to save partition %d: %w", i, err)
		}
	}
	return nil
}

// Restore loads previously snapshotted partitions. A missing snapshot
// (nil data, no error) leaves that partition empty; a corrupt one is an
// error so the operator can decide rather than silently losing dedupe
// history.
func (f *Filter) Restore(ctx context.Context, store SnapshotStore) error {
	for i, p := range f.partitions {
		data, err := store.Load(ctx, i)
		if err != nil {
			return fmt.Errorf("failed to load partition %d: %w", i, err)
		}
		if data == nil {
			continue
		}
		if err := p.decode(data); err != nil {
			return fmt.Errorf("failed to decode partition %d: %w", i, err)
		}
	}
	return nil
}

func (p *partition) encode() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := partitionSnapshot{
		Current: p.current,
		Slots:   make([][]byte, len(p.slots)),
	}
	if !p.slotStart.IsZero() {
		snap.SlotStart = p.slotStart.UnixNano()
	}
	for i, s := range p.slots {
		snap.Slots[i] = s.Encode()
	}

	return json.Marshal(snap)
}

func (p *partition) decode(data []byte) error {
	var snap partitionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if len(snap.Slots) != numIntervals {
		return fmt.Errorf("snapshot has %d slots, want %d", len(snap.Slots), numIntervals)
	}
	if snap.Current < 0 || snap.Current >= numIntervals {
		return fmt.Errorf("snapshot ring position %d out of range", snap.Current)
	}

	slots := make([]*cuckoo.Filter, numIntervals)
	for i, b := range snap.Slots {
		s, err := cuckoo.Decode(b)
		if err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
		slots[i] = s
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = slots
	p.current = snap.Current
	if snap.SlotStart != 0 {
		p.slotStart = time.Unix(0, snap.SlotStart)
	} else {
		p.slotStart = time.Time{}
	}
	return nil
}

// RunSnapshots persists the filter on the configured interval until ctx
// is canceled, then takes one final snapshot so a clean shutdown never
// loses dedupe state.
func (f *Filter) RunSnapshots(ctx context.Context, store SnapshotStore, interval time.Duration, log logger.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := f.Snapshot(ctx, store); err != nil {
				log.Warnw("Dedupe snapshot failed", "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := f.Snapshot(shutdownCtx, store); err != nil {
				log.Errorw("Final dedupe snapshot failed", "error", err)
			}
			cancel()
			return
		}
	}
}
