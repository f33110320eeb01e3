// Package dedupe implements the partitioned, time-windowed
// approximate-membership filter used to detect resubmitted documents.
package dedupe

import (
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"taiga/internal/config"
)

// numIntervals is the ring length of each partition: entries survive for
// numIntervals * interval before their slot is recycled. Duplicate ages
// are reported in whole intervals, so this also bounds the largest
// reportable age.
const numIntervals = 60

// minSlotCapacity keeps tiny configurations from producing degenerate
// filters with unusable false-positive rates.
const minSlotCapacity = 1024

// Filter detects duplicate document identifiers within a rolling time
// window. Identifiers are sharded across partitions by their leading
// character; partitions never coordinate, so concurrent TestAndInsert
// calls for different partitions proceed in parallel.
type Filter struct {
	partitions []*partition
	interval   time.Duration
}

type partition struct {
	mu        sync.Mutex
	slots     []*cuckoo.Filter
	current   int
	slotStart time.Time
	capacity  uint
}

// NewFilter sizes a filter from configuration: cfg.Partitions shards of
// cfg.Items entries each, with cfg.IntervalSize minutes of age
// granularity.
func NewFilter(cfg config.DedupeConfig) *Filter {
	slotCapacity := cfg.Items / numIntervals
	if slotCapacity < minSlotCapacity {
		slotCapacity = minSlotCapacity
	}

	partitions := make([]*partition, cfg.Partitions)
	for i := range partitions {
		p := &partition{
			slots:    make([]*cuckoo.Filter, numIntervals),
			capacity: slotCapacity,
		}
		for j := range p.slots {
			p.slots[j] = cuckoo.NewFilter(slotCapacity)
		}
		partitions[i] = p
	}

	return &Filter{
		partitions: partitions,
		interval:   time.Duration(cfg.IntervalSize) * time.Minute,
	}
}

// TestAndInsert records id as seen at ts. It reports whether the
// identifier is new and, for duplicates, the elapsed time since first
// observation rounded down to the filter's interval granularity.
//
// False positives are an accepted bounded-probability property of the
// underlying structure; identifiers older than the rolling window are
// reported as new again by design.
func (f *Filter) TestAndInsert(id string, ts time.Time) (bool, time.Duration) {
	if id == "" {
		return true, 0
	}

	p := f.partitions[PartitionIndex(id, len(f.partitions))]
	key := []byte(id)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.advance(ts, f.interval)

	for d := 0; d < numIntervals; d++ {
		idx := p.current - d
		if idx < 0 {
			idx += numIntervals
		}
		if p.slots[idx].Lookup(key) {
			return false, time.Duration(d) * f.interval
		}
	}

	p.slots[p.current].Insert(key)
	return true, 0
}

// advance rotates the slot ring forward until slotStart covers ts,
// recycling slots that fell out of the window. Timestamps at or before
// the current slot leave the ring untouched.
func (p *partition) advance(ts time.Time, interval time.Duration) {
	if p.slotStart.IsZero() {
		p.slotStart = ts.Truncate(interval)
		return
	}

	elapsed := ts.Sub(p.slotStart)
	if elapsed < interval {
		return
	}

	steps := int(elapsed / interval)
	if steps >= numIntervals {
		// whole window expired; reset everything
		for i := range p.slots {
			p.slots[i].Reset()
		}
		p.current = 0
		p.slotStart = ts.Truncate(interval)
		return
	}

	for i := 0; i < steps; i++ {
		p.current = (p.current + 1) % numIntervals
		p.slots[p.current].Reset()
		p.slotStart = p.slotStart.Add(interval)
	}
}

// Partitions reports the configured shard count.
func (f *Filter) Partitions() int {
	return len(f.partitions)
}

// Interval is the filter's age granularity.
func (f *Filter) Interval() time.Duration {
	return f.interval
}

// Count reports the number of live entries in one partition, for metrics.
func (f *Filter) Count(partition int) uint {
	p := f.partitions[partition]
	p.mu.Lock()
	defer p.mu.Unlock()

	var n uint
	for _, s := range p.slots {
		n += s.Count()
	}
	return n
}

// PartitionIndex maps an identifier to its partition by treating the
// leading character as a base-62 digit: '0'-'9' as 0-9, 'A'-'Z' as 10-35
// and 'a'-'z' as 36-61, reduced modulo the partition count. The exact
// arithmetic is load-bearing: changing it changes which historical
// duplicates are detected across restarts.
func PartitionIndex(id string, partitions int) int {
	if id == "" || partitions <= 1 {
		return 0
	}

	v := int(id[0]) - '0'
	if v > 9 {
		v -= 7 // skip ':'..'@' so 'A' maps to 10
	}
	if v > 35 {
		v -= 6 // skip '['..'`' so 'a' maps to 36
	}

	v %= partitions
	if v < 0 {
		v += partitions
	}
	return v
}
