package p2p

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// defaultDedupCapacity is the fallback ring size for callers that
// construct a Dedup directly (tests, mainly); production nodes get
// their capacity from Config.DedupCapacity instead. spec.md §4.6
// frames 1024-32768 as the configurable default band, not a fixed
// constant, so the capacity bound lives on the instance (property 9:
// memory use is bounded regardless of message volume, whatever that
// bound is configured to).
const defaultDedupCapacity = 1 << 14

// Dedup is a bounded FIFO ring of broadcast message fingerprints. A
// BroadcastedMessage is only ever relayed once per node (spec.md §4.6):
// Seen both tests and records a fingerprint atomically, so a message
// racing in on two connections at once is only accepted by one caller.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	set      map[uint64]struct{}
	order    []uint64
	head     int
}

// NewDedup returns an empty ring at the default capacity.
func NewDedup() *Dedup {
	return NewDedupWithCapacity(defaultDedupCapacity)
}

// NewDedupWithCapacity returns an empty ring bounded at capacity
// fingerprints, per Config.DedupCapacity.
func NewDedupWithCapacity(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &Dedup{
		capacity: capacity,
		set:      make(map[uint64]struct{}, capacity),
		order:    make([]uint64, 0, capacity),
	}
}

// Fingerprint hashes a broadcasted payload down to the 64-bit key the ring
// tracks; xxhash64 gives a fast, well-distributed, non-cryptographic
// digest, which is all dedup needs since the cost of a collision is a
// spurious drop of a legitimate rebroadcast, not a security property.
func Fingerprint(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// Seen reports whether fp has already been recorded, recording it if not.
// It returns true ("already seen, drop it") on the second and later call
// with the same fingerprint, and false ("first time, relay it") on the
// first — matching property 10, that the first occurrence of a
// fingerprint is always relayed and subsequent ones never are.
func (d *Dedup) Seen(fp uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.set[fp]; ok {
		return true
	}

	if len(d.order) < d.capacity {
		d.order = append(d.order, fp)
	} else {
		evict := d.order[d.head]
		delete(d.set, evict)
		d.order[d.head] = fp
		d.head = (d.head + 1) % d.capacity
	}
	d.set[fp] = struct{}{}
	return false
}

// Len reports how many fingerprints are currently tracked.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.set)
}
