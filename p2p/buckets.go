package p2p

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	mrand "math/rand"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set"
)

// bucketCount and bucketSize mirror the Kademlia shape klaytn's discovery
// table uses (networks/p2p/discover/table.go): one bucket per bit of XOR
// distance from the local ID, each holding up to bucketSize peers, oldest
// (least recently seen) first so a full bucket evicts its least-recently-
// active member rather than the newcomer.
const (
	bucketCount = 256 // bits in the sha256 distance hash
	bucketSize  = 16
)

// distanceHash maps a NodeID onto a wide hash space so bucket index is a
// property of the hash, not of raw numeric proximity — following the
// teacher's approach of hashing node identities before taking XOR distance
// (table.go computes sha of the encoded pubkey, not the id itself).
func distanceHash(id NodeID) [32]byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(id >> (56 - 8*i))
	}
	return sha256.Sum256(b[:])
}

// logdist returns the index of the highest bit at which a and b differ,
// i.e. the bucket index under Kademlia XOR distance. Ported from the same
// bit-counting idiom as the teacher's logdist (p2p/discover/table.go).
func logdist(a, b [32]byte) int {
	lz := 0
	for i := range a {
		x := a[i] ^ b[i]
		if x == 0 {
			lz += 8
			continue
		}
		for x&0x80 == 0 {
			lz++
			x <<= 1
		}
		break
	}
	return 256 - lz
}

type bucketEntry struct {
	peer Peer
}

type bucket struct {
	entries []bucketEntry // ordered oldest-first
}

// Registry tracks known peers bucketed by XOR distance from the local
// node's identity, plus which NetworkIDs each peer has joined. It is the
// C4 component of the design: FindNode lookups and GetPeers responses
// both read through it.
type Registry struct {
	mu      sync.RWMutex
	self    NodeID
	selfHash [32]byte
	buckets [bucketCount]*bucket

	// networks maps a NetworkID to the set of NodeIDs that have joined it
	// (spec.md §4.4 JoinNetwork/LeaveNetwork). golang-set gives cheap
	// membership tests and union/difference if catch-up logic ever needs
	// to compare network rosters.
	networks map[NetworkID]mapset.Set

	banned map[NodeID]bool
	// bannedAddrs mirrors banned by network address rather than NodeID, so
	// a dial can be refused before a handshake has revealed the remote's
	// identity (spec.md §4.5: "the ban set ... consulted on accept and on
	// outgoing connect"). Populated opportunistically in Ban when the
	// banned id's last-known address is on file; a ban issued for an id
	// this registry has never seen an address for simply isn't dial-
	// gateable and falls back to the post-handshake NodeID check.
	bannedAddrs map[string]bool

	randMu sync.Mutex
	rand   *mrand.Rand // source of randomness for GetRandomNodes, crypto-seeded below
}

// NewRegistry returns an empty registry rooted at self.
func NewRegistry(self NodeID) *Registry {
	r := &Registry{
		self:        self,
		selfHash:    distanceHash(self),
		networks:    make(map[NetworkID]mapset.Set),
		banned:      make(map[NodeID]bool),
		bannedAddrs: make(map[string]bool),
		rand:        mrand.New(mrand.NewSource(0)),
	}
	for i := range r.buckets {
		r.buckets[i] = &bucket{}
	}
	r.seedRand()
	return r
}

// seedRand reseeds the registry's PRNG from crypto/rand, following the
// same seed-math/rand-from-crypto/rand idiom as klaytn's discovery table
// (networks/p2p/discover/table.go's seedRand) rather than trusting
// math/rand's default source for peer-sampling fairness.
func (r *Registry) seedRand() {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return
	}
	r.randMu.Lock()
	r.rand.Seed(int64(binary.BigEndian.Uint64(b[:])))
	r.randMu.Unlock()
}

func (r *Registry) bucketFor(id NodeID) *bucket {
	d := logdist(r.selfHash, distanceHash(id))
	if d >= bucketCount {
		d = bucketCount - 1
	}
	if d < 0 {
		d = 0
	}
	return r.buckets[d]
}

// Add records or refreshes a peer, evicting the least-recently-seen entry
// of a full bucket (spec.md §4.4, property 12: the registry never exceeds
// bucketCount*bucketSize peers and a full bucket drops its oldest member
// on overflow).
func (r *Registry) Add(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.banned[p.ID] {
		return
	}
	b := r.bucketFor(p.ID)
	for i, e := range b.entries {
		if e.peer.ID == p.ID {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			b.entries = append(b.entries, bucketEntry{peer: p})
			return
		}
	}
	if len(b.entries) >= bucketSize {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, bucketEntry{peer: p})
}

// Remove drops a peer from its bucket and every network roster.
func (r *Registry) Remove(id NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bucketFor(id)
	for i, e := range b.entries {
		if e.peer.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}
	for _, set := range r.networks {
		set.Remove(id)
	}
}

// Ban marks id as banned, removing it from the registry; Add silently
// refuses banned ids until Unban is called. If id's last-known address is
// on file, that address is banned too, so a future Connect to the same
// address can be refused before a handshake reveals the dialed peer's
// identity (spec.md §4.5).
func (r *Registry) Ban(id NodeID) {
	r.mu.Lock()
	r.banned[id] = true
	if addr := r.addrOfLocked(id); addr != "" {
		r.bannedAddrs[addr] = true
	}
	r.mu.Unlock()
	r.Remove(id)
}

func (r *Registry) addrOfLocked(id NodeID) string {
	b := r.bucketFor(id)
	for _, e := range b.entries {
		if e.peer.ID == id {
			return e.peer.Addr
		}
	}
	return ""
}

func (r *Registry) Unban(id NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.banned, id)
}

func (r *Registry) IsBanned(id NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.banned[id]
}

// IsBannedAddr reports whether addr was the last-known address of a peer
// that has since been banned — used by Connect to refuse a dial before
// any handshake has happened.
func (r *Registry) IsBannedAddr(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bannedAddrs[addr]
}

// JoinNetwork adds id to the roster of peers that have joined network.
func (r *Registry) JoinNetwork(id NodeID, network NetworkID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.networks[network]
	if !ok {
		set = mapset.NewSet()
		r.networks[network] = set
	}
	set.Add(id)
}

// LeaveNetwork removes id from network's roster, if present.
func (r *Registry) LeaveNetwork(id NodeID, network NetworkID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.networks[network]; ok {
		set.Remove(id)
	}
}

// InNetwork reports whether id has joined network.
func (r *Registry) InNetwork(id NodeID, network NetworkID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.networks[network]
	return ok && set.Contains(id)
}

// Closest returns up to n peers ordered by ascending XOR distance from
// target. No request handler uses it; FindNode responses come from
// GetRandomNodes.
func (r *Registry) Closest(target NodeID, n int) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targetHash := distanceHash(target)
	var all []Peer
	for _, b := range r.buckets {
		for _, e := range b.entries {
			all = append(all, e.peer)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return logdist(targetHash, distanceHash(all[i].ID)) < logdist(targetHash, distanceHash(all[j].ID))
	})
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// GetRandomNodes returns up to count peers chosen uniformly at random
// without replacement, excluding exclude (the requesting sender) and
// keeping only peers whose joined networks intersect networks — an
// empty networks list matches every peer. This backs the random peer
// selection spec.md §4.4 and SPEC_FULL.md C4 require for bootstrap
// GetPeers responses (count=100) and FindNode responses
// (property 12: a uniform sample, never the same deterministic set
// Closest would return).
func (r *Registry) GetRandomNodes(exclude NodeID, count int, networks []NetworkID) []Peer {
	r.mu.RLock()
	var candidates []Peer
	for _, b := range r.buckets {
		for _, e := range b.entries {
			if e.peer.ID == exclude {
				continue
			}
			if len(networks) > 0 && !r.inAnyNetworkLocked(e.peer.ID, networks) {
				continue
			}
			candidates = append(candidates, e.peer)
		}
	}
	r.mu.RUnlock()

	r.randMu.Lock()
	r.rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	r.randMu.Unlock()

	if count < len(candidates) {
		candidates = candidates[:count]
	}
	return candidates
}

// inAnyNetworkLocked reports whether id belongs to any network's roster.
// Must be called with r.mu already held (by GetRandomNodes) — it only
// reads r.networks, taking no lock of its own, since a nested RLock
// risks deadlock against a waiting writer.
func (r *Registry) inAnyNetworkLocked(id NodeID, networks []NetworkID) bool {
	for _, network := range networks {
		if set, ok := r.networks[network]; ok && set.Contains(id) {
			return true
		}
	}
	return false
}

// All returns every peer currently tracked, across all buckets.
func (r *Registry) All() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []Peer
	for _, b := range r.buckets {
		for _, e := range b.entries {
			all = append(all, e.peer)
		}
	}
	return all
}

// Len reports the total number of tracked peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.buckets {
		n += len(b.entries)
	}
	return n
}
