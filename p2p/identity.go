package p2p

import "fmt"

// NodeID is a node's 64-bit identity (spec.md §3). GenerateIdentity
// derives a fresh one on every call and this package does not persist
// it, so a restarted node presents a new NodeID.
type NodeID uint64

func (id NodeID) String() string { return fmt.Sprintf("%016x", uint64(id)) }

// PeerType distinguishes a full node from a bootstrapper, which only
// serves peer discovery and refuses data traffic (spec.md §3, §4.2).
type PeerType int

const (
	PeerTypeNode PeerType = iota
	PeerTypeBootstrapper
)

func (t PeerType) String() string {
	if t == PeerTypeBootstrapper {
		return "bootstrapper"
	}
	return "node"
}

// NetworkID is the 16-bit traffic partition tag a node joins zero or more
// of (spec.md §3).
type NetworkID uint16

// Peer is a remote peer's identity as known to the local node: its stable
// ID, its dial/accept address and its declared role.
type Peer struct {
	ID   NodeID
	Addr string
	Type PeerType
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%s(%s)", p.ID, p.Addr, p.Type)
}
