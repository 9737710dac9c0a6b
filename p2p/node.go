package p2p

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/shardline-network/node/log"
)

// recentDialsCacheSize bounds the duplicate-connect guard: an LRU rather
// than an unbounded map, following the same lru.NewARC idiom the pack's
// consensus backend uses for its peer-message caches
// (consensus/istanbul/backend/backend.go).
const recentDialsCacheSize = 4096

// findNodeSampleSize and bootstrapSampleSize are the two get_random_nodes
// call sites' count arguments (spec.md §4.4: "Bootstrap response uses
// count = 100").
const (
	findNodeSampleSize  = 16
	bootstrapSampleSize = 100
)

// Node is the C5 event-loop component: it owns the listening socket,
// dials out to bootstrap peers, and is the concrete NodeCtx every
// Connection is handed.
type Node struct {
	cfg  Config
	self Peer
	cert tls.Certificate

	registry    *Registry
	dedup       *Dedup
	bans        BanStore
	metrics     Metrics
	transferLog TransferLogger
	log         log.Logger

	preHandlers   *HandlerTable
	fullHandlers  *HandlerTable

	listener net.Listener
	nat      *NATManager

	inboundLimiter *rate.Limiter
	recentDials    *lru.ARCCache

	mu          sync.RWMutex
	networks    map[NetworkID]bool
	connections map[NodeID]*Connection

	handshakeHooksMu sync.Mutex
	handshakeHooks   []func(peer Peer, initiator bool)

	closing chan struct{}
}

// OnHandshake registers a callback invoked after every successful
// handshake, in addition to the registry bookkeeping OnHandshakeComplete
// always performs. The consensus bridge (C7/C8) uses this to drive its
// catch-up request without p2p importing the consensus package.
func (n *Node) OnHandshake(hook func(peer Peer, initiator bool)) {
	n.handshakeHooksMu.Lock()
	defer n.handshakeHooksMu.Unlock()
	n.handshakeHooks = append(n.handshakeHooks, hook)
}

// NewNode constructs a Node ready to Listen and Connect. Callers register
// consensus/application handlers on Full() before calling Listen, since
// the handshake transition swaps straight to that table (spec.md §4.2).
func NewNode(cfg Config, cert tls.Certificate, self Peer, bans BanStore) (*Node, error) {
	dials, err := lru.NewARC(recentDialsCacheSize)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:            cfg,
		self:           self,
		cert:           cert,
		registry:       NewRegistry(self.ID),
		dedup:          NewDedupWithCapacity(cfg.DedupCapacity),
		bans:           bans,
		transferLog:    noopTransferLogger{},
		log:            log.New("node", self.ID),
		preHandlers:    NewHandlerTable(),
		fullHandlers:   NewHandlerTable(),
		inboundLimiter: rate.NewLimiter(rate.Limit(cfg.InboundPerSecond), cfg.InboundBurst),
		recentDials:    dials,
		networks:       make(map[NetworkID]bool),
		connections:    make(map[NodeID]*Connection),
		closing:        make(chan struct{}),
	}

	if bans != nil {
		ids, err := bans.Load()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			n.registry.Ban(id)
		}
	}

	n.installDefaultHandlers()
	return n, nil
}

// Full returns the full post-handshake handler table for the caller
// (typically the consensus bridge, C7) to register onto before Listen.
func (n *Node) Full() *HandlerTable { return n.fullHandlers }

// installDefaultHandlers wires the registry/bucket-maintenance side
// effects that every node needs regardless of what the consensus layer
// registers on top (FindNode/GetPeers/JoinNetwork/LeaveNetwork/Ban/Unban,
// spec.md §4.4).
func (n *Node) installDefaultHandlers() {
	n.fullHandlers.OnRequest(ReqPing, func(peer *Peer, payload []byte) error {
		if peer == nil {
			return nil
		}
		return n.sendTo(peer.ID, MsgPong, nil)
	})

	// FindNode's payload optionally carries a 2-byte NetworkID filter (the
	// same wire shape JoinNetwork/LeaveNetwork use); an absent filter
	// matches every network. The response is a uniform random sample
	// excluding the requester, per get_random_nodes (spec.md §4.4,
	// property 12) — not a deterministic nearest-by-XOR lookup.
	n.fullHandlers.OnRequest(ReqFindNode, func(peer *Peer, payload []byte) error {
		if peer == nil {
			return nil
		}
		var networks []NetworkID
		if len(payload) >= 2 {
			networks = []NetworkID{NetworkID(uint16(payload[0])<<8 | uint16(payload[1]))}
		}
		random := n.registry.GetRandomNodes(peer.ID, findNodeSampleSize, networks)
		return n.sendTo(peer.ID, MsgFindNodeResponse, encodePeerList(random))
	})

	// GetPeers is the bootstrap response path: up to 100 peers sampled
	// uniformly at random across every network, excluding the requester
	// (spec.md §4.4: "Bootstrap response uses count = 100").
	n.fullHandlers.OnRequest(ReqGetPeers, func(peer *Peer, payload []byte) error {
		if peer == nil {
			return nil
		}
		random := n.registry.GetRandomNodes(peer.ID, bootstrapSampleSize, nil)
		return n.sendTo(peer.ID, MsgPeerList, encodePeerList(random))
	})

	n.fullHandlers.OnRequest(ReqJoinNetwork, func(peer *Peer, payload []byte) error {
		if peer == nil || len(payload) < 2 {
			return &ProtocolError{Reason: "join-network payload truncated"}
		}
		network := NetworkID(uint16(payload[0])<<8 | uint16(payload[1]))
		n.registry.JoinNetwork(peer.ID, network)
		return nil
	})

	n.fullHandlers.OnRequest(ReqLeaveNetwork, func(peer *Peer, payload []byte) error {
		if peer == nil || len(payload) < 2 {
			return &ProtocolError{Reason: "leave-network payload truncated"}
		}
		network := NetworkID(uint16(payload[0])<<8 | uint16(payload[1]))
		n.registry.LeaveNetwork(peer.ID, network)
		return nil
	})

	// BanNode/UnbanNode let a trusted peer propagate its own Ban/Unban
	// decision (spec.md E5); propagateBan=false avoids re-broadcasting a
	// ban we only learned about from someone else's broadcast.
	n.fullHandlers.OnRequest(ReqBanNode, func(peer *Peer, payload []byte) error {
		if len(payload) < 8 {
			return &ProtocolError{Reason: "ban-node payload truncated"}
		}
		target := decodeNodeID(payload)
		return n.applyBan(target, false)
	})

	n.fullHandlers.OnRequest(ReqUnbanNode, func(peer *Peer, payload []byte) error {
		if len(payload) < 8 {
			return &ProtocolError{Reason: "unban-node payload truncated"}
		}
		return n.Unban(decodeNodeID(payload))
	})
}

func decodeNodeID(payload []byte) NodeID {
	var id NodeID
	for i := 0; i < 8; i++ {
		id = id<<8 | NodeID(payload[i])
	}
	return id
}

func encodeNodeID(id NodeID) []byte {
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(id)
		id >>= 8
	}
	return out
}

func encodePeerList(peers []Peer) []byte {
	var out []byte
	for _, p := range peers {
		out = append(out, []byte(p.Addr)...)
		out = append(out, 0)
	}
	return out
}

// --- NodeCtx implementation, consumed by Connection ---

func (n *Node) LocalPeer() Peer { return n.self }

func (n *Node) JoinedNetworks() []NetworkID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]NetworkID, 0, len(n.networks))
	for id := range n.networks {
		out = append(out, id)
	}
	return out
}

func (n *Node) FullHandlerTable() *HandlerTable         { return n.fullHandlers }
func (n *Node) PreHandshakeHandlerTable() *HandlerTable { return n.preHandlers }
func (n *Node) Dedup() *Dedup                           { return n.dedup }
func (n *Node) Metrics() *Metrics                       { return &n.metrics }
func (n *Node) Config() Config                          { return n.cfg }
func (n *Node) TransferLogger() TransferLogger          { return n.transferLog }

// SetTransferLogger installs a non-default TransferLogger (e.g. a binding
// that routes transfers to an audit sink); nil restores the no-op default.
func (n *Node) SetTransferLogger(t TransferLogger) {
	if t == nil {
		t = noopTransferLogger{}
	}
	n.transferLog = t
}

// OnHandshakeComplete registers the newly-established peer and connection
// so SendMessage/Broadcast can address it by NodeID, adds it to the
// registry/bucket set and its declared networks, and for the initiating
// side is where a catch-up request against the just-handshaken peer would
// be kicked off (spec.md §4.7; wired by the consensus bridge, not here).
func (n *Node) OnHandshakeComplete(conn *Connection, peer Peer, networks []NetworkID, initiator bool) {
	// spec.md §4.5: the ban set is consulted on accept and on outgoing
	// connect. The remote NodeID isn't known until the Handshake payload
	// is decoded, so for both the acceptor and the initiator this is the
	// earliest point a ban can actually be enforced — a banned peer is
	// never admitted to the live connection set, regardless of which side
	// dialed.
	if n.registry.IsBanned(peer.ID) {
		n.log.Debug("rejecting handshake from banned peer", "peer", peer)
		conn.Close()
		return
	}

	n.registry.Add(peer)
	for _, joined := range networks {
		n.registry.JoinNetwork(peer.ID, joined)
	}

	n.mu.Lock()
	n.connections[peer.ID] = conn
	n.mu.Unlock()

	n.metrics.incr(&n.metrics.HandshakesCompleted)
	n.log.Debug("handshake complete", "peer", peer, "initiator", initiator)

	n.handshakeHooksMu.Lock()
	hooks := append([]func(Peer, bool){}, n.handshakeHooks...)
	n.handshakeHooksMu.Unlock()
	for _, hook := range hooks {
		hook(peer, initiator)
	}
}

// --- lifecycle ---

// Listen opens the TCP listener and begins accepting connections.
func (n *Node) Listen() error {
	l, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return err
	}
	n.listener = l
	go n.acceptLoop()
	return nil
}

func (n *Node) acceptLoop() {
	for {
		raw, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.closing:
				return
			default:
				n.log.Warn("accept failed", "err", err)
				continue
			}
		}
		if !n.inboundLimiter.Allow() {
			n.log.Debug("inbound connection throttled", "addr", raw.RemoteAddr())
			raw.Close()
			continue
		}
		if n.registry.IsBannedAddr(raw.RemoteAddr().String()) {
			n.log.Debug("refusing accept from banned address", "addr", raw.RemoteAddr())
			raw.Close()
			continue
		}
		tlsConn := tls.Server(raw, TLSConfig(n.cert))
		n.metrics.incr(&n.metrics.ConnectionsAccepted)
		conn := NewConnection(tlsConn, n, false)
		conn.Start()
	}
}

// Connect dials addr and performs the handshake as the initiating side
// (spec.md §4.2 E1). It refuses to dial a peer whose address was dialed
// in the last recentDialsCacheSize attempts, collapsing duplicate
// concurrent dial storms to a single in-flight connection.
func (n *Node) Connect(addr string) error {
	if n.registry.IsBannedAddr(addr) {
		return fmt.Errorf("refusing to dial banned address %s", addr)
	}
	if _, dup := n.recentDials.Get(addr); dup {
		return fmt.Errorf("duplicate dial to %s suppressed", addr)
	}
	n.recentDials.Add(addr, struct{}{})

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return &TransportError{Err: err}
	}
	tlsConn := tls.Client(raw, TLSConfig(n.cert))
	n.metrics.incr(&n.metrics.ConnectionsDialed)
	conn := NewConnection(tlsConn, n, true)
	conn.Start()
	return nil
}

// sendTo looks up an established connection by peer ID and sends t.
func (n *Node) sendTo(id NodeID, t MessageType, payload []byte) error {
	n.mu.RLock()
	conn, ok := n.connections[id]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no established connection to %s", id)
	}
	return conn.SendMessage(t, payload)
}

// SendMessage is the public C5 entry point for application/consensus code
// to address a specific peer (spec.md §4.4/§4.7).
func (n *Node) SendMessage(id NodeID, t MessageType, payload []byte) error {
	if err := n.sendTo(id, t, payload); err != nil {
		return err
	}
	n.metrics.incr(&n.metrics.MessagesSent)
	return nil
}

// Broadcast sends payload as a BroadcastedMessage to every established
// peer that has joined network, recording its own fingerprint so a copy
// that loops back is dropped rather than relayed again (spec.md §4.6).
func (n *Node) Broadcast(network NetworkID, payload []byte) {
	n.dedup.Seen(Fingerprint(payload))

	n.mu.RLock()
	defer n.mu.RUnlock()
	for id, conn := range n.connections {
		if !n.registry.InNetwork(id, network) {
			continue
		}
		if err := conn.SendMessage(MsgBroadcastedMessage, payload); err != nil {
			n.log.Debug("broadcast send failed", "peer", id, "err", err)
		}
	}
}

// Ban blacklists id, persists the ban, drops any live connection, and — if
// TrustBans is enabled — asks every other Established peer to do the same
// (spec.md E5).
func (n *Node) Ban(id NodeID) error {
	return n.applyBan(id, n.cfg.TrustBans)
}

func (n *Node) applyBan(id NodeID, propagate bool) error {
	n.registry.Ban(id)
	n.metrics.incr(&n.metrics.PeersBanned)
	n.mu.Lock()
	conn, ok := n.connections[id]
	delete(n.connections, id)
	n.mu.Unlock()
	if ok {
		conn.Close()
	}
	if n.bans != nil {
		if err := n.bans.Put(id); err != nil {
			return err
		}
	}
	if propagate {
		n.broadcastToEstablished(MsgBanNode, encodeNodeID(id))
	}
	return nil
}

func (n *Node) broadcastToEstablished(t MessageType, payload []byte) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for peerID, conn := range n.connections {
		if err := conn.SendMessage(t, payload); err != nil {
			n.log.Debug("propagation send failed", "peer", peerID, "err", err)
		}
	}
}

// Unban reverses Ban.
func (n *Node) Unban(id NodeID) error {
	n.registry.Unban(id)
	if n.bans != nil {
		return n.bans.Delete(id)
	}
	return nil
}

// Close shuts down the listener and every live connection.
func (n *Node) Close() error {
	close(n.closing)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, conn := range n.connections {
		conn.Close()
	}
	return nil
}
