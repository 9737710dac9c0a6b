package p2p

import "sync/atomic"

// Metrics is a small set of counters held by one Node (each Node has its
// own instance; there is no process-wide set), tracking the supplemented
// observability feature of SPEC_FULL.md: Prometheus-shaped gauges/counters
// without the export server itself (out of scope per the non-goals, which
// exclude an RPC/metrics-endpoint surface). Counters are plain atomics
// rather than a full metrics library, matching how klaytn's leveldb
// wrapper keeps its own meters local to the component they describe
// rather than reaching for a global registry for every counter.
type Metrics struct {
	ConnectionsAccepted  int64
	ConnectionsDialed    int64
	ConnectionsClosed    int64
	HandshakesCompleted  int64
	MessagesSent         int64
	MessagesReceived     int64
	BroadcastsRelayed    int64
	BroadcastsDropped    int64
	ProtocolErrors       int64
	PeersBanned          int64
	InvalidPacketsReceived int64
}

func (m *Metrics) incr(counter *int64) { atomic.AddInt64(counter, 1) }

func (m *Metrics) Snapshot() Metrics {
	return Metrics{
		ConnectionsAccepted: atomic.LoadInt64(&m.ConnectionsAccepted),
		ConnectionsDialed:   atomic.LoadInt64(&m.ConnectionsDialed),
		ConnectionsClosed:   atomic.LoadInt64(&m.ConnectionsClosed),
		HandshakesCompleted: atomic.LoadInt64(&m.HandshakesCompleted),
		MessagesSent:        atomic.LoadInt64(&m.MessagesSent),
		MessagesReceived:    atomic.LoadInt64(&m.MessagesReceived),
		BroadcastsRelayed:   atomic.LoadInt64(&m.BroadcastsRelayed),
		BroadcastsDropped:   atomic.LoadInt64(&m.BroadcastsDropped),
		ProtocolErrors:      atomic.LoadInt64(&m.ProtocolErrors),
		PeersBanned:         atomic.LoadInt64(&m.PeersBanned),
		InvalidPacketsReceived: atomic.LoadInt64(&m.InvalidPacketsReceived),
	}
}

// Export flattens the counters into a string-keyed map, the shape a real
// exporter (Prometheus or otherwise) would consume — the exporter itself
// stays out of scope, but the hook it would read from does not.
func (m *Metrics) Export() map[string]uint64 {
	s := m.Snapshot()
	return map[string]uint64{
		"connections_accepted":    uint64(s.ConnectionsAccepted),
		"connections_dialed":      uint64(s.ConnectionsDialed),
		"connections_closed":      uint64(s.ConnectionsClosed),
		"handshakes_completed":    uint64(s.HandshakesCompleted),
		"messages_sent":           uint64(s.MessagesSent),
		"messages_received":       uint64(s.MessagesReceived),
		"broadcasts_relayed":      uint64(s.BroadcastsRelayed),
		"broadcasts_dropped":      uint64(s.BroadcastsDropped),
		"protocol_errors":         uint64(s.ProtocolErrors),
		"peers_banned":            uint64(s.PeersBanned),
		"invalid_packets_received": uint64(s.InvalidPacketsReceived),
	}
}

// TransferDirection distinguishes inbound from outbound traffic for
// TransferLogger's sake.
type TransferDirection int

const (
	TransferInbound TransferDirection = iota
	TransferOutbound
)

func (d TransferDirection) String() string {
	if d == TransferOutbound {
		return "outbound"
	}
	return "inbound"
}

// TransferLogger is a narrow per-message observation hook, kept separate
// from Metrics because a future binding may want to route individual
// transfers to a sink (audit log, tracing span) rather than just counting
// them. The default implementation is a no-op; nothing in this package
// depends on a transfer actually being logged anywhere.
type TransferLogger interface {
	LogTransfer(direction TransferDirection, peer NodeID, msgType MessageType, size int)
}

type noopTransferLogger struct{}

func (noopTransferLogger) LogTransfer(TransferDirection, NodeID, MessageType, int) {}
