package p2p

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shardline-network/node/log"
)

// fallback watchdog tunables used when a NodeCtx reports a zero Config
// (chiefly test doubles) — production nodes get real values from
// Config via NodeCtx.Config().
const (
	fallbackPingInterval            = 30 * time.Second
	fallbackPongTimeout             = 10 * time.Second
	fallbackPongTimeoutsBeforeClose = 3
	fallbackIdleTimeout             = 2 * time.Minute
)

// ConnStatus is the connection state machine of spec.md §4.2:
//
//	[Pre-Handshake] --handshake_ok--> [Established] --close_req--> [Closing] --drained--> [Closed]
type ConnStatus int32

const (
	StatusPreHandshake ConnStatus = iota
	StatusEstablished
	StatusClosing
	StatusClosed
)

func (s ConnStatus) String() string {
	switch s {
	case StatusPreHandshake:
		return "pre-handshake"
	case StatusEstablished:
		return "established"
	case StatusClosing:
		return "closing"
	default:
		return "closed"
	}
}

// NodeCtx is the set of node-level services a Connection needs to serve a
// handshake and dispatch post-handshake traffic, injected so conn.go never
// imports the node event loop directly (spec.md §9 design note: avoid a
// cyclic Connection<->Node dependency by handing the connection a narrow
// capability interface instead of the whole node).
type NodeCtx interface {
	LocalPeer() Peer
	JoinedNetworks() []NetworkID
	FullHandlerTable() *HandlerTable
	PreHandshakeHandlerTable() *HandlerTable
	OnHandshakeComplete(conn *Connection, peer Peer, networks []NetworkID, initiator bool)
	Dedup() *Dedup
	Metrics() *Metrics
	Config() Config
	TransferLogger() TransferLogger
}

// Connection owns one TLS socket from Pre-Handshake through Closed. Read
// and write each run on their own goroutine, following the teacher's
// read/write-loop split (eth/peer.go) rather than the mio/rustls
// poll-driven reactor of the original implementation — Go's netpoller
// already multiplexes the blocking Read, so a second goroutine per
// connection is the idiomatic translation, not a performance compromise.
type Connection struct {
	conn      net.Conn
	framer    *Framer
	ctx       NodeCtx
	initiator bool

	status int32 // ConnStatus, accessed atomically

	handlers atomic.Value // *HandlerTable

	remoteMu sync.RWMutex
	remote   *Peer // nil until handshake completes

	sendCh chan []byte
	closed chan struct{}
	once   sync.Once

	// Watchdog state (spec.md §3/§5): last-seen/last-ping timestamps,
	// measured latency and the consecutive-pong-timeout counter are all
	// accessed from both the read loop (updateLastSeen, recordPong) and
	// the watchdog goroutine (sendPing), hence atomics rather than a
	// mutex shared with the hot read path.
	lastSeenNano        int64
	lastPingNano        int64
	lastPongNano        int64
	latencyNano         int64
	consecutiveTimeouts int32

	pingInterval  time.Duration
	pongTimeout   time.Duration
	maxTimeouts   int
	idleTimeout   time.Duration

	log log.Logger
}

// NewConnection wraps an already-accepted-or-dialed connection — in
// production always a *tls.Conn, but accepted here as the net.Conn
// interface so the framing and handshake state machine can be exercised
// against an in-memory net.Pipe in tests without standing up real TLS.
// The caller decides whether this side initiated the dial; that
// determines whether the local side sends the first Handshake (initiator)
// or only replies to one (acceptor), per spec.md §4.2's E1 walkthrough.
func NewConnection(conn net.Conn, ctx NodeCtx, initiator bool) *Connection {
	cfg := ctx.Config()
	c := &Connection{
		conn:         conn,
		framer:       NewFramer(),
		ctx:          ctx,
		initiator:    initiator,
		sendCh:       make(chan []byte, 256),
		closed:       make(chan struct{}),
		pingInterval: orDuration(cfg.PingInterval, fallbackPingInterval),
		pongTimeout:  orDuration(cfg.PongTimeout, fallbackPongTimeout),
		maxTimeouts:  cfg.PongTimeoutsBeforeClose,
		idleTimeout:  orDuration(cfg.IdleTimeout, fallbackIdleTimeout),
		log:          log.New("remote", conn.RemoteAddr()),
	}
	if c.maxTimeouts <= 0 {
		c.maxTimeouts = fallbackPongTimeoutsBeforeClose
	}
	c.handlers.Store(ctx.PreHandshakeHandlerTable())
	c.updateLastSeen()
	return c
}

func orDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Status returns the connection's current lifecycle state.
func (c *Connection) Status() ConnStatus { return ConnStatus(atomic.LoadInt32(&c.status)) }

func (c *Connection) setStatus(s ConnStatus) { atomic.StoreInt32(&c.status, int32(s)) }

// Remote returns the handshaken peer identity, or nil pre-handshake.
func (c *Connection) Remote() *Peer {
	c.remoteMu.RLock()
	defer c.remoteMu.RUnlock()
	return c.remote
}

// Start launches the read, write and watchdog loops and, for the
// initiating side, sends the opening Handshake (spec.md E1: "A sends
// Handshake(A, netsA)").
func (c *Connection) Start() {
	go c.writeLoop()
	if c.initiator {
		c.sendHandshake()
	}
	go c.readLoop()
	go c.watchdogLoop()
}

// LastSeen returns the time of the most recently processed inbound
// frame (spec.md §3's "last-seen timestamp").
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastSeenNano))
}

// Latency returns the most recently measured round-trip Ping/Pong time
// (spec.md §3's "measured latency"), or zero if no Pong has ever been
// observed.
func (c *Connection) Latency() time.Duration {
	return time.Duration(atomic.LoadInt64(&c.latencyNano))
}

func (c *Connection) updateLastSeen() {
	atomic.StoreInt64(&c.lastSeenNano, time.Now().UnixNano())
}

// watchdogLoop implements spec.md §5's "Cancellation / timeouts": a Ping
// fires every pingInterval; if the previous Ping never got a Pong within
// pongTimeout that's a soft error (consecutiveTimeouts increments), and
// maxTimeouts consecutive misses closes the connection. The same tick
// also runs the idle sweep, closing a connection that has seen no
// traffic of any kind for idleTimeout.
func (c *Connection) watchdogLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if c.Status() != StatusEstablished {
				continue
			}
			if time.Since(c.LastSeen()) > c.idleTimeout {
				c.log.Debug("idle timeout, closing connection", "idle", c.idleTimeout)
				c.Close()
				return
			}
			if c.pongOutstanding() {
				if time.Since(time.Unix(0, atomic.LoadInt64(&c.lastPingNano))) < c.pongTimeout {
					continue
				}
				n := atomic.AddInt32(&c.consecutiveTimeouts, 1)
				c.log.Debug("pong timeout", "consecutive", n)
				if int(n) >= c.maxTimeouts {
					c.log.Debug("too many pong timeouts, closing connection")
					c.Close()
					return
				}
			}
			c.sendPing()
		}
	}
}

// pongOutstanding reports whether the last Ping this connection sent
// has gone unanswered — i.e. no Pong has arrived since it was sent. The
// watchdog checks it once per tick, so a missed Pong is counted at the
// first tick at least pongTimeout after the Ping; until then no new Ping
// is sent.
func (c *Connection) pongOutstanding() bool {
	ping := atomic.LoadInt64(&c.lastPingNano)
	if ping == 0 {
		return false
	}
	return atomic.LoadInt64(&c.lastPongNano) < ping
}

func (c *Connection) sendPing() {
	if err := c.SendMessage(MsgPing, nil); err != nil {
		c.log.Debug("ping send failed", "err", err)
	}
}

// recordPong stamps the last-pong timestamp, derives latency from the
// outstanding Ping (if any) and resets the consecutive-timeout counter
// — testable scenario E1 requires the latency measurement be set after
// a Ping/Pong round trip.
func (c *Connection) recordPong() {
	now := time.Now()
	atomic.StoreInt64(&c.lastPongNano, now.UnixNano())
	if ping := atomic.LoadInt64(&c.lastPingNano); ping != 0 {
		atomic.StoreInt64(&c.latencyNano, now.UnixNano()-ping)
	}
	atomic.StoreInt32(&c.consecutiveTimeouts, 0)
}

func (c *Connection) sendHandshake() {
	h := HandshakePayload{
		ID:       c.ctx.LocalPeer().ID,
		Type:     c.ctx.LocalPeer().Type,
		Networks: c.ctx.JoinedNetworks(),
	}
	c.enqueue(EncodeEnvelope(MsgHandshake, EncodeHandshake(h)))
}

// SendMessage frames and queues one protocol message. It is safe to call
// from any goroutine; enqueue never blocks indefinitely on a stalled peer
// because the send channel is bounded and a full channel is treated as a
// transport error closing the connection, matching the original's
// backpressure-as-failure behavior for a peer that cannot keep up.
func (c *Connection) SendMessage(t MessageType, payload []byte) error {
	if c.Status() == StatusClosed || c.Status() == StatusClosing {
		return &TransportError{Err: errClosed}
	}
	if t == MsgPing {
		atomic.StoreInt64(&c.lastPingNano, time.Now().UnixNano())
	}
	if err := c.enqueue(EncodeEnvelope(t, payload)); err != nil {
		return err
	}
	c.ctx.Metrics().incr(&c.ctx.Metrics().MessagesSent)
	if peer := c.Remote(); peer != nil {
		c.ctx.TransferLogger().LogTransfer(TransferOutbound, peer.ID, t, len(payload))
	}
	return nil
}

func (c *Connection) enqueue(pkt []byte) error {
	select {
	case c.sendCh <- Frame(pkt):
		return nil
	default:
		c.Close()
		return &TransportError{Err: errSendBufferFull}
	}
}

// Close transitions the connection to Closing, tears down the socket and
// then marks it Closed; the read, write and watchdog loops observe the
// closed channel (or the failed socket) and exit.
func (c *Connection) Close() {
	c.once.Do(func() {
		c.setStatus(StatusClosing)
		close(c.closed)
		c.conn.Close()
		c.setStatus(StatusClosed)
		c.ctx.Metrics().incr(&c.ctx.Metrics().ConnectionsClosed)
	})
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.sendCh:
			if _, err := c.conn.Write(frame); err != nil {
				c.log.Debug("write failed, closing connection", "err", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) readLoop() {
	defer c.Close()
	buf := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.log.Debug("read failed, closing connection", "err", err)
			return
		}
		frames, err := c.framer.Feed(buf[:n])
		if err != nil {
			c.log.Debug("framing error, closing connection", "err", err)
			c.ctx.Metrics().incr(&c.ctx.Metrics().ProtocolErrors)
			return
		}
		for _, frame := range frames {
			if err := c.handleFrame(frame); err != nil {
				c.log.Debug("handling error", "err", err)
				if _, protoErr := err.(*ProtocolError); protoErr {
					c.ctx.Metrics().incr(&c.ctx.Metrics().ProtocolErrors)
				}
				if _, unwanted := err.(*UnwantedMessageError); unwanted || c.Status() == StatusClosed {
					return
				}
			}
		}
	}
}

func (c *Connection) handleFrame(frame []byte) error {
	t, payload, err := DecodeEnvelope(frame)
	if err != nil {
		return err
	}

	c.updateLastSeen()
	c.ctx.Metrics().incr(&c.ctx.Metrics().MessagesReceived)
	if peer := c.Remote(); peer != nil {
		c.ctx.TransferLogger().LogTransfer(TransferInbound, peer.ID, t, len(payload))
	}

	table := c.handlers.Load().(*HandlerTable)

	if t == MsgHandshake {
		return c.handleHandshake(table, payload)
	}

	if c.Status() != StatusEstablished {
		return &UnwantedMessageError{Reason: "message before handshake: " + string(t)}
	}

	return c.dispatchEstablished(table, t, payload)
}

// handleHandshake implements spec.md §4.2's dual role of the Handshake
// message: on the acceptor side this is the request that completes the
// peer's handshake and triggers our own reply; on the initiator side this
// is the response that completes ours. Both sides run the same state
// transition and registry update; the wire-category split only affects
// which HandlerTable chain observers are invoked through, a cosmetic
// distinction the original's NetworkRequest/NetworkResponse enum makes
// that this design keeps mostly for symmetry with the handler-chain API
// rather than because the two sides behave differently.
func (c *Connection) handleHandshake(table *HandlerTable, payload []byte) error {
	if c.Status() == StatusEstablished {
		return &UnwantedMessageError{Reason: "duplicate handshake after establishment"}
	}

	h, err := DecodeHandshake(payload)
	if err != nil {
		// A malformed handshake is a protocol error that closes the
		// connection (see ProtocolError).
		c.Close()
		return err
	}

	peer := Peer{ID: h.ID, Addr: c.conn.RemoteAddr().String(), Type: h.Type}

	c.remoteMu.Lock()
	c.remote = &peer
	c.remoteMu.Unlock()

	if !c.initiator {
		// We are the acceptor: this was the peer's opening handshake
		// (a "request" per spec.md §9's dispatch table). Reply with our
		// own before flipping to Established, matching E1's ordering.
		if err := table.DispatchRequest(ReqHandshake, &peer, payload); err != nil {
			c.log.Debug("handshake request handler chain error", "err", err)
		}
		c.sendHandshake()
	} else {
		if err := table.DispatchResponse(RespHandshake, &peer, payload); err != nil {
			c.log.Debug("handshake response handler chain error", "err", err)
		}
	}

	c.setStatus(StatusEstablished)
	c.handlers.Store(c.ctx.FullHandlerTable())
	c.ctx.OnHandshakeComplete(c, peer, h.Networks, c.initiator)
	return nil
}

func (c *Connection) dispatchEstablished(table *HandlerTable, t MessageType, payload []byte) error {
	peer := c.Remote()

	switch t {
	case MsgPing:
		return table.DispatchRequest(ReqPing, peer, payload)
	case MsgPong:
		c.recordPong()
		return table.DispatchResponse(RespPong, peer, payload)
	case MsgFindNode:
		return table.DispatchRequest(ReqFindNode, peer, payload)
	case MsgFindNodeResponse:
		return table.DispatchResponse(RespFindNode, peer, payload)
	case MsgGetPeers:
		return table.DispatchRequest(ReqGetPeers, peer, payload)
	case MsgPeerList:
		return table.DispatchResponse(RespPeerList, peer, payload)
	case MsgJoinNetwork:
		return table.DispatchRequest(ReqJoinNetwork, peer, payload)
	case MsgLeaveNetwork:
		return table.DispatchRequest(ReqLeaveNetwork, peer, payload)
	case MsgBanNode:
		return table.DispatchRequest(ReqBanNode, peer, payload)
	case MsgUnbanNode:
		return table.DispatchRequest(ReqUnbanNode, peer, payload)
	case MsgRetransmit:
		return table.DispatchRequest(ReqRetransmit, peer, payload)
	case MsgDirectMessage:
		if c.ctx.LocalPeer().Type == PeerTypeBootstrapper {
			c.ctx.Metrics().incr(&c.ctx.Metrics().InvalidPacketsReceived)
			return &UnwantedMessageError{Reason: "bootstrapper received data traffic"}
		}
		return table.DispatchPacket(PacketDirect, peer, payload)
	case MsgBroadcastedMessage:
		if c.ctx.LocalPeer().Type == PeerTypeBootstrapper {
			c.ctx.Metrics().incr(&c.ctx.Metrics().InvalidPacketsReceived)
			return &UnwantedMessageError{Reason: "bootstrapper received data traffic"}
		}
		fp := Fingerprint(payload)
		if c.ctx.Dedup().Seen(fp) {
			c.ctx.Metrics().incr(&c.ctx.Metrics().BroadcastsDropped)
			return nil
		}
		c.ctx.Metrics().incr(&c.ctx.Metrics().BroadcastsRelayed)
		return table.DispatchPacket(PacketBroadcasted, peer, payload)
	default:
		if t.IsKnown() {
			return table.DispatchInvalid(peer, payload)
		}
		return table.DispatchUnknown(peer, payload)
	}
}

var (
	errClosed         = &connError{"connection closed"}
	errSendBufferFull = &connError{"send buffer full"}
)

type connError struct{ s string }

func (e *connError) Error() string { return e.s }
