package p2p

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNodeCtx is a minimal NodeCtx double letting the Connection state
// machine be exercised without a real node event loop.
type fakeNodeCtx struct {
	self     Peer
	networks []NetworkID
	full     *HandlerTable
	pre      *HandlerTable
	dedup    *Dedup
	metrics  Metrics
	cfg      Config

	mu         sync.Mutex
	established []Peer
}

func newFakeNodeCtx(self Peer) *fakeNodeCtx {
	return &fakeNodeCtx{
		self:  self,
		full:  NewHandlerTable(),
		pre:   NewHandlerTable(),
		dedup: NewDedup(),
	}
}

func (f *fakeNodeCtx) LocalPeer() Peer                     { return f.self }
func (f *fakeNodeCtx) JoinedNetworks() []NetworkID          { return f.networks }
func (f *fakeNodeCtx) FullHandlerTable() *HandlerTable      { return f.full }
func (f *fakeNodeCtx) PreHandshakeHandlerTable() *HandlerTable { return f.pre }
func (f *fakeNodeCtx) Dedup() *Dedup                        { return f.dedup }
func (f *fakeNodeCtx) Metrics() *Metrics                    { return &f.metrics }
func (f *fakeNodeCtx) Config() Config                       { return f.cfg }
func (f *fakeNodeCtx) TransferLogger() TransferLogger       { return noopTransferLogger{} }
func (f *fakeNodeCtx) OnHandshakeComplete(conn *Connection, peer Peer, networks []NetworkID, initiator bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.established = append(f.established, peer)
}

func (f *fakeNodeCtx) sawHandshake() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.established) > 0
}

// TestE1HandshakeThenPing exercises testable scenario E1: two nodes
// handshake, transition to Established, and exchange a Ping/Pong.
func TestE1HandshakeThenPing(t *testing.T) {
	aSide, bSide := net.Pipe()

	aCtx := newFakeNodeCtx(Peer{ID: NodeID(0x01), Type: PeerTypeNode})
	bCtx := newFakeNodeCtx(Peer{ID: NodeID(0x02), Type: PeerTypeNode})

	pongCh := make(chan struct{}, 1)
	aCtx.full.OnResponse(RespPong, func(peer *Peer, payload []byte) error {
		pongCh <- struct{}{}
		return nil
	})
	bCtx.full.OnRequest(ReqPing, func(peer *Peer, payload []byte) error {
		return nil
	})

	connA := NewConnection(aSide, aCtx, true)
	connB := NewConnection(bSide, bCtx, false)

	connA.Start()
	connB.Start()

	waitFor(t, func() bool { return connA.Status() == StatusEstablished })
	waitFor(t, func() bool { return connB.Status() == StatusEstablished })

	require.True(t, aCtx.sawHandshake())
	require.True(t, bCtx.sawHandshake())

	remoteAtA := connA.Remote()
	require.NotNil(t, remoteAtA)
	assert.Equal(t, NodeID(0x02), remoteAtA.ID)

	remoteAtB := connB.Remote()
	require.NotNil(t, remoteAtB)
	assert.Equal(t, NodeID(0x01), remoteAtB.ID)

	require.NoError(t, connA.SendMessage(MsgPing, nil))
	require.NoError(t, connB.SendMessage(MsgPong, nil))

	select {
	case <-pongCh:
	case <-time.After(2 * time.Second):
		t.Fatal("A never observed a Pong response")
	}

	waitFor(t, func() bool { return connA.Latency() > 0 })
	assert.Greater(t, connA.Latency(), time.Duration(0), "A's last_latency_measured must be set after Ping/Pong")

	connA.Close()
	connB.Close()
}

// TestUnestablishedConnectionRejectsNonHandshakeTraffic covers the
// handshake gate: a protocol message before Established closes the
// connection as an UnwantedMessage.
func TestUnestablishedConnectionRejectsNonHandshakeTraffic(t *testing.T) {
	aSide, bSide := net.Pipe()
	defer aSide.Close()
	defer bSide.Close()

	ctx := newFakeNodeCtx(Peer{ID: NodeID(0x09), Type: PeerTypeNode})
	conn := NewConnection(bSide, ctx, false)
	conn.Start()

	_, err := aSide.Write(Frame(EncodeEnvelope(MsgPing, nil)))
	require.NoError(t, err)

	waitFor(t, func() bool { return conn.Status() == StatusClosed })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
